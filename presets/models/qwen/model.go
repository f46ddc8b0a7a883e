// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package qwen

import (
	"time"

	"github.com/sqltune/sqltune/pkg/model"
	"github.com/sqltune/sqltune/pkg/tuning"
	"github.com/sqltune/sqltune/pkg/utils/plugin"
)

func init() {
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     PresetQwen2_5Model,
		Instance: &qwen2_5A,
	})
}

var (
	PresetQwen2_5Model = "qwen2.5"
)

var qwen2_5A qwen2_5

type qwen2_5 struct{}

func (*qwen2_5) GetTuningParameters() *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName:           "Qwen",
		RepoPatterns:              []string{"qwen2.5", "qwen2", "qwen"},
		DiskStorageRequirement:    "100Gi",
		GPUCountRequirement:       "1",
		TotalGPUMemoryRequirement: "24Gi",
		TorchRunParams:            tuning.DefaultAccelerateParams,
		TargetModules:             []string{"q_proj", "k_proj", "v_proj", "o_proj", "gate_proj", "up_proj", "down_proj"},
		EOSToken:                  "<|endoftext|>",
		TrainingTimeout:           time.Duration(3) * time.Hour,
	}
}
func (*qwen2_5) GetModelfileParameters() *model.ModelfileParam {
	return &model.ModelfileParam{
		Stop: []string{"<|endoftext|>", "<|im_end|>"},
	}
}
func (*qwen2_5) SupportTuning() bool {
	return true
}
