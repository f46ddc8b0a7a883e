// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package phi3

import (
	"time"

	"github.com/sqltune/sqltune/pkg/model"
	"github.com/sqltune/sqltune/pkg/tuning"
	"github.com/sqltune/sqltune/pkg/utils/plugin"
)

func init() {
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     PresetPhi3Model,
		Instance: &phi3A,
	})
}

var (
	PresetPhi3Model = "phi-3"
)

var phi3A phi3

type phi3 struct{}

func (*phi3) GetTuningParameters() *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName:           "Phi3",
		RepoPatterns:              []string{"phi-3", "phi3"},
		DiskStorageRequirement:    "80Gi",
		GPUCountRequirement:       "1",
		TotalGPUMemoryRequirement: "16Gi",
		TorchRunParams:            tuning.DefaultAccelerateParams,
		// Phi-3 fuses the attention and MLP projections.
		TargetModules:   []string{"qkv_proj", "o_proj", "gate_up_proj", "down_proj"},
		EOSToken:        "<|endoftext|>",
		TrainingTimeout: time.Duration(2) * time.Hour,
	}
}
func (*phi3) GetModelfileParameters() *model.ModelfileParam {
	return &model.ModelfileParam{
		Stop: []string{"<|end|>", "<|endoftext|>", "<|user|>", "<|assistant|>"},
	}
}
func (*phi3) SupportTuning() bool {
	return true
}
