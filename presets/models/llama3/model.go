// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package llama3

import (
	"time"

	"github.com/sqltune/sqltune/pkg/model"
	"github.com/sqltune/sqltune/pkg/tuning"
	"github.com/sqltune/sqltune/pkg/utils/plugin"
)

func init() {
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     PresetLlama3_1Model,
		Instance: &llama3_1A,
	})
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     PresetLlama3Model,
		Instance: &llama3A,
	})
}

var (
	PresetLlama3_1Model = "llama-3.1"
	PresetLlama3Model   = "llama-3"

	llamaTargetModules = []string{"q_proj", "k_proj", "v_proj", "o_proj", "gate_proj", "up_proj", "down_proj"}
	llamaStop          = []string{"<|end_of_text|>", "<|eot_id|>", "<|start_header_id|>", "<|end_header_id|>"}
)

var llama3_1A llama3_1

type llama3_1 struct{}

func (*llama3_1) GetTuningParameters() *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName:           "Llama3.1",
		RepoPatterns:              []string{"llama-3.1", "llama3.1", "meta-llama-3.1"},
		DiskStorageRequirement:    "100Gi",
		GPUCountRequirement:       "1",
		TotalGPUMemoryRequirement: "16Gi",
		TorchRunParams:            tuning.DefaultAccelerateParams,
		TargetModules:             llamaTargetModules,
		EOSToken:                  "<|end_of_text|>",
		TrainingTimeout:           time.Duration(3) * time.Hour,
	}
}
func (*llama3_1) GetModelfileParameters() *model.ModelfileParam {
	return &model.ModelfileParam{
		Stop: llamaStop,
		Parameters: map[string]string{
			"temperature": "1.5",
			"min_p":       "0.1",
		},
	}
}
func (*llama3_1) SupportTuning() bool {
	return true
}

var llama3A llama3

type llama3 struct{}

func (*llama3) GetTuningParameters() *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName:           "Llama3",
		RepoPatterns:              []string{"llama-3", "llama3", "meta-llama-3"},
		DiskStorageRequirement:    "100Gi",
		GPUCountRequirement:       "1",
		TotalGPUMemoryRequirement: "16Gi",
		TorchRunParams:            tuning.DefaultAccelerateParams,
		TargetModules:             llamaTargetModules,
		EOSToken:                  "<|end_of_text|>",
		TrainingTimeout:           time.Duration(3) * time.Hour,
	}
}
func (*llama3) GetModelfileParameters() *model.ModelfileParam {
	return &model.ModelfileParam{
		Stop: llamaStop,
	}
}
func (*llama3) SupportTuning() bool {
	return true
}
