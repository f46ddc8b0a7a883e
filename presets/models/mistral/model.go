// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package mistral

import (
	"time"

	"github.com/sqltune/sqltune/pkg/model"
	"github.com/sqltune/sqltune/pkg/tuning"
	"github.com/sqltune/sqltune/pkg/utils/plugin"
)

func init() {
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     PresetMistralModel,
		Instance: &mistralA,
	})
}

var (
	PresetMistralModel = "mistral"
)

var mistralA mistral7b

type mistral7b struct{}

func (*mistral7b) GetTuningParameters() *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName:           "Mistral",
		RepoPatterns:              []string{"mistral"},
		DiskStorageRequirement:    "100Gi",
		GPUCountRequirement:       "1",
		TotalGPUMemoryRequirement: "16Gi",
		TorchRunParams:            tuning.DefaultAccelerateParams,
		TargetModules:             []string{"q_proj", "k_proj", "v_proj", "o_proj", "gate_proj", "up_proj", "down_proj"},
		EOSToken:                  "</s>",
		TrainingTimeout:           time.Duration(3) * time.Hour,
	}
}
func (*mistral7b) GetModelfileParameters() *model.ModelfileParam {
	return &model.ModelfileParam{
		Stop: []string{"</s>", "[INST]", "[/INST]"},
	}
}
func (*mistral7b) SupportTuning() bool {
	return true
}
