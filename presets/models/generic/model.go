// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package generic

import (
	"github.com/sqltune/sqltune/pkg/model"
	"github.com/sqltune/sqltune/pkg/tuning"
	"github.com/sqltune/sqltune/pkg/utils/consts"
	"github.com/sqltune/sqltune/pkg/utils/plugin"
)

func init() {
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     plugin.GenericPresetName,
		Instance: &genericA,
	})
}

var genericA generic

// generic serves base models no other preset matches. Target modules are left
// to the trainer's defaults.
type generic struct{}

func (*generic) GetTuningParameters() *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName:     "Generic",
		GPUCountRequirement: "1",
		TorchRunParams:      tuning.DefaultAccelerateParams,
		EOSToken:            "</s>",
		TrainingTimeout:     consts.DefaultTrainingTimeout,
	}
}
func (*generic) GetModelfileParameters() *model.ModelfileParam {
	return &model.ModelfileParam{
		Stop: []string{"</s>"},
	}
}
func (*generic) SupportTuning() bool {
	return true
}
