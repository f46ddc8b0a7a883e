// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package test

import (
	"time"

	"github.com/sqltune/sqltune/pkg/model"
	"github.com/sqltune/sqltune/pkg/utils/plugin"
)

type baseTestModel struct{}

func (*baseTestModel) GetTuningParameters() *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName:     "test",
		RepoPatterns:        []string{"test-model"},
		GPUCountRequirement: "1",
		TorchRunParams:      map[string]string{"num_processes": "1"},
		TargetModules:       []string{"q_proj", "v_proj"},
		EOSToken:            "</test>",
		TrainingTimeout:     time.Duration(30) * time.Minute,
	}
}
func (*baseTestModel) GetModelfileParameters() *model.ModelfileParam {
	return &model.ModelfileParam{
		Stop: []string{"</test>"},
	}
}
func (*baseTestModel) SupportTuning() bool {
	return true
}

type testModel struct {
	baseTestModel
}

type testNoTuningModel struct {
	baseTestModel
}

func (*testNoTuningModel) GetTuningParameters() *model.PresetParam {
	return &model.PresetParam{
		ModelFamilyName: "test-no-tuning",
		RepoPatterns:    []string{"test-no-tuning"},
	}
}
func (*testNoTuningModel) SupportTuning() bool {
	return false
}

func RegisterTestModel() {
	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     "test-model",
		Instance: &testModel{},
	})

	plugin.PresetRegister.Register(&plugin.Registration{
		Name:     "test-no-tuning-model",
		Instance: &testNoTuningModel{},
	})
}
