// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package plugin

import (
	"testing"

	"github.com/sqltune/sqltune/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	patterns []string
}

func (m *fakeModel) GetTuningParameters() *model.PresetParam {
	return &model.PresetParam{RepoPatterns: m.patterns}
}
func (m *fakeModel) GetModelfileParameters() *model.ModelfileParam { return &model.ModelfileParam{} }
func (m *fakeModel) SupportTuning() bool                           { return true }

func newRegister(withGeneric bool) *ModelRegister {
	reg := &ModelRegister{}
	reg.Register(&Registration{Name: "llama-3", Instance: &fakeModel{patterns: []string{"llama-3", "llama3"}}})
	reg.Register(&Registration{Name: "llama-3.1", Instance: &fakeModel{patterns: []string{"llama-3.1"}}})
	reg.Register(&Registration{Name: "mistral", Instance: &fakeModel{patterns: []string{"mistral"}}})
	if withGeneric {
		reg.Register(&Registration{Name: GenericPresetName, Instance: &fakeModel{}})
	}
	return reg
}

func TestRegister(t *testing.T) {
	reg := newRegister(false)
	assert.True(t, reg.Has("mistral"))
	assert.False(t, reg.Has("phi-3"))
	assert.Equal(t, []string{"llama-3", "llama-3.1", "mistral"}, reg.ListModelNames())
	assert.NotNil(t, reg.MustGet("mistral"))
	assert.Panics(t, func() { reg.MustGet("phi-3") })
	assert.Panics(t, func() { reg.Register(&Registration{}) })
}

func TestResolve(t *testing.T) {
	tests := map[string]struct {
		baseModel    string
		withGeneric  bool
		expectedName string
		expectErr    bool
	}{
		"longest pattern wins": {
			baseModel:    "unsloth/Llama-3.1-8B-unsloth-bnb-4bit",
			expectedName: "llama-3.1",
		},
		"shorter family pattern": {
			baseModel:    "unsloth/llama-3-8b-bnb-4bit",
			expectedName: "llama-3",
		},
		"case insensitive": {
			baseModel:    "mistralai/Mistral-7B-v0.3",
			expectedName: "mistral",
		},
		"generic fallback": {
			baseModel:    "google/gemma-2-9b",
			withGeneric:  true,
			expectedName: GenericPresetName,
		},
		"no fallback registered": {
			baseModel: "google/gemma-2-9b",
			expectErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			reg := newRegister(tc.withGeneric)
			presetName, m, err := reg.Resolve(tc.baseModel)
			if tc.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.baseModel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedName, presetName)
			assert.NotNil(t, m)
		})
	}
}
