// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("HF_TOKEN", "hf_secret")
	t.Setenv("HF_REPO_NAME", "acme/llama-sql")
	t.Setenv("OLLAMA_HOST", "http://localhost:11434")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	s, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err, "an explicitly named env file must exist")
	assert.Nil(t, s)

	s, err = Load()
	require.NoError(t, err)

	assert.Equal(t, "hf_secret", s.HFToken.Value())
	assert.Equal(t, "acme/llama-sql", s.HFRepoName)
	assert.Equal(t, "unsloth/Llama-3.1-8B-unsloth-bnb-4bit", s.BaseModel)
	assert.Equal(t, "gretelai/synthetic_text_to_sql", s.DatasetName)
	assert.Equal(t, "train", s.DatasetSplit)
	assert.Equal(t, 2048, s.MaxSeqLength)
	assert.Equal(t, 16, s.LoraRank)
	assert.True(t, s.LoadIn4bit)
	assert.Equal(t, 16, s.LoraAlpha)
	assert.Equal(t, 0.0, s.LoraDropout)
	assert.Equal(t, "none", s.Bias)
	assert.Equal(t, "unsloth", s.UseGradientCheckpointing)
	assert.Equal(t, 3407, s.RandomState)
	assert.False(t, s.UseRSLora)
	assert.Equal(t, 2, s.PerDeviceTrainBatchSize)
	assert.Equal(t, 4, s.GradientAccumulationSteps)
	assert.Equal(t, 5, s.WarmupSteps)
	assert.Equal(t, 60, s.MaxSteps)
	assert.InDelta(t, 2e-4, s.LearningRate, 1e-12)
	assert.Equal(t, 1, s.LoggingSteps)
	assert.Equal(t, "adamw_8bit", s.Optimizer)
	assert.InDelta(t, 0.01, s.WeightDecay, 1e-12)
	assert.Equal(t, "linear", s.LrSchedulerType)
	assert.Equal(t, 3407, s.Seed)
	assert.Equal(t, "f16", s.QuantizationMethod)
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "HF_TOKEN=from_file\nHF_REPO_NAME=acme/from-file\nOLLAMA_HOST=https://ollama.example.com\nLORA_RANK=32\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	// Real environment wins over the file.
	t.Setenv("LORA_RANK", "8")
	for _, key := range []string{"HF_TOKEN", "HF_REPO_NAME", "OLLAMA_HOST"} {
		restore := saveEnv(key)
		defer restore()
		os.Unsetenv(key)
	}

	s, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from_file", s.HFToken.Value())
	assert.Equal(t, "acme/from-file", s.HFRepoName)
	assert.Equal(t, 8, s.LoraRank)
}

func TestLoadValidation(t *testing.T) {
	testcases := map[string]struct {
		env         map[string]string
		expectedErr []string
	}{
		"Missing Token": {
			env:         map[string]string{"HF_TOKEN": ""},
			expectedErr: []string{"HF_TOKEN is required"},
		},
		"Bad Repo Name": {
			env:         map[string]string{"HF_REPO_NAME": "no-owner"},
			expectedErr: []string{"HF_REPO_NAME must be of the form owner/name"},
		},
		"Bad Ollama Host": {
			env:         map[string]string{"OLLAMA_HOST": "localhost:11434"},
			expectedErr: []string{"OLLAMA_HOST must be an http(s) URL"},
		},
		"Zero Rank And Bad Bias": {
			env:         map[string]string{"LORA_RANK": "0", "BIAS": "some"},
			expectedErr: []string{"LORA_RANK must satisfy gt=0", "BIAS must be one of [none all lora_only]"},
		},
		"Dropout Out Of Range": {
			env:         map[string]string{"LORA_DROPOUT": "1.5"},
			expectedErr: []string{"LORA_DROPOUT must satisfy lt=1"},
		},
		"Unknown Quantization": {
			env:         map[string]string{"QUANTIZATION_METHOD": "q2"},
			expectedErr: []string{"QUANTIZATION_METHOD must be one of"},
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			for _, msg := range tc.expectedErr {
				assert.Contains(t, err.Error(), msg)
			}
		})
	}
}

func TestLoadTypeError(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_STEPS", "sixty")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_STEPS")
}

func TestSecretIsMasked(t *testing.T) {
	s := Settings{HFToken: "hf_secret", HFRepoName: "acme/x"}
	assert.NotContains(t, fmt.Sprintf("%v", s), "hf_secret")
	assert.NotContains(t, fmt.Sprintf("%+v", s), "hf_secret")
	assert.NotContains(t, fmt.Sprintf("%#v", s.HFToken), "hf_secret")
	assert.Equal(t, "", Secret("").String())
}

func TestEnvVars(t *testing.T) {
	setRequiredEnv(t)
	s, err := Load()
	require.NoError(t, err)

	vars := s.EnvVars()
	_, hasToken := vars["HF_TOKEN"]
	assert.False(t, hasToken)
	assert.Equal(t, "acme/llama-sql", vars["HF_REPO_NAME"])
	assert.Equal(t, "16", vars["LORA_RANK"])
	assert.Equal(t, "true", vars["LOAD_IN_4BIT"])
	assert.Equal(t, "0.0002", vars["LEARNING_RATE"])
}

// Saves state of current env, and returns function to restore to saved state
func saveEnv(key string) func() {
	envVal, envExists := os.LookupEnv(key)
	return func() {
		if envExists {
			_ = os.Setenv(key, envVal)
		} else {
			_ = os.Unsetenv(key)
		}
	}
}
