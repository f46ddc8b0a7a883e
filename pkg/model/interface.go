// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package model

import (
	"time"
)

type Model interface {
	GetTuningParameters() *PresetParam
	GetModelfileParameters() *ModelfileParam
	SupportTuning() bool
}

// PresetParam defines the preset tuning parameters for a base model family.
type PresetParam struct {
	ModelFamilyName           string            // The name of the model family.
	RepoPatterns              []string          // Lower-cased fragments of Hugging Face repo ids served by the preset.
	DiskStorageRequirement    string            // Disk storage requirements for the tuning output.
	GPUCountRequirement       string            // Number of GPUs required for the tuning job.
	TotalGPUMemoryRequirement string            // Total GPU memory required for the tuning job.
	TorchRunParams            map[string]string // Parameters for configuring the accelerate launch command.
	TargetModules             []string          // Projection layers the LoRA adapters are injected into.
	EOSToken                  string            // End-of-sequence token used when the tokenizer cannot be read.
	// TrainingTimeout bounds a single training run, including the image pull.
	TrainingTimeout time.Duration
}

// ModelfileParam holds what the Modelfile needs beyond the fine-tuned model name.
type ModelfileParam struct {
	// Template is the Ollama TEMPLATE body without the EOS token, which is appended.
	// Empty means the instruction prompt the trainer formats the dataset with.
	Template   string
	Stop       []string          // Stop sequences, one PARAMETER stop line each.
	Parameters map[string]string // Additional PARAMETER lines.
}
