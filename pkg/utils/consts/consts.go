// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package consts

import "time"

const (
	AppName                = "sqltune"
	DefaultNamespaceEnvVar = "SQLTUNE_NAMESPACE"
	DefaultNamespace       = "default"
	GPUString              = "gpu"
	SKUString              = "sku"
	NvidiaGPU              = "nvidia.com/gpu"

	// Feature flags
	FeatureFlagOllamaRegistration = "OllamaRegistration"
	FeatureFlagParallelDataset    = "ParallelDatasetFetch"

	// Files exchanged with the trainer.
	TrainingConfigFileName = "training_config.yaml"
	TrainingDatasetName    = "train.jsonl"
	TrainerStatsFileName   = "trainer_stats.json"
	ModelfileName          = "Modelfile"
	TrainerStatsLogPrefix  = "TRAINER_STATS "

	// Secret/ConfigMap keys used by the kubernetes runner.
	HFTokenSecretKey = "HF_TOKEN"

	DefaultTrainingTimeout = 6 * time.Hour
	JobPollInterval        = 10 * time.Second
)
