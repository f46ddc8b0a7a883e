// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

const (
	DefaultBaseDir          = "/mnt"
	DefaultOutputVolumePath = "/mnt/output"
	DefaultTextField        = "text"
	DefaultReportTo         = "none"
	DefaultCheckpointDir    = "checkpoints"
)

// Config is the document read by the trainer entrypoint.
type Config struct {
	TrainingConfig TrainingConfig `yaml:"training_config"`
}

type TrainingConfig struct {
	ModelConfig       *ModelConfig       `yaml:"ModelConfig"`
	LoraConfig        *LoraConfig        `yaml:"LoraConfig"`
	TrainingArguments *TrainingArguments `yaml:"TrainingArguments"`
	DatasetConfig     *DatasetConfig     `yaml:"DatasetConfig"`
	ExportConfig      *ExportConfig      `yaml:"ExportConfig"`
}

type ModelConfig struct {
	PretrainedModelNameOrPath string `yaml:"pretrained_model_name_or_path"`
	MaxSeqLength              int    `yaml:"max_seq_length"`
	LoadIn4bit                bool   `yaml:"load_in_4bit"`
}

// LoraConfig holds the adapter parameters handed to the PEFT model factory.
type LoraConfig struct {
	R                        int      `yaml:"r"`
	LoraAlpha                int      `yaml:"lora_alpha"`
	LoraDropout              float64  `yaml:"lora_dropout"`
	Bias                     string   `yaml:"bias"`
	UseGradientCheckpointing string   `yaml:"use_gradient_checkpointing"`
	RandomState              int      `yaml:"random_state"`
	UseRSLora                bool     `yaml:"use_rslora"`
	TargetModules            []string `yaml:"target_modules,omitempty"`
}

// TrainingArguments represents the training arguments for the supervised fine-tuning trainer.
type TrainingArguments struct {
	OutputDir                 string  `yaml:"output_dir"`
	PerDeviceTrainBatchSize   int     `yaml:"per_device_train_batch_size"`
	GradientAccumulationSteps int     `yaml:"gradient_accumulation_steps"`
	WarmupSteps               int     `yaml:"warmup_steps"`
	MaxSteps                  int     `yaml:"max_steps"`
	LearningRate              float64 `yaml:"learning_rate"`
	LoggingSteps              int     `yaml:"logging_steps"`
	Optim                     string  `yaml:"optim"`
	WeightDecay               float64 `yaml:"weight_decay"`
	LrSchedulerType           string  `yaml:"lr_scheduler_type"`
	Seed                      int     `yaml:"seed"`
	ReportTo                  string  `yaml:"report_to"`
	// MixedPrecision is "auto": bf16 when the accelerator supports it, fp16 otherwise.
	MixedPrecision string `yaml:"mixed_precision"`
}

type DatasetConfig struct {
	DatasetPath      string `yaml:"dataset_path"`
	DatasetTextField string `yaml:"dataset_text_field"`
}

type ExportConfig struct {
	ModelDir           string `yaml:"model_dir"`
	SaveGGUF           bool   `yaml:"save_gguf"`
	QuantizationMethod string `yaml:"quantization_method"`
	StatsFile          string `yaml:"stats_file"`
}

// TrainingPaths are the locations the trainer reads from and writes to.
type TrainingPaths struct {
	DatasetPath string
	OutputDir   string
	ModelDir    string
	StatsFile   string
}

// NewTrainingConfig maps the settings onto the trainer's configuration sections.
func NewTrainingConfig(s *Settings, paths TrainingPaths, targetModules []string) *Config {
	return &Config{
		TrainingConfig: TrainingConfig{
			ModelConfig: &ModelConfig{
				PretrainedModelNameOrPath: s.BaseModel,
				MaxSeqLength:              s.MaxSeqLength,
				LoadIn4bit:                s.LoadIn4bit,
			},
			LoraConfig: &LoraConfig{
				R:                        s.LoraRank,
				LoraAlpha:                s.LoraAlpha,
				LoraDropout:              s.LoraDropout,
				Bias:                     s.Bias,
				UseGradientCheckpointing: s.UseGradientCheckpointing,
				RandomState:              s.RandomState,
				UseRSLora:                s.UseRSLora,
				TargetModules:            targetModules,
			},
			TrainingArguments: &TrainingArguments{
				OutputDir:                 filepath.Join(paths.OutputDir, DefaultCheckpointDir),
				PerDeviceTrainBatchSize:   s.PerDeviceTrainBatchSize,
				GradientAccumulationSteps: s.GradientAccumulationSteps,
				WarmupSteps:               s.WarmupSteps,
				MaxSteps:                  s.MaxSteps,
				LearningRate:              s.LearningRate,
				LoggingSteps:              s.LoggingSteps,
				Optim:                     s.Optimizer,
				WeightDecay:               s.WeightDecay,
				LrSchedulerType:           s.LrSchedulerType,
				Seed:                      s.Seed,
				ReportTo:                  DefaultReportTo,
				MixedPrecision:            "auto",
			},
			DatasetConfig: &DatasetConfig{
				DatasetPath:      paths.DatasetPath,
				DatasetTextField: DefaultTextField,
			},
			ExportConfig: &ExportConfig{
				ModelDir:           paths.ModelDir,
				SaveGGUF:           true,
				QuantizationMethod: s.QuantizationMethod,
				StatsFile:          paths.StatsFile,
			},
		},
	}
}

// ApplyPaths points every location in the document at the given paths and
// fills the sections a user-supplied document may have left out.
func (c *Config) ApplyPaths(paths TrainingPaths) {
	tc := &c.TrainingConfig
	if tc.TrainingArguments == nil {
		tc.TrainingArguments = &TrainingArguments{ReportTo: DefaultReportTo, MixedPrecision: "auto"}
	}
	tc.TrainingArguments.OutputDir = filepath.Join(paths.OutputDir, DefaultCheckpointDir)
	if tc.DatasetConfig == nil {
		tc.DatasetConfig = &DatasetConfig{DatasetTextField: DefaultTextField}
	}
	tc.DatasetConfig.DatasetPath = paths.DatasetPath
	if tc.ExportConfig == nil {
		tc.ExportConfig = &ExportConfig{SaveGGUF: true}
	}
	tc.ExportConfig.ModelDir = paths.ModelDir
	tc.ExportConfig.StatsFile = paths.StatsFile
}

// Marshal renders the configuration as the trainer's YAML document.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseTrainingConfig parses a trainer YAML document. Unknown sections are rejected.
func ParseTrainingConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse training config: %w", err)
	}
	return &cfg, nil
}

// PrepareOutputDir ensures the output directory is within the base directory.
func PrepareOutputDir(baseDir, outputDir string) (string, error) {
	if baseDir == "" {
		baseDir = DefaultBaseDir
	}
	defaultOutput := filepath.Join(baseDir, "output")
	if outputDir == "" {
		return defaultOutput, nil
	}
	cleanPath := outputDir
	if !strings.HasPrefix(cleanPath, baseDir) {
		cleanPath = filepath.Join(baseDir, outputDir)
	}
	cleanPath = filepath.Clean(cleanPath)
	if cleanPath == baseDir || !strings.HasPrefix(cleanPath, baseDir+string(filepath.Separator)) {
		klog.InfoS("Invalid output_dir specified, using default", "outputDir", outputDir, "default", defaultOutput)
		return defaultOutput, fmt.Errorf("invalid output_dir specified: '%s', must be a directory under %s", outputDir, baseDir)
	}
	return cleanPath, nil
}
