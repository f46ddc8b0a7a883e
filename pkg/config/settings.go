// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"k8s.io/klog/v2"
)

const DefaultEnvFile = ".env"

var repoIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Secret holds a credential that must never end up in logs.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "******"
}

func (s Secret) GoString() string { return s.String() }

// Value returns the raw secret.
func (s Secret) Value() string { return string(s) }

// Settings is the application configuration, read from the environment.
type Settings struct {
	// Hugging Face settings
	HFToken    Secret `envconfig:"HF_TOKEN" validate:"required"`
	HFRepoName string `envconfig:"HF_REPO_NAME" validate:"required,repoid"`
	HFEndpoint string `envconfig:"HF_ENDPOINT" default:"https://huggingface.co" validate:"required,httpurl"`

	// Ollama settings
	OllamaHost string `envconfig:"OLLAMA_HOST" validate:"required,httpurl"`

	// Base model settings
	BaseModel    string `envconfig:"BASE_MODEL" default:"unsloth/Llama-3.1-8B-unsloth-bnb-4bit" validate:"required"`
	MaxSeqLength int    `envconfig:"MAX_SEQ_LENGTH" default:"2048" validate:"gt=0"`
	LoadIn4bit   bool   `envconfig:"LOAD_IN_4BIT" default:"true"`
	// EOSToken overrides the end-of-sequence token read from the base model tokenizer.
	EOSToken string `envconfig:"EOS_TOKEN"`

	// Dataset settings
	DatasetName            string `envconfig:"DATASET_NAME" default:"gretelai/synthetic_text_to_sql" validate:"required"`
	DatasetConfig          string `envconfig:"DATASET_CONFIG" default:"default" validate:"required"`
	DatasetSplit           string `envconfig:"DATASET_SPLIT" default:"train" validate:"required"`
	DatasetMaxRows         int    `envconfig:"DATASET_MAX_ROWS" default:"0" validate:"gte=0"`
	DatasetsServerEndpoint string `envconfig:"HF_DATASETS_SERVER" default:"https://datasets-server.huggingface.co" validate:"required,httpurl"`

	// Peft settings
	LoraRank                 int     `envconfig:"LORA_RANK" default:"16" validate:"gt=0"`
	LoraAlpha                int     `envconfig:"LORA_ALPHA" default:"16" validate:"gt=0"`
	LoraDropout              float64 `envconfig:"LORA_DROPOUT" default:"0" validate:"gte=0,lt=1"`
	Bias                     string  `envconfig:"BIAS" default:"none" validate:"oneof=none all lora_only"`
	UseGradientCheckpointing string  `envconfig:"USE_GRADIENT_CHECKPOINTING" default:"unsloth" validate:"oneof=unsloth true false"`
	RandomState              int     `envconfig:"RANDOM_STATE" default:"3407"`
	UseRSLora                bool    `envconfig:"USE_RSLORA" default:"false"`

	// Trainer settings
	PerDeviceTrainBatchSize   int     `envconfig:"PER_DEVICE_TRAIN_BATCH_SIZE" default:"2" validate:"gt=0"`
	GradientAccumulationSteps int     `envconfig:"GRADIENT_ACCUMULATION_STEPS" default:"4" validate:"gt=0"`
	WarmupSteps               int     `envconfig:"WARMUP_STEPS" default:"5" validate:"gte=0"`
	MaxSteps                  int     `envconfig:"MAX_STEPS" default:"60" validate:"gt=0"`
	LearningRate              float64 `envconfig:"LEARNING_RATE" default:"2e-4" validate:"gt=0"`
	LoggingSteps              int     `envconfig:"LOGGING_STEPS" default:"1" validate:"gt=0"`
	Optimizer                 string  `envconfig:"OPTIMIZER" default:"adamw_8bit" validate:"required"`
	WeightDecay               float64 `envconfig:"WEIGHT_DECAY" default:"0.01" validate:"gte=0"`
	LrSchedulerType           string  `envconfig:"LR_SCHEDULER_TYPE" default:"linear" validate:"required"`
	Seed                      int     `envconfig:"SEED" default:"3407"`

	// Export settings
	QuantizationMethod string `envconfig:"QUANTIZATION_METHOD" default:"f16" validate:"oneof=f16 q8_0 q4_k_m q5_k_m"`

	// Trainer runtime settings
	TrainerImage      string `envconfig:"TRAINER_IMAGE" default:"ghcr.io/sqltune/trainer:0.1.0" validate:"required"`
	TrainerCommand    string `envconfig:"TRAINER_COMMAND" default:"accelerate launch" validate:"required"`
	TrainerEntrypoint string `envconfig:"TRAINER_ENTRYPOINT" default:"/workspace/tfs/fine_tuning.py" validate:"required"`
}

// Load reads the optional dotenv files and then the process environment into Settings.
// Values already present in the environment are never overridden by the files.
// With no files given, DefaultEnvFile is read when it exists.
func Load(envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(DefaultEnvFile); err == nil {
			envFiles = []string{DefaultEnvFile}
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("failed to read env files %v: %w", envFiles, err)
		}
		klog.V(2).InfoS("Loaded env files", "files", envFiles)
	}

	s := &Settings{}
	if err := envconfig.Process("", s); err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func newValidator() *validator.Validate {
	validate := validator.New()
	// Report fields by their environment variable name.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name := field.Tag.Get("envconfig"); name != "" {
			return name
		}
		return field.Name
	})
	_ = validate.RegisterValidation("repoid", func(fl validator.FieldLevel) bool {
		return repoIDRegex.MatchString(fl.Field().String())
	})
	_ = validate.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})
	return validate
}

// Validate checks every field and reports all violations in one error.
func (s *Settings) Validate() error {
	err := newValidator().Struct(s)
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}
	msgs := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "repoid":
		return fmt.Sprintf("%s must be of the form owner/name, got %q", fe.Field(), fe.Value())
	case "httpurl":
		return fmt.Sprintf("%s must be an http(s) URL, got %q", fe.Field(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	}
}

// EnvVars returns the non-secret settings as environment variable pairs, as read by Load.
func (s *Settings) EnvVars() map[string]string {
	out := map[string]string{}
	v := reflect.ValueOf(s).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("envconfig")
		if name == "" {
			continue
		}
		if _, secret := v.Field(i).Interface().(Secret); secret {
			continue
		}
		out[name] = fmt.Sprint(v.Field(i).Interface())
	}
	return out
}
