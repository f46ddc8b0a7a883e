// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package finetune

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"

	"github.com/sqltune/sqltune/api/v1alpha1"
	"github.com/sqltune/sqltune/pkg/config"
	"github.com/sqltune/sqltune/pkg/dataset"
	"github.com/sqltune/sqltune/pkg/featuregates"
	"github.com/sqltune/sqltune/pkg/hub"
	"github.com/sqltune/sqltune/pkg/model"
	"github.com/sqltune/sqltune/pkg/modelfile"
	"github.com/sqltune/sqltune/pkg/ollama"
	"github.com/sqltune/sqltune/pkg/tuning"
	"github.com/sqltune/sqltune/pkg/utils/consts"
	"github.com/sqltune/sqltune/pkg/utils/plugin"
)

// Stage names used in errors and logs.
const (
	StageResolve   = "resolve base model"
	StageDataset   = "prepare dataset"
	StageConfig    = "write training config"
	StageTrain     = "train"
	StageModelfile = "write Modelfile"
	StagePush      = "push to hub"
	StageOllama    = "register with ollama"
)

// StageError names the pipeline stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Result is what a completed run produced.
type Result struct {
	Stats         *tuning.TrainerStats
	PresetName    string
	EOSToken      string
	ModelDir      string
	GGUFFile      string
	ModelfilePath string
	Commit        *hub.CommitInfo
}

// Pipeline runs the fine-tuning stages in order and stops at the first failure.
type Pipeline struct {
	Settings *config.Settings
	Runner   tuning.Runner
	Hub      *hub.Client
	Rows     *dataset.RowsClient
	Ollama   *ollama.Client
	// Out receives the trainer stats. Defaults to os.Stdout.
	Out io.Writer
	// NumProcesses overrides the preset's accelerate process count when positive.
	NumProcesses int
}

// New wires the clients the settings point at.
func New(s *config.Settings, runner tuning.Runner) *Pipeline {
	rows := dataset.NewRowsClient(s.DatasetsServerEndpoint, s.HFToken.Value())
	if !featuregates.Enabled(consts.FeatureFlagParallelDataset) {
		rows.Concurrency = 1
	}
	return &Pipeline{
		Settings: s,
		Runner:   runner,
		Hub:      hub.NewClient(s.HFEndpoint, s.HFToken.Value()),
		Rows:     rows,
		Ollama:   ollama.NewClient(s.OllamaHost),
		Out:      os.Stdout,
	}
}

func (p *Pipeline) out() io.Writer {
	if p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

// Run executes the job. Stage outcomes are recorded as conditions on job.
func (p *Pipeline) Run(ctx context.Context, job *v1alpha1.FineTuneJob) (*Result, error) {
	logger := klog.FromContext(ctx).WithValues("finetunejob", job.Name, "runner", job.Spec.Runner)
	ctx = klog.NewContext(ctx, logger)

	result, err := p.run(ctx, logger, job)
	if err != nil {
		job.SetCondition(v1alpha1.ConditionTypeSucceeded, metav1.ConditionFalse, "StageFailed", err.Error())
		logger.Error(err, "Fine-tune job failed")
		return result, err
	}
	job.SetCondition(v1alpha1.ConditionTypeSucceeded, metav1.ConditionTrue, "Completed", "all requested stages completed")
	logger.Info("Fine-tune job completed", "modelDir", result.ModelDir)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, logger logr.Logger, job *v1alpha1.FineTuneJob) (*Result, error) {
	s := p.Settings
	result := &Result{}

	presetName, preset, err := resolvePreset(s.BaseModel)
	if err != nil {
		return result, &StageError{Stage: StageResolve, Err: err}
	}
	result.PresetName = presetName
	tuningParams := preset.GetTuningParameters()
	logger.Info("Resolved base model", "baseModel", s.BaseModel, "preset", presetName)

	if job.Spec.Runner == v1alpha1.RunnerKubernetes {
		return p.submit(ctx, job, presetName, tuningParams, result)
	}

	eos, err := p.resolveEOS(ctx, tuningParams)
	if err != nil {
		return result, &StageError{Stage: StageResolve, Err: err}
	}
	result.EOSToken = eos

	outputDir, err := filepath.Abs(job.Spec.OutputDir)
	if err != nil {
		return result, &StageError{Stage: StageDataset, Err: err}
	}
	paths := config.TrainingPaths{
		DatasetPath: filepath.Join(outputDir, consts.TrainingDatasetName),
		OutputDir:   outputDir,
		ModelDir:    filepath.Join(outputDir, job.Spec.FineTunedName),
		StatsFile:   filepath.Join(outputDir, consts.TrainerStatsFileName),
	}
	result.ModelDir = paths.ModelDir
	job.Status.ModelDir = paths.ModelDir

	// Dataset
	if err := p.prepareDataset(ctx, paths.DatasetPath, eos); err != nil {
		job.SetCondition(v1alpha1.ConditionTypeDatasetReady, metav1.ConditionFalse, "DatasetFailed", err.Error())
		return result, &StageError{Stage: StageDataset, Err: err}
	}
	job.SetCondition(v1alpha1.ConditionTypeDatasetReady, metav1.ConditionTrue, "DatasetWritten", paths.DatasetPath)

	// Training config
	configPath := filepath.Join(outputDir, consts.TrainingConfigFileName)
	trainingCfg, err := p.writeTrainingConfig(job, configPath, paths, tuningParams)
	if err != nil {
		return result, &StageError{Stage: StageConfig, Err: err}
	}
	quantization := trainingCfg.TrainingConfig.ExportConfig.QuantizationMethod

	// Training
	if err := os.MkdirAll(paths.ModelDir, 0o755); err != nil {
		return result, &StageError{Stage: StageTrain, Err: err}
	}
	if err := removeExports(paths.ModelDir); err != nil {
		return result, &StageError{Stage: StageTrain, Err: err}
	}
	job.SetCondition(v1alpha1.ConditionTypeTrainingJobStatus, metav1.ConditionTrue, "TrainerStarted", "")
	stats, err := p.Runner.Run(ctx, &tuning.Job{
		FineTuneJob:  job,
		Settings:     s,
		PresetName:   presetName,
		Preset:       tuningParams,
		ConfigPath:   configPath,
		Paths:        paths,
		NumProcesses: p.NumProcesses,
	})
	if err != nil {
		job.SetCondition(v1alpha1.ConditionTypeTrainingSucceeded, metav1.ConditionFalse, "TrainerFailed", err.Error())
		return result, &StageError{Stage: StageTrain, Err: err}
	}
	result.Stats = stats
	if err := p.printStats(stats); err != nil {
		return result, &StageError{Stage: StageTrain, Err: err}
	}

	gguf, err := modelfile.LocateGGUF(paths.ModelDir, quantization)
	if err != nil {
		job.SetCondition(v1alpha1.ConditionTypeTrainingSucceeded, metav1.ConditionFalse, "ExportMissing", err.Error())
		return result, &StageError{Stage: StageTrain, Err: err}
	}
	result.GGUFFile = gguf
	job.SetCondition(v1alpha1.ConditionTypeTrainingSucceeded, metav1.ConditionTrue, "ModelExported", gguf)

	// Modelfile
	modelfilePath, err := WriteModelfile(ModelfileOptions{
		FineTunedName:      job.Spec.FineTunedName,
		ModelDir:           paths.ModelDir,
		TemplatePath:       job.Spec.ModelfileTemplate,
		GGUFFile:           gguf,
		QuantizationMethod: quantization,
		EOSToken:           eos,
		Params:             preset.GetModelfileParameters(),
	})
	if err != nil {
		job.SetCondition(v1alpha1.ConditionTypeModelfileReady, metav1.ConditionFalse, "RenderFailed", err.Error())
		return result, &StageError{Stage: StageModelfile, Err: err}
	}
	result.ModelfilePath = modelfilePath
	job.SetCondition(v1alpha1.ConditionTypeModelfileReady, metav1.ConditionTrue, "ModelfileWritten", modelfilePath)

	// Push
	if job.Spec.SkipPush {
		logger.Info("Skipping hub push")
	} else {
		commit, err := p.push(ctx, job, paths.ModelDir, gguf, modelfilePath)
		if err != nil {
			job.SetCondition(v1alpha1.ConditionTypeModelPushed, metav1.ConditionFalse, "PushFailed", err.Error())
			return result, &StageError{Stage: StagePush, Err: err}
		}
		result.Commit = commit
		job.Status.CommitURL = commit.CommitURL
		job.SetCondition(v1alpha1.ConditionTypeModelPushed, metav1.ConditionTrue, "Pushed", commit.CommitURL)
	}

	// Ollama
	if featuregates.Enabled(consts.FeatureFlagOllamaRegistration) {
		if err := p.Ollama.Register(ctx, job.Spec.FineTunedName, paths.ModelDir); err != nil {
			job.SetCondition(v1alpha1.ConditionTypeOllamaRegistered, metav1.ConditionFalse, "RegisterFailed", err.Error())
			return result, &StageError{Stage: StageOllama, Err: err}
		}
		job.SetCondition(v1alpha1.ConditionTypeOllamaRegistered, metav1.ConditionTrue, "Registered", p.Settings.OllamaHost)
	}
	return result, nil
}

// submit hands the whole job to a runner that executes the pipeline elsewhere.
func (p *Pipeline) submit(ctx context.Context, job *v1alpha1.FineTuneJob, presetName string,
	params *model.PresetParam, result *Result) (*Result, error) {
	job.SetCondition(v1alpha1.ConditionTypeTrainingJobStatus, metav1.ConditionTrue, "JobSubmitted", "")
	stats, err := p.Runner.Run(ctx, &tuning.Job{
		FineTuneJob: job,
		Settings:    p.Settings,
		PresetName:  presetName,
		Preset:      params,
	})
	if err != nil {
		job.SetCondition(v1alpha1.ConditionTypeTrainingSucceeded, metav1.ConditionFalse, "JobFailed", err.Error())
		return result, &StageError{Stage: StageTrain, Err: err}
	}
	result.Stats = stats
	job.SetCondition(v1alpha1.ConditionTypeTrainingSucceeded, metav1.ConditionTrue, "JobSucceeded", "")
	outputDir, err := config.PrepareOutputDir(config.DefaultBaseDir, job.Spec.OutputDir)
	if err == nil {
		result.ModelDir = filepath.Join(outputDir, job.Spec.FineTunedName)
		job.Status.ModelDir = result.ModelDir
	}
	fmt.Fprintf(p.out(), "Trainer stats: %s\n", stats)
	return result, nil
}

// removeExports deletes GGUF files an earlier run left in modelDir.
func removeExports(modelDir string) error {
	stale, err := filepath.Glob(filepath.Join(modelDir, "*.gguf"))
	if err != nil {
		return err
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove stale export: %w", err)
		}
		klog.InfoS("Removed export of an earlier run", "path", f)
	}
	return nil
}

func resolvePreset(baseModel string) (string, model.Model, error) {
	name, preset, err := plugin.PresetRegister.Resolve(baseModel)
	if err != nil {
		return "", nil, err
	}
	if !preset.SupportTuning() {
		return "", nil, fmt.Errorf("preset %s does not support tuning", name)
	}
	return name, preset, nil
}

// resolveEOS prefers the EOS_TOKEN setting, then the base model tokenizer, then the preset.
func (p *Pipeline) resolveEOS(ctx context.Context, params *model.PresetParam) (string, error) {
	if p.Settings.EOSToken != "" {
		return p.Settings.EOSToken, nil
	}
	eos, err := p.Hub.TokenizerEOS(ctx, p.Settings.BaseModel)
	if err == nil && eos != "" {
		return eos, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	klog.InfoS("Falling back to the preset EOS token", "baseModel", p.Settings.BaseModel, "err", err)
	if params.EOSToken == "" {
		return "", fmt.Errorf("no EOS token for %s: %w", p.Settings.BaseModel, err)
	}
	return params.EOSToken, nil
}

// WriteDataset formats the dataset into path without training. It returns the EOS token appended to each record.
func (p *Pipeline) WriteDataset(ctx context.Context, path string) (string, error) {
	_, preset, err := resolvePreset(p.Settings.BaseModel)
	if err != nil {
		return "", &StageError{Stage: StageResolve, Err: err}
	}
	eos, err := p.resolveEOS(ctx, preset.GetTuningParameters())
	if err != nil {
		return "", &StageError{Stage: StageResolve, Err: err}
	}
	if err := p.prepareDataset(ctx, path, eos); err != nil {
		return "", &StageError{Stage: StageDataset, Err: err}
	}
	return eos, nil
}

func (p *Pipeline) prepareDataset(ctx context.Context, path, eos string) error {
	ds := dataset.NewFineTuneDataset(p.Settings.DatasetName, p.Settings.DatasetSplit)
	ds.Config = p.Settings.DatasetConfig
	ds.MaxRows = p.Settings.DatasetMaxRows
	ds.Client = p.Rows
	rows, err := ds.Load(ctx)
	if err != nil {
		return err
	}
	texts, err := dataset.FormatForFineTuning(rows, dataset.DefaultPromptTemplate, eos)
	if err != nil {
		return err
	}
	if err := dataset.WriteJSONL(path, texts); err != nil {
		return err
	}
	klog.InfoS("Wrote training dataset", "path", path, "records", len(texts))
	return nil
}

func (p *Pipeline) writeTrainingConfig(job *v1alpha1.FineTuneJob, path string, paths config.TrainingPaths,
	params *model.PresetParam) (*config.Config, error) {
	var cfg *config.Config
	if job.Spec.TrainingConfigFile != "" {
		data, err := os.ReadFile(job.Spec.TrainingConfigFile)
		if err != nil {
			return nil, err
		}
		cfg, err = config.ParseTrainingConfig(data)
		if err != nil {
			return nil, err
		}
		cfg.ApplyPaths(paths)
		if cfg.TrainingConfig.ExportConfig.QuantizationMethod == "" {
			cfg.TrainingConfig.ExportConfig.QuantizationMethod = p.Settings.QuantizationMethod
		}
	} else {
		cfg = config.NewTrainingConfig(p.Settings, paths, params.TargetModules)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}
	klog.InfoS("Wrote training config", "path", path, "override", job.Spec.TrainingConfigFile != "")
	return cfg, nil
}

func (p *Pipeline) printStats(stats *tuning.TrainerStats) error {
	fmt.Fprintf(p.out(), "Trainer stats: %s\n", stats)
	line, err := stats.LogLine()
	if err != nil {
		return err
	}
	fmt.Fprintln(p.out(), line)
	return nil
}

func (p *Pipeline) push(ctx context.Context, job *v1alpha1.FineTuneJob, modelDir, gguf, modelfilePath string) (*hub.CommitInfo, error) {
	repo := p.Settings.HFRepoName
	if err := p.Hub.CreateRepo(ctx, repo, false); err != nil {
		return nil, err
	}
	files := []hub.UploadFile{
		{PathInRepo: gguf, LocalPath: filepath.Join(modelDir, gguf)},
		{PathInRepo: consts.ModelfileName, LocalPath: modelfilePath},
	}
	message := fmt.Sprintf("Upload %s fine-tuned from %s", job.Spec.FineTunedName, p.Settings.BaseModel)
	return p.Hub.UploadFiles(ctx, repo, files, message)
}
