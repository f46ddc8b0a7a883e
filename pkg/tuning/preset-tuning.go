// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package tuning

import (
	"context"
	"fmt"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/sqltune/sqltune/api/v1alpha1"
	"github.com/sqltune/sqltune/pkg/config"
	"github.com/sqltune/sqltune/pkg/model"
	"github.com/sqltune/sqltune/pkg/utils"
	"github.com/sqltune/sqltune/pkg/utils/consts"
)

// Job is everything a runner needs to train one model.
type Job struct {
	FineTuneJob *v1alpha1.FineTuneJob
	Settings    *config.Settings
	PresetName  string
	Preset      *model.PresetParam
	// ConfigPath is the trainer YAML document written before the run.
	ConfigPath string
	Paths      config.TrainingPaths
	// NumProcesses overrides the preset's accelerate num_processes when positive.
	NumProcesses int
}

// Runner executes the trainer for a job and reports what it produced.
type Runner interface {
	Run(ctx context.Context, job *Job) (*TrainerStats, error)
}

// Timeout bounds a single training run.
func (j *Job) Timeout() time.Duration {
	if j.Preset != nil && j.Preset.TrainingTimeout > 0 {
		return j.Preset.TrainingTimeout
	}
	return consts.DefaultTrainingTimeout
}

// GPUCount is the number of GPUs requested for the trainer pod.
func (j *Job) GPUCount() int {
	if k := j.FineTuneJob.Spec.Kubernetes; k != nil && k.GPUCount != nil {
		return *k.GPUCount
	}
	if j.Preset != nil {
		if n, err := strconv.Atoi(j.Preset.GPUCountRequirement); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// BuildTrainerCommand builds the launch command:
// <TRAINER_COMMAND> <accelerate params> <entrypoint> --config=<path>
func BuildTrainerCommand(job *Job) string {
	params := utils.MergeConfigMaps(DefaultAccelerateParams, job.Preset.TorchRunParams)
	if job.NumProcesses > 0 {
		params["num_processes"] = strconv.Itoa(job.NumProcesses)
	}
	launch := utils.BuildCmdStr(job.Settings.TrainerCommand, params)
	return utils.BuildCmdStr(launch+" "+job.Settings.TrainerEntrypoint, map[string]string{"config": job.ConfigPath})
}

// TrainerEnv returns the variables the trainer process needs beyond the inherited environment.
func TrainerEnv(s *config.Settings) map[string]string {
	return map[string]string{
		consts.HFTokenSecretKey:   s.HFToken.Value(),
		"PYTORCH_CUDA_ALLOC_CONF": DefaultPytorchCUDAAllocConf,
	}
}

// GPUResourceRequirements requests and limits gpuCount nvidia GPUs. Zero GPUs yields no requirements.
func GPUResourceRequirements(gpuCount int) corev1.ResourceRequirements {
	if gpuCount <= 0 {
		return corev1.ResourceRequirements{}
	}
	quantity := resource.MustParse(fmt.Sprintf("%d", gpuCount))
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceName(consts.NvidiaGPU): quantity,
		},
		Limits: corev1.ResourceList{
			corev1.ResourceName(consts.NvidiaGPU): quantity,
		},
	}
}
