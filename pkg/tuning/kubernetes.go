// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package tuning

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/sqltune/sqltune/api/v1alpha1"
	"github.com/sqltune/sqltune/pkg/config"
	"github.com/sqltune/sqltune/pkg/featuregates"
	"github.com/sqltune/sqltune/pkg/utils"
	"github.com/sqltune/sqltune/pkg/utils/consts"
	"github.com/sqltune/sqltune/pkg/utils/resources"
)

// LogStreamer opens the log of one container.
type LogStreamer func(ctx context.Context, namespace, pod, container string) (io.ReadCloser, error)

// KubernetesRunner submits the whole pipeline as a batch Job and waits for it.
// The pod runs the local runner against the claim mounted at the output directory.
type KubernetesRunner struct {
	Client    client.Client
	Clientset kubernetes.Interface
	Clock     clock.Clock
	// PollInterval defaults to consts.JobPollInterval.
	PollInterval time.Duration
	// Logs defaults to reading through Clientset.
	Logs LogStreamer
	// KeepResources leaves the settings ConfigMap and token Secret after the run.
	KeepResources bool
	// SkipNodeCheck submits the Job without looking for a node that fits it.
	SkipNodeCheck bool
}

var _ Runner = &KubernetesRunner{}

func NewKubernetesRunner(c client.Client, cs kubernetes.Interface) *KubernetesRunner {
	return &KubernetesRunner{
		Client:       c,
		Clientset:    cs,
		Clock:        clock.RealClock{},
		PollInterval: consts.JobPollInterval,
	}
}

func (r *KubernetesRunner) Run(ctx context.Context, job *Job) (stats *TrainerStats, err error) {
	spec := job.FineTuneJob.Spec.Kubernetes
	if spec == nil {
		return nil, fmt.Errorf("fine-tune job %s has no kubernetes spec", job.FineTuneJob.Name)
	}
	gpuCount := job.GPUCount()
	if gpuCount > 0 && !r.SkipNodeCheck {
		if _, err := resources.FindGPUNodes(ctx, r.Client, spec.NodeSelector, gpuCount); err != nil {
			return nil, err
		}
	}

	cm := GenerateSettingsConfigMap(job)
	secret := GenerateTokenSecret(job)
	if err := resources.CreateOrUpdateResource(ctx, cm, r.Client); err != nil {
		return nil, fmt.Errorf("failed to create settings configmap: %w", err)
	}
	if !r.KeepResources {
		defer func() {
			if cleanupErr := r.cleanup(context.WithoutCancel(ctx), cm, secret); cleanupErr != nil {
				klog.ErrorS(cleanupErr, "Failed to clean up job resources", "job", klog.KObj(job.FineTuneJob))
			}
		}()
	}
	if err := resources.CreateOrUpdateResource(ctx, secret, r.Client); err != nil {
		return nil, fmt.Errorf("failed to create token secret: %w", err)
	}

	interval := lo.Ternary(r.PollInterval > 0, r.PollInterval, consts.JobPollInterval)
	clk := lo.Ternary[clock.Clock](r.Clock != nil, r.Clock, clock.RealClock{})
	jobObj, err := r.ensureJob(ctx, job, gpuCount, clk, interval)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()
	if err := resources.WaitForJob(waitCtx, jobObj, r.Client, clk, interval); err != nil {
		return nil, fmt.Errorf("training job %s: %w", klog.KObj(jobObj), err)
	}
	return r.podStats(ctx, jobObj)
}

// ensureJob creates the Job. A Job of the same name that is still running the same
// base model and image is adopted; any other is deleted and replaced.
func (r *KubernetesRunner) ensureJob(ctx context.Context, job *Job, gpuCount int, clk clock.Clock, interval time.Duration) (*batchv1.Job, error) {
	jobObj, err := r.buildJob(job, gpuCount)
	if err != nil {
		return nil, err
	}
	err = resources.CreateResource(ctx, jobObj.DeepCopy(), r.Client)
	if !apierrors.IsAlreadyExists(err) {
		if err != nil {
			return nil, fmt.Errorf("failed to create training job: %w", err)
		}
		return jobObj, nil
	}

	existing := &batchv1.Job{}
	if err := resources.GetResource(ctx, jobObj.Name, jobObj.Namespace, r.Client, existing); err != nil {
		return nil, err
	}
	if sameTrainingJob(existing, jobObj) {
		klog.InfoS("Adopting running training job", "job", klog.KObj(existing))
		return existing, nil
	}

	klog.InfoS("Replacing training job of an earlier run", "job", klog.KObj(existing))
	if err := resources.DeleteResource(ctx, existing, r.Client); err != nil {
		return nil, fmt.Errorf("failed to delete training job: %w", err)
	}
	if err := resources.WaitForDeletion(ctx, existing, r.Client, clk, interval); err != nil {
		return nil, fmt.Errorf("failed waiting for training job %s to be deleted: %w", klog.KObj(existing), err)
	}
	if err := resources.CreateResource(ctx, jobObj, r.Client); err != nil {
		return nil, fmt.Errorf("failed to create training job: %w", err)
	}
	return jobObj, nil
}

// sameTrainingJob reports whether existing is unfinished and trains the same base model
// with the same image as want.
func sameTrainingJob(existing, want *batchv1.Job) bool {
	if finished, _ := resources.JobFinished(existing); finished {
		return false
	}
	if existing.Annotations[v1alpha1.AnnotationBaseModel] != want.Annotations[v1alpha1.AnnotationBaseModel] {
		return false
	}
	return trainerImage(existing) == trainerImage(want)
}

func trainerImage(job *batchv1.Job) string {
	for _, c := range job.Spec.Template.Spec.Containers {
		if c.Name == TrainerContainerName {
			return c.Image
		}
	}
	return ""
}

func (r *KubernetesRunner) buildJob(job *Job, gpuCount int) (*batchv1.Job, error) {
	ftJob := job.FineTuneJob
	spec := ftJob.Spec.Kubernetes
	outputDir, err := config.PrepareOutputDir(config.DefaultBaseDir, ftJob.Spec.OutputDir)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"runner":          string(v1alpha1.RunnerLocal),
		"output-dir":      outputDir,
		"fine-tuned-name": ftJob.Spec.FineTunedName,
		"feature-gates":   featuregates.String(),
	}
	if gpuCount > 0 {
		params["num-processes"] = strconv.Itoa(gpuCount)
	}
	if ftJob.Spec.SkipPush {
		params["skip-push"] = ""
	}
	commands := utils.ShellCmd(utils.BuildCmdStr(consts.AppName+" run", params))

	var volumes []corev1.Volume
	var volumeMounts []corev1.VolumeMount
	shmVolume, shmVolumeMount := utils.ConfigSHMVolume(gpuCount)
	if shmVolume.Name != "" {
		volumes = append(volumes, shmVolume)
		volumeMounts = append(volumeMounts, shmVolumeMount)
	}
	resultsVolume, resultsVolumeMount := utils.ConfigResultsVolume(outputDir, spec.OutputPVC)
	volumes = append(volumes, resultsVolume)
	volumeMounts = append(volumeMounts, resultsVolumeMount)

	envFrom := []corev1.EnvFromSource{{
		ConfigMapRef: &corev1.ConfigMapEnvSource{
			LocalObjectReference: corev1.LocalObjectReference{Name: SettingsConfigMapName(ftJob)},
		},
	}}
	envVars := []corev1.EnvVar{
		{
			Name: consts.HFTokenSecretKey,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: TokenSecretName(ftJob)},
					Key:                  consts.HFTokenSecretKey,
				},
			},
		},
		{Name: "PYTORCH_CUDA_ALLOC_CONF", Value: DefaultPytorchCUDAAllocConf},
	}

	image := lo.Ternary(spec.Image != "", spec.Image, job.Settings.TrainerImage)
	pullSecrets := lo.Ternary(len(spec.ImagePullSecrets) > 0, spec.ImagePullSecrets, DefaultImagePullSecrets)
	return GenerateTuningJobManifest(job, image, pullSecrets, commands, GPUResourceRequirements(gpuCount),
		volumes, volumeMounts, envFrom, envVars), nil
}

// podStats reads the trainer stats line from the newest pod of the job.
func (r *KubernetesRunner) podStats(ctx context.Context, jobObj *batchv1.Job) (*TrainerStats, error) {
	podList := &corev1.PodList{}
	if err := r.Client.List(ctx, podList, client.InNamespace(jobObj.Namespace),
		client.MatchingLabels{v1alpha1.LabelFineTuneJobName: jobObj.Labels[v1alpha1.LabelFineTuneJobName]}); err != nil {
		return nil, fmt.Errorf("failed to list pods of job %s: %w", klog.KObj(jobObj), err)
	}
	if len(podList.Items) == 0 {
		return nil, fmt.Errorf("job %s has no pods", klog.KObj(jobObj))
	}
	pods := podList.Items
	sort.Slice(pods, func(i, j int) bool {
		return pods[j].CreationTimestamp.Before(&pods[i].CreationTimestamp)
	})
	pod := pods[0]

	logs := r.Logs
	if logs == nil {
		logs = r.clientsetLogs
	}
	stream, err := logs(ctx, pod.Namespace, pod.Name, TrainerContainerName)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs of pod %s: %w", klog.KObj(&pod), err)
	}
	defer stream.Close()

	stats, err := FindStatsLine(stream)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		return nil, fmt.Errorf("no trainer stats in logs of pod %s", klog.KObj(&pod))
	}
	return stats, nil
}

func (r *KubernetesRunner) clientsetLogs(ctx context.Context, namespace, pod, container string) (io.ReadCloser, error) {
	return r.Clientset.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{Container: container}).Stream(ctx)
}

func (r *KubernetesRunner) cleanup(ctx context.Context, objs ...client.Object) error {
	var result *multierror.Error
	for _, obj := range objs {
		if err := resources.DeleteResource(ctx, obj, r.Client); err != nil {
			result = multierror.Append(result, fmt.Errorf("%T %s: %w", obj, klog.KObj(obj), err))
		}
	}
	return result.ErrorOrNil()
}
