// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package tuning

import (
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	v1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/pointer"

	"github.com/sqltune/sqltune/api/v1alpha1"
	"github.com/sqltune/sqltune/pkg/utils/consts"
)

const (
	TrainerContainerName = "trainer"
	// DefaultJobTTL keeps a finished Job and its pod logs around for a day.
	DefaultJobTTL = int32(24 * 60 * 60)
)

var tolerations = []corev1.Toleration{
	{
		Effect:   corev1.TaintEffectNoSchedule,
		Operator: corev1.TolerationOpEqual,
		Key:      consts.GPUString,
	},
	{
		Effect: corev1.TaintEffectNoSchedule,
		Value:  consts.GPUString,
		Key:    consts.SKUString,
	},
	{
		Effect:   corev1.TaintEffectNoSchedule,
		Operator: corev1.TolerationOpExists,
		Key:      consts.NvidiaGPU,
	},
}

func SettingsConfigMapName(job *v1alpha1.FineTuneJob) string {
	return job.Name + "-settings"
}

func TokenSecretName(job *v1alpha1.FineTuneJob) string {
	return job.Name + "-hf-token"
}

// GenerateSettingsConfigMap carries the non-secret settings into the pod environment.
func GenerateSettingsConfigMap(job *Job) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta: v1.TypeMeta{
			APIVersion: "v1",
			Kind:       "ConfigMap",
		},
		ObjectMeta: v1.ObjectMeta{
			Name:      SettingsConfigMapName(job.FineTuneJob),
			Namespace: job.FineTuneJob.Spec.Kubernetes.Namespace,
			Labels:    v1alpha1.JobLabels(job.FineTuneJob),
		},
		Data: job.Settings.EnvVars(),
	}
}

// GenerateTokenSecret holds the hub token read by the pod.
func GenerateTokenSecret(job *Job) *corev1.Secret {
	return &corev1.Secret{
		TypeMeta: v1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Secret",
		},
		ObjectMeta: v1.ObjectMeta{
			Name:      TokenSecretName(job.FineTuneJob),
			Namespace: job.FineTuneJob.Spec.Kubernetes.Namespace,
			Labels:    v1alpha1.JobLabels(job.FineTuneJob),
		},
		Type: corev1.SecretTypeOpaque,
		StringData: map[string]string{
			consts.HFTokenSecretKey: job.Settings.HFToken.Value(),
		},
	}
}

func GenerateTuningJobManifest(job *Job, imageName string, imagePullSecretRefs []corev1.LocalObjectReference,
	commands []string, resourceRequirements corev1.ResourceRequirements, volumes []corev1.Volume,
	volumeMounts []corev1.VolumeMount, envFrom []corev1.EnvFromSource, envVars []corev1.EnvVar) *batchv1.Job {
	ftJob := job.FineTuneJob
	spec := ftJob.Spec.Kubernetes
	labels := v1alpha1.JobLabels(ftJob)

	var numBackoff int32
	return &batchv1.Job{
		TypeMeta: v1.TypeMeta{
			APIVersion: "batch/v1",
			Kind:       "Job",
		},
		ObjectMeta: v1.ObjectMeta{
			Name:      ftJob.Name,
			Namespace: spec.Namespace,
			Labels:    labels,
			Annotations: map[string]string{
				v1alpha1.AnnotationBaseModel: job.Settings.BaseModel,
				v1alpha1.AnnotationPreset:    job.PresetName,
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &numBackoff, // a failed training run is not retried
			ActiveDeadlineSeconds:   pointer.Int64(int64(job.Timeout().Seconds())),
			TTLSecondsAfterFinished: pointer.Int32(DefaultJobTTL),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: v1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:         TrainerContainerName,
							Image:        imageName,
							Command:      commands,
							Resources:    resourceRequirements,
							VolumeMounts: volumeMounts,
							EnvFrom:      envFrom,
							Env:          envVars,
						},
					},
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: spec.ServiceAccountName,
					NodeSelector:       spec.NodeSelector,
					Volumes:            volumes,
					Tolerations:        tolerations,
					ImagePullSecrets:   imagePullSecretRefs,
				},
			},
		},
	}
}
