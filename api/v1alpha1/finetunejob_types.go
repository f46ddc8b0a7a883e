// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RunnerType selects where the trainer runs.
type RunnerType string

const (
	// RunnerLocal runs the trainer as a child process on this machine.
	RunnerLocal RunnerType = "local"
	// RunnerKubernetes submits the whole pipeline as a batch Job.
	RunnerKubernetes RunnerType = "kubernetes"
)

// KubernetesSpec describes the Job the kubernetes runner submits.
type KubernetesSpec struct {
	// Namespace the Job, ConfigMap and Secret are created in.
	Namespace string `json:"namespace,omitempty"`
	// OutputPVC is the claim mounted at the output directory. It keeps the exported model after the pod exits.
	OutputPVC string `json:"outputPVC,omitempty"`
	// Image runs the pipeline inside the cluster. Defaults to the trainer image.
	Image string `json:"image,omitempty"`
	// +optional
	ServiceAccountName string `json:"serviceAccountName,omitempty"`
	// +optional
	ImagePullSecrets []corev1.LocalObjectReference `json:"imagePullSecrets,omitempty"`
	// +optional
	NodeSelector map[string]string `json:"nodeSelector,omitempty"`
	// Count of GPUs requested by the training container. Defaults to the preset requirement.
	// +optional
	GPUCount *int `json:"gpuCount,omitempty"`
}

// FineTuneJobSpec is what the user asks for on the command line.
type FineTuneJobSpec struct {
	// FineTunedName names the produced model and its directory under OutputDir.
	FineTunedName string `json:"fineTunedName"`
	// OutputDir receives <FineTunedName>/ with the GGUF file and Modelfile.
	OutputDir string `json:"outputDir"`
	Runner    RunnerType `json:"runner"`
	// SkipPush disables the hub upload.
	SkipPush bool `json:"skipPush,omitempty"`
	// TrainingConfigFile overrides the generated trainer document.
	// +optional
	TrainingConfigFile string `json:"trainingConfigFile,omitempty"`
	// ModelfileTemplate overrides the embedded Modelfile template.
	// +optional
	ModelfileTemplate string `json:"modelfileTemplate,omitempty"`
	// +optional
	Kubernetes *KubernetesSpec `json:"kubernetes,omitempty"`
}

// FineTuneJobStatus tracks the pipeline stages.
type FineTuneJobStatus struct {
	// Conditions report the state of each stage.
	Conditions []metav1.Condition `json:"conditions,omitempty"`
	// ModelDir is where the exported model was written.
	ModelDir string `json:"modelDir,omitempty"`
	// CommitURL is the hub commit of the pushed model.
	CommitURL string `json:"commitURL,omitempty"`
}

// FineTuneJob is one fine-tuning run.
type FineTuneJob struct {
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   FineTuneJobSpec   `json:"spec"`
	Status FineTuneJobStatus `json:"status,omitempty"`
}

// SetCondition records the state of a stage.
func (j *FineTuneJob) SetCondition(conditionType ConditionType, status metav1.ConditionStatus, reason, message string) {
	meta.SetStatusCondition(&j.Status.Conditions, metav1.Condition{
		Type:               string(conditionType),
		Status:             status,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: j.Generation,
	})
}

// IsConditionTrue reports whether the stage completed.
func (j *FineTuneJob) IsConditionTrue(conditionType ConditionType) bool {
	return meta.IsStatusConditionTrue(j.Status.Conditions, string(conditionType))
}
