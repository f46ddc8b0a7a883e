// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package test

import (
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/sqltune/sqltune/api/v1alpha1"
	"github.com/sqltune/sqltune/pkg/config"
)

const (
	LabelKeyNvidia    = "accelerator"
	LabelValueNvidia  = "nvidia"
	CapacityNvidiaGPU = "nvidia.com/gpu"
)

var gpuCount = 1

// MockSettings returns settings with every default filled in, as Load would produce them.
func MockSettings() *config.Settings {
	return &config.Settings{
		HFToken:                   "hf_test_token",
		HFRepoName:                "tester/test-sql-model",
		HFEndpoint:                "https://huggingface.co",
		OllamaHost:                "http://localhost:11434",
		BaseModel:                 "test-model",
		MaxSeqLength:              2048,
		LoadIn4bit:                true,
		DatasetName:               "tester/text-to-sql",
		DatasetConfig:             "default",
		DatasetSplit:              "train",
		DatasetsServerEndpoint:    "https://datasets-server.huggingface.co",
		LoraRank:                  16,
		LoraAlpha:                 16,
		Bias:                      "none",
		UseGradientCheckpointing:  "unsloth",
		RandomState:               3407,
		PerDeviceTrainBatchSize:   2,
		GradientAccumulationSteps: 4,
		WarmupSteps:               5,
		MaxSteps:                  60,
		LearningRate:              2e-4,
		LoggingSteps:              1,
		Optimizer:                 "adamw_8bit",
		WeightDecay:               0.01,
		LrSchedulerType:           "linear",
		Seed:                      3407,
		QuantizationMethod:        "f16",
		TrainerImage:              "ghcr.io/sqltune/trainer:test",
		TrainerCommand:            "accelerate launch",
		TrainerEntrypoint:         "/workspace/tfs/fine_tuning.py",
	}
}

var (
	MockFineTuneJobLocal = &v1alpha1.FineTuneJob{
		ObjectMeta: metav1.ObjectMeta{
			Name: "test-sql-model",
		},
		Spec: v1alpha1.FineTuneJobSpec{
			FineTunedName: "test-sql-model",
			OutputDir:     "/tmp/output",
			Runner:        v1alpha1.RunnerLocal,
		},
	}

	MockFineTuneJobKubernetes = &v1alpha1.FineTuneJob{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "test-sql-model",
			Namespace: "sqltune",
		},
		Spec: v1alpha1.FineTuneJobSpec{
			FineTunedName: "test-sql-model",
			OutputDir:     "/mnt/output",
			Runner:        v1alpha1.RunnerKubernetes,
			Kubernetes: &v1alpha1.KubernetesSpec{
				Namespace: "sqltune",
				OutputPVC: "sqltune-output",
				NodeSelector: map[string]string{
					LabelKeyNvidia: LabelValueNvidia,
				},
				GPUCount: &gpuCount,
			},
		},
	}
)

var (
	MockNodeList = &corev1.NodeList{
		Items: nodes,
	}
)

var (
	nodes = []corev1.Node{
		{
			ObjectMeta: metav1.ObjectMeta{
				Name: "node1",
				Labels: map[string]string{
					corev1.LabelInstanceTypeStable: "Standard_NC12s_v3",
					LabelKeyNvidia:                 LabelValueNvidia,
				},
			},
			Status: corev1.NodeStatus{
				Conditions: []corev1.NodeCondition{
					{
						Type:   corev1.NodeReady,
						Status: corev1.ConditionTrue,
					},
				},
				Capacity: corev1.ResourceList{
					CapacityNvidiaGPU: resource.MustParse("1"),
				},
			},
		},
		{
			ObjectMeta: metav1.ObjectMeta{
				Name: "node2",
				Labels: map[string]string{
					corev1.LabelInstanceTypeStable: "Wrong_Instance_Type",
				},
			},
		},
		{
			ObjectMeta: metav1.ObjectMeta{
				Name: "node3",
				Labels: map[string]string{
					LabelKeyNvidia: LabelValueNvidia,
				},
			},
			Status: corev1.NodeStatus{
				Conditions: []corev1.NodeCondition{
					{
						Type:   corev1.NodeReady,
						Status: corev1.ConditionFalse,
					},
				},
				Capacity: corev1.ResourceList{
					CapacityNvidiaGPU: resource.MustParse("4"),
				},
			},
		},
	}
)

func NewTestScheme() *runtime.Scheme {
	testScheme := runtime.NewScheme()
	_ = corev1.AddToScheme(testScheme)
	_ = batchv1.AddToScheme(testScheme)
	return testScheme
}

func NotFoundError() error {
	return &apierrors.StatusError{ErrStatus: metav1.Status{Reason: metav1.StatusReasonNotFound}}
}

func IsAlreadyExistsError() error {
	return &apierrors.StatusError{ErrStatus: metav1.Status{Reason: metav1.StatusReasonAlreadyExists}}
}
