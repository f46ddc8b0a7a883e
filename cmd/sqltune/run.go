// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"

	"github.com/sqltune/sqltune/api/v1alpha1"
	"github.com/sqltune/sqltune/pkg/config"
	"github.com/sqltune/sqltune/pkg/finetune"
	"github.com/sqltune/sqltune/pkg/k8sclient"
	"github.com/sqltune/sqltune/pkg/tuning"
)

type runOptions struct {
	outputDir      string
	fineTunedName  string
	runner         string
	skipPush       bool
	envFiles       []string
	trainingConfig string
	template       string
	numProcesses   int

	namespace      string
	outputPVC      string
	image          string
	serviceAccount string
	pullSecrets    []string
	nodeSelector   map[string]string
	gpuCount       int
	keepResources  bool
}

func newRunCommand() *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Format the dataset, train, export GGUF, write the Modelfile and push to the hub",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.outputDir, "output-dir", "", "Existing directory that receives the dataset, the training config and <fine-tuned-name>/.")
	f.StringVar(&o.fineTunedName, "fine-tuned-name", "", "Name of the fine-tuned model.")
	f.StringVar(&o.runner, "runner", string(v1alpha1.RunnerLocal), "Where the trainer runs: local or kubernetes.")
	f.BoolVar(&o.skipPush, "skip-push", false, "Do not push the model to the hub.")
	f.StringSliceVar(&o.envFiles, "env-file", nil, "Dotenv files read before the environment. Defaults to .env when present.")
	f.StringVar(&o.trainingConfig, "training-config", "", "Training config YAML used instead of the generated one.")
	f.StringVar(&o.template, "template", "", "Modelfile template used instead of the embedded one.")
	f.IntVar(&o.numProcesses, "num-processes", 0, "Overrides the accelerate process count of the preset.")

	f.StringVar(&o.namespace, "namespace", "", "Namespace of the training Job (kubernetes runner).")
	f.StringVar(&o.outputPVC, "output-pvc", "", "Claim mounted at the output directory (kubernetes runner).")
	f.StringVar(&o.image, "image", "", "Image of the training Job. Defaults to TRAINER_IMAGE (kubernetes runner).")
	f.StringVar(&o.serviceAccount, "service-account", "", "Service account of the training pod (kubernetes runner).")
	f.StringSliceVar(&o.pullSecrets, "image-pull-secret", nil, "Pull secrets of the training pod (kubernetes runner).")
	f.StringToStringVar(&o.nodeSelector, "node-selector", nil, "Node labels the training pod must match (kubernetes runner).")
	f.IntVar(&o.gpuCount, "gpu-count", -1, "GPUs requested by the training pod. Defaults to the preset requirement (kubernetes runner).")
	f.BoolVar(&o.keepResources, "keep-resources", false, "Keep the settings ConfigMap and token Secret after the Job finished (kubernetes runner).")
	_ = cmd.MarkFlagRequired("output-dir")
	_ = cmd.MarkFlagRequired("fine-tuned-name")
	return cmd
}

func (o *runOptions) job() *v1alpha1.FineTuneJob {
	job := &v1alpha1.FineTuneJob{
		Spec: v1alpha1.FineTuneJobSpec{
			FineTunedName:      o.fineTunedName,
			OutputDir:          o.outputDir,
			Runner:             v1alpha1.RunnerType(o.runner),
			SkipPush:           o.skipPush,
			TrainingConfigFile: o.trainingConfig,
			ModelfileTemplate:  o.template,
		},
	}
	if job.Spec.Runner == v1alpha1.RunnerKubernetes {
		k := &v1alpha1.KubernetesSpec{
			Namespace:          o.namespace,
			OutputPVC:          o.outputPVC,
			Image:              o.image,
			ServiceAccountName: o.serviceAccount,
			NodeSelector:       o.nodeSelector,
		}
		for _, name := range o.pullSecrets {
			k.ImagePullSecrets = append(k.ImagePullSecrets, corev1.LocalObjectReference{Name: name})
		}
		if o.gpuCount >= 0 {
			gpus := o.gpuCount
			k.GPUCount = &gpus
		}
		job.Spec.Kubernetes = k
	}
	return job
}

func (o *runOptions) run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	job := o.job()
	job.SetDefaults(ctx)
	if errs := job.Validate(ctx); errs != nil {
		return fmt.Errorf("invalid fine-tune job: %w", errs)
	}

	settings, err := config.Load(o.envFiles...)
	if err != nil {
		return err
	}
	klog.InfoS("Loaded settings", "settings", fmt.Sprintf("%+v", *settings))

	runner, err := o.newRunner(cmd)
	if err != nil {
		return err
	}
	p := finetune.New(settings, runner)
	p.Out = cmd.OutOrStdout()
	p.NumProcesses = o.numProcesses

	result, err := p.Run(ctx, job)
	if err != nil {
		return err
	}
	klog.InfoS("Fine-tuned model ready", "name", o.fineTunedName, "modelDir", result.ModelDir,
		"modelfile", result.ModelfilePath, "commit", job.Status.CommitURL)
	return nil
}

func (o *runOptions) newRunner(cmd *cobra.Command) (tuning.Runner, error) {
	switch v1alpha1.RunnerType(o.runner) {
	case v1alpha1.RunnerKubernetes:
		if err := k8sclient.Init(); err != nil {
			return nil, err
		}
		r := tuning.NewKubernetesRunner(k8sclient.Client, k8sclient.Clientset)
		r.KeepResources = o.keepResources
		return r, nil
	default:
		return &tuning.LocalRunner{Stdout: cmd.OutOrStdout()}, nil
	}
}
