// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package v1alpha1

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sqltune/sqltune/pkg/config"
	"github.com/sqltune/sqltune/pkg/utils/consts"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/klog/v2"
	"knative.dev/pkg/apis"
)

// SetDefaults fills the runner and the kubernetes namespace.
func (j *FineTuneJob) SetDefaults(_ context.Context) {
	if j.Name == "" {
		j.Name = j.Spec.FineTunedName
	}
	if j.Spec.Runner == "" {
		j.Spec.Runner = RunnerLocal
	}
	if j.Spec.Runner == RunnerKubernetes {
		if j.Spec.Kubernetes == nil {
			j.Spec.Kubernetes = &KubernetesSpec{}
		}
		if j.Spec.Kubernetes.Namespace == "" {
			j.Spec.Kubernetes.Namespace = defaultNamespace()
		}
		if j.Namespace == "" {
			j.Namespace = j.Spec.Kubernetes.Namespace
		}
	}
}

func defaultNamespace() string {
	if ns := os.Getenv(consts.DefaultNamespaceEnvVar); ns != "" {
		return ns
	}
	return consts.DefaultNamespace
}

func (j *FineTuneJob) Validate(ctx context.Context) (errs *apis.FieldError) {
	klog.InfoS("Validate fine-tune job", "name", j.Name, "runner", j.Spec.Runner)
	return errs.Also(j.Spec.validate(ctx).ViaField("spec"))
}

func (s *FineTuneJobSpec) validate(_ context.Context) (errs *apis.FieldError) {
	if s.FineTunedName == "" {
		errs = errs.Also(apis.ErrMissingField("fineTunedName"))
	} else if msgs := validation.IsDNS1123Subdomain(s.FineTunedName); len(msgs) > 0 {
		errs = errs.Also(apis.ErrInvalidValue(fmt.Sprintf("%s: %s", s.FineTunedName, strings.Join(msgs, "; ")), "fineTunedName"))
	}

	switch s.Runner {
	case RunnerLocal:
		errs = errs.Also(validateLocalOutputDir(s.OutputDir))
		if s.Kubernetes != nil {
			errs = errs.Also(apis.ErrDisallowedFields("kubernetes"))
		}
	case RunnerKubernetes:
		if s.OutputDir == "" {
			errs = errs.Also(apis.ErrMissingField("outputDir"))
		} else if _, err := config.PrepareOutputDir(config.DefaultBaseDir, s.OutputDir); err != nil {
			errs = errs.Also(apis.ErrInvalidValue(err.Error(), "outputDir"))
		}
		if s.Kubernetes == nil {
			errs = errs.Also(apis.ErrMissingField("kubernetes"))
		} else {
			errs = errs.Also(s.Kubernetes.validate().ViaField("kubernetes"))
		}
		if s.TrainingConfigFile != "" {
			errs = errs.Also(apis.ErrGeneric("a training config override is only supported by the local runner", "trainingConfigFile"))
		}
		if s.ModelfileTemplate != "" {
			errs = errs.Also(apis.ErrGeneric("a Modelfile template override is only supported by the local runner", "modelfileTemplate"))
		}
	default:
		errs = errs.Also(apis.ErrInvalidValue(string(s.Runner), "runner"))
	}

	if s.TrainingConfigFile != "" && s.Runner == RunnerLocal {
		if _, err := os.Stat(s.TrainingConfigFile); err != nil {
			errs = errs.Also(apis.ErrInvalidValue(err.Error(), "trainingConfigFile"))
		}
	}
	if s.ModelfileTemplate != "" && s.Runner == RunnerLocal {
		if _, err := os.Stat(s.ModelfileTemplate); err != nil {
			errs = errs.Also(apis.ErrInvalidValue(err.Error(), "modelfileTemplate"))
		}
	}
	return errs
}

// validateLocalOutputDir requires an existing directory.
func validateLocalOutputDir(dir string) *apis.FieldError {
	if dir == "" {
		return apis.ErrMissingField("outputDir")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return apis.ErrInvalidValue(fmt.Sprintf("%s does not exist", dir), "outputDir")
	}
	if !info.IsDir() {
		return apis.ErrInvalidValue(fmt.Sprintf("%s is not a directory", dir), "outputDir")
	}
	return nil
}

func (k *KubernetesSpec) validate() (errs *apis.FieldError) {
	if msgs := validation.IsDNS1123Label(k.Namespace); len(msgs) > 0 {
		errs = errs.Also(apis.ErrInvalidValue(fmt.Sprintf("%q: %s", k.Namespace, strings.Join(msgs, "; ")), "namespace"))
	}
	if k.OutputPVC == "" {
		errs = errs.Also(apis.ErrMissingField("outputPVC"))
	}
	if k.GPUCount != nil && *k.GPUCount < 0 {
		errs = errs.Also(apis.ErrInvalidValue(*k.GPUCount, "gpuCount"))
	}
	return errs
}
