// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package v1alpha1

const (

	// Non-prefixed labels/annotations are reserved for end-use.

	// SQLTunePrefix is the prefix of every label and annotation sqltune sets.
	SQLTunePrefix = "sqltune.io/"

	// LabelFineTuneJobName is the label for the fine-tune job name.
	LabelFineTuneJobName = SQLTunePrefix + "finetunejob"

	// LabelFineTunedModel is the label for the name of the produced model.
	LabelFineTunedModel = SQLTunePrefix + "model"

	// AnnotationBaseModel records the base model a job tunes.
	AnnotationBaseModel = SQLTunePrefix + "base-model"

	// AnnotationPreset records the preset the base model resolved to.
	AnnotationPreset = SQLTunePrefix + "preset"
)

// JobLabels returns the labels put on every resource created for the job.
func JobLabels(job *FineTuneJob) map[string]string {
	return map[string]string{
		LabelFineTuneJobName: job.Name,
		LabelFineTunedModel:  job.Spec.FineTunedName,
	}
}
