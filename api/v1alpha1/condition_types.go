// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package v1alpha1

// ConditionType is a valid value for Condition.Type.
type ConditionType string

const (
	// ConditionTypeDatasetReady is the state when the formatted dataset has been written.
	ConditionTypeDatasetReady = ConditionType("DatasetReady")

	// ConditionTypeTrainingJobStatus is the state when the trainer has started.
	ConditionTypeTrainingJobStatus = ConditionType("JobStarted")

	// ConditionTypeTrainingSucceeded is the state when the trainer exported the model.
	ConditionTypeTrainingSucceeded = ConditionType("TrainingSucceeded")

	// ConditionTypeModelfileReady is the state when the Modelfile has been written.
	ConditionTypeModelfileReady = ConditionType("ModelfileReady")

	// ConditionTypeModelPushed is the state when the model has been pushed to the hub.
	ConditionTypeModelPushed = ConditionType("ModelPushed")

	// ConditionTypeOllamaRegistered is the state when the model has been created on the Ollama server.
	ConditionTypeOllamaRegistered = ConditionType("OllamaRegistered")

	//ConditionTypeSucceeded summarizes all stages. "True" means every requested stage completed.
	ConditionTypeSucceeded = ConditionType("FineTuneJobSucceeded")
)
