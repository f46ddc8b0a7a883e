// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package v1alpha1 contains the fine-tuning job definition shared by the CLI and the runners.
package v1alpha1
