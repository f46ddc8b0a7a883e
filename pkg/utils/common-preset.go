// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package utils

import (
	corev1 "k8s.io/api/core/v1"
)

const (
	DefaultVolumeMountPath = "/dev/shm"
)

// ConfigResultsVolume mounts the claim at outputPath. Without a claim the results live in an emptyDir
// and disappear with the pod.
func ConfigResultsVolume(outputPath, claimName string) (corev1.Volume, corev1.VolumeMount) {
	source := corev1.VolumeSource{
		EmptyDir: &corev1.EmptyDirVolumeSource{},
	}
	if claimName != "" {
		source = corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
				ClaimName: claimName,
			},
		}
	}
	resultsVolume := corev1.Volume{
		Name:         "results-volume",
		VolumeSource: source,
	}
	resultsVolumeMount := corev1.VolumeMount{
		Name:      "results-volume",
		MountPath: outputPath,
	}
	return resultsVolume, resultsVolumeMount
}

func ConfigSHMVolume(gpuCount int) (corev1.Volume, corev1.VolumeMount) {
	volume := corev1.Volume{}
	volumeMount := corev1.VolumeMount{}

	// Multi-GPU data parallel training exchanges tensors through shared memory.
	if gpuCount > 1 {
		volume = corev1.Volume{
			Name: "dshm",
			VolumeSource: corev1.VolumeSource{
				EmptyDir: &corev1.EmptyDirVolumeSource{
					Medium: "Memory",
				},
			},
		}

		volumeMount = corev1.VolumeMount{
			Name:      volume.Name,
			MountPath: DefaultVolumeMountPath,
		}
	}

	return volume, volumeMount
}
