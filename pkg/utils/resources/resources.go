// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package resources

import (
	"context"
	"fmt"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/util/retry"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ErrJobFailed is returned by WaitForJob when the Job reports a failed pod.
var ErrJobFailed = fmt.Errorf("job failed")

func retriable(err error) bool {
	return !apierrors.IsAlreadyExists(err) && !apierrors.IsNotFound(err) &&
		!apierrors.IsInvalid(err) && !apierrors.IsForbidden(err)
}

func CreateResource(ctx context.Context, resource client.Object, kubeClient client.Client) error {
	switch r := resource.(type) {
	case *batchv1.Job:
		klog.InfoS("CreateJob", "job", klog.KObj(r))
	case *corev1.ConfigMap:
		klog.InfoS("CreateConfigMap", "configmap", klog.KObj(r))
	case *corev1.Secret:
		klog.InfoS("CreateSecret", "secret", klog.KObj(r))
	}

	return retry.OnError(retry.DefaultBackoff, retriable, func() error {
		return kubeClient.Create(ctx, resource, &client.CreateOptions{})
	})
}

// CreateOrUpdateResource creates the object, or overwrites an existing one with the same key.
func CreateOrUpdateResource(ctx context.Context, resource client.Object, kubeClient client.Client) error {
	err := CreateResource(ctx, resource, kubeClient)
	if !apierrors.IsAlreadyExists(err) {
		return err
	}
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		existing := resource.DeepCopyObject().(client.Object)
		if err := kubeClient.Get(ctx, client.ObjectKeyFromObject(resource), existing); err != nil {
			return err
		}
		resource.SetResourceVersion(existing.GetResourceVersion())
		klog.InfoS("UpdateResource", "object", klog.KObj(resource))
		return kubeClient.Update(ctx, resource)
	})
}

func GetResource(ctx context.Context, name, namespace string, kubeClient client.Client, resource client.Object) error {
	return retry.OnError(retry.DefaultBackoff, retriable, func() error {
		return kubeClient.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, resource, &client.GetOptions{})
	})
}

// DeleteResource deletes the object and its dependents. A missing object is not an error.
func DeleteResource(ctx context.Context, resource client.Object, kubeClient client.Client) error {
	klog.InfoS("DeleteResource", "object", klog.KObj(resource))
	err := kubeClient.Delete(ctx, resource, client.PropagationPolicy("Background"))
	return client.IgnoreNotFound(err)
}

// JobFinished reports whether the job completed, and returns ErrJobFailed when it failed.
func JobFinished(job *batchv1.Job) (bool, error) {
	for _, c := range job.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete:
			return true, nil
		case batchv1.JobFailed:
			return true, fmt.Errorf("%w: job %s: %s: %s", ErrJobFailed, job.Name, c.Reason, c.Message)
		}
	}
	if job.Status.Failed > 0 {
		return true, fmt.Errorf("%w: job %s has failed %d pods", ErrJobFailed, job.Name, job.Status.Failed)
	}
	if job.Status.Succeeded > 0 {
		return true, nil
	}
	return false, nil
}

// WaitForJob polls the job every interval until it succeeds, fails or ctx is done.
// The first check happens immediately.
func WaitForJob(ctx context.Context, job *batchv1.Job, kubeClient client.Client, clk clock.Clock, interval time.Duration) error {
	key := client.ObjectKeyFromObject(job)
	for {
		if err := kubeClient.Get(ctx, key, job); err != nil {
			return err
		}
		done, err := JobFinished(job)
		if err != nil {
			klog.ErrorS(err, "job failed", "job", klog.KObj(job), "failed", job.Status.Failed)
			return err
		}
		if done {
			klog.InfoS("job succeeded", "job", klog.KObj(job))
			return nil
		}
		klog.V(4).InfoS("waiting for job", "job", klog.KObj(job), "active", job.Status.Active)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(interval):
		}
	}
}

// WaitForDeletion polls until obj is gone from the API server.
func WaitForDeletion(ctx context.Context, obj client.Object, kubeClient client.Client, clk clock.Clock, interval time.Duration) error {
	key := client.ObjectKeyFromObject(obj)
	for {
		err := kubeClient.Get(ctx, key, obj)
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		klog.V(4).InfoS("waiting for deletion", "object", klog.KObj(obj))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(interval):
		}
	}
}
