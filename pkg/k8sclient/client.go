// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package k8sclient

import (
	"fmt"
	"sync"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

var (
	Client    client.Client
	Clientset kubernetes.Interface

	initOnce sync.Once
	initErr  error
)

func SetGlobalClient(c client.Client) {
	Client = c
}

func GetGlobalClient() client.Client {
	return Client
}

// NewScheme registers the API groups the runner works with.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = corev1.AddToScheme(scheme)
	_ = batchv1.AddToScheme(scheme)
	return scheme
}

// Init builds the global clients from the kubeconfig (--kubeconfig, KUBECONFIG, in-cluster or ~/.kube/config).
// Clients set beforehand are kept.
func Init() error {
	initOnce.Do(func() {
		if Client != nil && Clientset != nil {
			return
		}
		cfg, err := ctrl.GetConfig()
		if err != nil {
			initErr = fmt.Errorf("failed to load kubeconfig: %w", err)
			return
		}
		if Client == nil {
			c, err := client.New(cfg, client.Options{Scheme: NewScheme()})
			if err != nil {
				initErr = fmt.Errorf("failed to create kubernetes client: %w", err)
				return
			}
			Client = c
		}
		if Clientset == nil {
			cs, err := kubernetes.NewForConfig(cfg)
			if err != nil {
				initErr = fmt.Errorf("failed to create kubernetes clientset: %w", err)
				return
			}
			Clientset = cs
		}
	})
	return initErr
}
