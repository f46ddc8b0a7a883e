// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package resources

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/sqltune/sqltune/pkg/utils/consts"
)

const (
	LabelKeyNvidia   = "accelerator"
	LabelValueNvidia = "nvidia"
)

// ListNodes get list of kubernetes nodes
func ListNodes(ctx context.Context, kubeClient client.Client, labelSelector client.MatchingLabels) (*corev1.NodeList, error) {
	nodeList := &corev1.NodeList{}

	err := kubeClient.List(ctx, nodeList, labelSelector)
	if err != nil {
		return nil, err
	}

	return nodeList, nil
}

// CheckNvidiaPlugin reports whether the node is labeled as an nvidia node and advertises GPUs.
func CheckNvidiaPlugin(nodeObj *corev1.Node) bool {
	if nodeObj.Labels[LabelKeyNvidia] != LabelValueNvidia {
		return false
	}
	return GPUCapacity(nodeObj) > 0
}

// GPUCapacity returns the allocatable nvidia GPUs of the node, falling back to its capacity.
func GPUCapacity(nodeObj *corev1.Node) int64 {
	if q, ok := nodeObj.Status.Allocatable[corev1.ResourceName(consts.NvidiaGPU)]; ok {
		return q.Value()
	}
	if q, ok := nodeObj.Status.Capacity[corev1.ResourceName(consts.NvidiaGPU)]; ok {
		return q.Value()
	}
	return 0
}

// FindGPUNodes returns the ready nodes matching the selector that can host a pod requesting gpuCount GPUs.
func FindGPUNodes(ctx context.Context, kubeClient client.Client, selector map[string]string, gpuCount int) ([]corev1.Node, error) {
	nodeList, err := ListNodes(ctx, kubeClient, client.MatchingLabels(selector))
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	nodes := lo.Filter(nodeList.Items, func(n corev1.Node, _ int) bool {
		return nodeReady(&n) && GPUCapacity(&n) >= int64(gpuCount)
	})
	klog.V(2).InfoS("Found GPU nodes", "selector", selector, "gpuCount", gpuCount,
		"nodes", lo.Map(nodes, func(n corev1.Node, _ int) string { return n.Name }))
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no ready node matching %v has %d %s", selector, gpuCount, consts.NvidiaGPU)
	}
	return nodes, nil
}

func nodeReady(nodeObj *corev1.Node) bool {
	_, ok := lo.Find(nodeObj.Status.Conditions, func(c corev1.NodeCondition) bool {
		return c.Type == corev1.NodeReady && c.Status == corev1.ConditionTrue
	})
	return ok
}
