// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package test

import (
	"context"
	"reflect"

	"github.com/stretchr/testify/mock"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	k8sClient "sigs.k8s.io/controller-runtime/pkg/client"
)

// MockClient is a testify mock of the controller-runtime client. Objects added
// with Seed are copied into Get and List results; the expectation decides the error.
type MockClient struct {
	mock.Mock

	seeded []k8sClient.Object
}

var _ k8sClient.Client = &MockClient{}

func NewClient() *MockClient {
	return &MockClient{}
}

// Seed makes objs visible to Get and List.
func (m *MockClient) Seed(objs ...k8sClient.Object) {
	for _, obj := range objs {
		m.seeded = append(m.seeded, obj.DeepCopyObject().(k8sClient.Object))
	}
}

func (m *MockClient) Get(ctx context.Context, key types.NamespacedName, obj k8sClient.Object, opts ...k8sClient.GetOption) error {
	for _, s := range m.seeded {
		if reflect.TypeOf(s) == reflect.TypeOf(obj) && k8sClient.ObjectKeyFromObject(s) == key {
			reflect.ValueOf(obj).Elem().Set(reflect.ValueOf(s.DeepCopyObject()).Elem())
			break
		}
	}
	args := m.Called(ctx, key, obj, opts)
	return args.Error(0)
}

func (m *MockClient) List(ctx context.Context, list k8sClient.ObjectList, opts ...k8sClient.ListOption) error {
	items := reflect.ValueOf(list).Elem().FieldByName("Items")
	if items.IsValid() {
		var matched []runtime.Object
		for _, s := range m.seeded {
			if reflect.TypeOf(s).Elem() == items.Type().Elem() {
				matched = append(matched, s.DeepCopyObject())
			}
		}
		if err := meta.SetList(list, matched); err != nil {
			return err
		}
	}
	args := m.Called(ctx, list, opts)
	return args.Error(0)
}

func (m *MockClient) Create(ctx context.Context, obj k8sClient.Object, opts ...k8sClient.CreateOption) error {
	args := m.Called(ctx, obj, opts)
	return args.Error(0)
}

func (m *MockClient) Delete(ctx context.Context, obj k8sClient.Object, opts ...k8sClient.DeleteOption) error {
	args := m.Called(ctx, obj, opts)
	return args.Error(0)
}

func (m *MockClient) Update(ctx context.Context, obj k8sClient.Object, opts ...k8sClient.UpdateOption) error {
	args := m.Called(ctx, obj, opts)
	return args.Error(0)
}

func (m *MockClient) Patch(ctx context.Context, obj k8sClient.Object, patch k8sClient.Patch, opts ...k8sClient.PatchOption) error {
	args := m.Called(ctx, obj, patch, opts)
	return args.Error(0)
}

func (m *MockClient) DeleteAllOf(ctx context.Context, obj k8sClient.Object, opts ...k8sClient.DeleteAllOfOption) error {
	args := m.Called(ctx, obj, opts)
	return args.Error(0)
}

// Status, SubResource and the type helpers are not used by the resources helpers.
func (m *MockClient) Status() k8sClient.SubResourceWriter {
	panic("unimplemented")
}

func (m *MockClient) SubResource(subResource string) k8sClient.SubResourceClient {
	panic("unimplemented")
}

func (m *MockClient) GroupVersionKindFor(obj runtime.Object) (schema.GroupVersionKind, error) {
	panic("unimplemented")
}

func (m *MockClient) IsObjectNamespaced(obj runtime.Object) (bool, error) {
	panic("unimplemented")
}

func (m *MockClient) Scheme() *runtime.Scheme {
	panic("unimplemented")
}

func (m *MockClient) RESTMapper() meta.RESTMapper {
	panic("unimplemented")
}
