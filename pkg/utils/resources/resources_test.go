// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package resources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	goassert "gotest.tools/assert"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	clocktesting "k8s.io/utils/clock/testing"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/sqltune/sqltune/pkg/utils/test"
)

func newJob(status batchv1.JobStatus) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "tune", Namespace: "sqltune"},
		Status:     status,
	}
}

func TestJobFinished(t *testing.T) {
	testcases := map[string]struct {
		status       batchv1.JobStatus
		expectedDone bool
		expectedErr  string
	}{
		"Active job is not finished": {
			status: batchv1.JobStatus{Active: 1},
		},
		"Job with failed pods": {
			status:       batchv1.JobStatus{Failed: 1},
			expectedDone: true,
			expectedErr:  "has failed 1 pods",
		},
		"Job with only succeeded pods": {
			status:       batchv1.JobStatus{Succeeded: 1},
			expectedDone: true,
		},
		"Job with a failed condition": {
			status: batchv1.JobStatus{Conditions: []batchv1.JobCondition{{
				Type:    batchv1.JobFailed,
				Status:  corev1.ConditionTrue,
				Reason:  "BackoffLimitExceeded",
				Message: "Job has reached the specified backoff limit",
			}}},
			expectedDone: true,
			expectedErr:  "BackoffLimitExceeded",
		},
		"Job with a complete condition": {
			status: batchv1.JobStatus{Conditions: []batchv1.JobCondition{{
				Type:   batchv1.JobComplete,
				Status: corev1.ConditionTrue,
			}}},
			expectedDone: true,
		},
	}

	for k, tc := range testcases {
		t.Run(k, func(t *testing.T) {
			done, err := JobFinished(newJob(tc.status))
			assert.Equal(t, tc.expectedDone, done)
			if tc.expectedErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrJobFailed)
				assert.Contains(t, err.Error(), tc.expectedErr)
			}
		})
	}
}

func TestWaitForJob(t *testing.T) {
	scheme := test.NewTestScheme()

	t.Run("Should return error for Job with failed pods", func(t *testing.T) {
		job := newJob(batchv1.JobStatus{Failed: 1})
		cl := fake.NewClientBuilder().WithScheme(scheme).WithRuntimeObjects(job).Build()
		err := WaitForJob(context.Background(), job, cl, clocktesting.NewFakeClock(time.Now()), time.Second)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "has failed 1 pods")
	})

	t.Run("Should return nil for Job with only succeeded pods", func(t *testing.T) {
		job := newJob(batchv1.JobStatus{Succeeded: 1})
		cl := fake.NewClientBuilder().WithScheme(scheme).WithRuntimeObjects(job).Build()
		err := WaitForJob(context.Background(), job, cl, clocktesting.NewFakeClock(time.Now()), time.Second)
		assert.Nil(t, err)
	})

	t.Run("Should return deadline exceeded for Job with only active pods", func(t *testing.T) {
		job := newJob(batchv1.JobStatus{Active: 1})
		cl := fake.NewClientBuilder().WithScheme(scheme).WithRuntimeObjects(job).Build()
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err := WaitForJob(ctx, job, cl, clocktesting.NewFakeClock(time.Now()), time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Should observe completion on a later poll", func(t *testing.T) {
		job := newJob(batchv1.JobStatus{Active: 1})
		cl := fake.NewClientBuilder().WithScheme(scheme).WithRuntimeObjects(job).Build()
		fakeClock := clocktesting.NewFakeClock(time.Now())

		errCh := make(chan error, 1)
		go func() {
			errCh <- WaitForJob(context.Background(), job.DeepCopy(), cl, fakeClock, time.Second)
		}()

		assert.Eventually(t, fakeClock.HasWaiters, 5*time.Second, 10*time.Millisecond)
		done := job.DeepCopy()
		done.Status = batchv1.JobStatus{Succeeded: 1}
		assert.NoError(t, cl.Status().Update(context.Background(), done))
		fakeClock.Step(time.Second)

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("WaitForJob did not return")
		}
	})

	t.Run("Should return not found for a missing Job", func(t *testing.T) {
		cl := fake.NewClientBuilder().WithScheme(scheme).Build()
		err := WaitForJob(context.Background(), newJob(batchv1.JobStatus{}), cl, clocktesting.NewFakeClock(time.Now()), time.Second)
		assert.Error(t, err)
	})
}

func TestWaitForDeletion(t *testing.T) {
	scheme := test.NewTestScheme()

	t.Run("Should return nil for a missing Job", func(t *testing.T) {
		cl := fake.NewClientBuilder().WithScheme(scheme).Build()
		err := WaitForDeletion(context.Background(), newJob(batchv1.JobStatus{}), cl, clocktesting.NewFakeClock(time.Now()), time.Second)
		assert.NoError(t, err)
	})

	t.Run("Should return once the Job is gone", func(t *testing.T) {
		job := newJob(batchv1.JobStatus{Succeeded: 1})
		cl := fake.NewClientBuilder().WithScheme(scheme).WithRuntimeObjects(job).Build()
		fakeClock := clocktesting.NewFakeClock(time.Now())

		errCh := make(chan error, 1)
		go func() {
			errCh <- WaitForDeletion(context.Background(), job.DeepCopy(), cl, fakeClock, time.Second)
		}()

		assert.Eventually(t, fakeClock.HasWaiters, 5*time.Second, 10*time.Millisecond)
		assert.NoError(t, cl.Delete(context.Background(), job.DeepCopy()))
		fakeClock.Step(time.Second)

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("WaitForDeletion did not return")
		}
	})

	t.Run("Should stop when the context ends", func(t *testing.T) {
		job := newJob(batchv1.JobStatus{})
		cl := fake.NewClientBuilder().WithScheme(scheme).WithRuntimeObjects(job).Build()
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err := WaitForDeletion(ctx, job, cl, clocktesting.NewFakeClock(time.Now()), time.Second)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestCreateResource(t *testing.T) {
	testcases := map[string]struct {
		callMocks        func(c *test.MockClient)
		expectedResource client.Object
		expectedError    error
	}{
		"Resource creation fails with Job object": {
			callMocks: func(c *test.MockClient) {
				c.On("Create", mock.IsType(context.Background()), mock.IsType(&batchv1.Job{}), mock.Anything).Return(test.IsAlreadyExistsError())
			},
			expectedResource: &batchv1.Job{},
			expectedError:    test.IsAlreadyExistsError(),
		},
		"Resource creation succeeds with ConfigMap object": {
			callMocks: func(c *test.MockClient) {
				c.On("Create", mock.IsType(context.Background()), mock.IsType(&corev1.ConfigMap{}), mock.Anything).Return(nil)
			},
			expectedResource: &corev1.ConfigMap{},
			expectedError:    nil,
		},
		"Resource creation succeeds with Secret object": {
			callMocks: func(c *test.MockClient) {
				c.On("Create", mock.IsType(context.Background()), mock.IsType(&corev1.Secret{}), mock.Anything).Return(nil)
			},
			expectedResource: &corev1.Secret{},
			expectedError:    nil,
		},
	}

	for k, tc := range testcases {
		t.Run(k, func(t *testing.T) {
			mockClient := test.NewClient()
			tc.callMocks(mockClient)

			err := CreateResource(context.Background(), tc.expectedResource, mockClient)
			if tc.expectedError == nil {
				goassert.Check(t, err == nil, "Not expected to return error")
			} else {
				assert.Equal(t, tc.expectedError.Error(), err.Error())
			}
		})
	}
}

func TestCreateOrUpdateResource(t *testing.T) {
	scheme := test.NewTestScheme()
	existing := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "tune-settings", Namespace: "sqltune"},
		Data:       map[string]string{"BASE_MODEL": "old"},
	}
	cl := fake.NewClientBuilder().WithScheme(scheme).WithRuntimeObjects(existing).Build()

	updated := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "tune-settings", Namespace: "sqltune"},
		Data:       map[string]string{"BASE_MODEL": "new"},
	}
	goassert.NilError(t, CreateOrUpdateResource(context.Background(), updated, cl))

	got := &corev1.ConfigMap{}
	goassert.NilError(t, cl.Get(context.Background(), client.ObjectKeyFromObject(existing), got))
	goassert.Equal(t, got.Data["BASE_MODEL"], "new")
}

func TestGetResource(t *testing.T) {
	testcases := map[string]struct {
		callMocks     func(c *test.MockClient)
		expectedError error
	}{
		"GetResource fails": {
			callMocks: func(c *test.MockClient) {
				c.On("Get", mock.IsType(context.Background()), mock.Anything, mock.IsType(&batchv1.Job{}), mock.Anything).Return(test.NotFoundError())
			},
			expectedError: test.NotFoundError(),
		},
		"GetResource succeeds": {
			callMocks: func(c *test.MockClient) {
				c.On("Get", mock.IsType(context.Background()), mock.Anything, mock.IsType(&batchv1.Job{}), mock.Anything).Return(nil)
			},
			expectedError: nil,
		},
	}

	for k, tc := range testcases {
		t.Run(k, func(t *testing.T) {
			mockClient := test.NewClient()
			tc.callMocks(mockClient)

			err := GetResource(context.Background(), "fakeName", "fakeNamespace", mockClient, &batchv1.Job{})
			if tc.expectedError == nil {
				goassert.Check(t, err == nil, "Not expected to return error")
			} else {
				assert.Equal(t, tc.expectedError.Error(), err.Error())
			}
		})
	}
}

func TestDeleteResource(t *testing.T) {
	mockClient := test.NewClient()
	mockClient.On("Delete", mock.IsType(context.Background()), mock.IsType(&corev1.Secret{}), mock.Anything).Return(test.NotFoundError())
	assert.NoError(t, DeleteResource(context.Background(), &corev1.Secret{}, mockClient))

	mockClient = test.NewClient()
	mockClient.On("Delete", mock.IsType(context.Background()), mock.IsType(&corev1.Secret{}), mock.Anything).Return(errors.New("forbidden"))
	assert.EqualError(t, DeleteResource(context.Background(), &corev1.Secret{}, mockClient), "forbidden")
}
