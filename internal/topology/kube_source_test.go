package topology

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
	ktesting "k8s.io/client-go/testing"
)

func TestKubeSource_Fetch(t *testing.T) {
	logger := zaptest.NewLogger(t)

	client := fake.NewSimpleClientset(
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
			Status: corev1.NodeStatus{
				Allocatable: corev1.ResourceList{
					corev1.ResourceCPU:    resource.MustParse("3500m"),
					corev1.ResourceMemory: resource.MustParse("8Gi"),
				},
			},
		},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "billing"}},
		&appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: "billing"}},
		&appsv1.ReplicaSet{ObjectMeta: metav1.ObjectMeta{
			Name:      "api-7d9f",
			Namespace: "billing",
			OwnerReferences: []metav1.OwnerReference{
				{Kind: "Deployment", Name: "api"},
			},
		}},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "api-7d9f-x1",
				Namespace: "billing",
				UID:       types.UID(uidA),
				OwnerReferences: []metav1.OwnerReference{
					{Kind: "ReplicaSet", Name: "api-7d9f"},
				},
			},
			Spec: corev1.PodSpec{
				NodeName: "node-1",
				Containers: []corev1.Container{
					{
						Name: "app",
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("250m"),
								corev1.ResourceMemory: resource.MustParse("256Mi"),
							},
						},
					},
					{Name: "proxy"},
				},
			},
		},
		&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: "standalone", Namespace: "billing", UID: types.UID(uidB)},
			Spec:       corev1.PodSpec{NodeName: "node-1", Containers: []corev1.Container{{Name: "main"}}},
		},
	)

	source := NewKubeSource(logger, client)
	require.NoError(t, source.Probe(context.Background()))

	inv, err := source.Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, inv.Nodes, 1)
	assert.Equal(t, 3.5, inv.Nodes[0].Allocatable.CPUCores)
	assert.Equal(t, float64(8<<30), inv.Nodes[0].Allocatable.MemoryBytes)
	assert.Equal(t, []string{"billing"}, inv.Namespaces)
	assert.Equal(t, []string{"api"}, inv.Deployments)

	s := NewSnapshot(*inv)
	owned, ok := s.Pod(uidA)
	require.True(t, ok)
	assert.Equal(t, "api", owned.Deployment)
	assert.Equal(t, []string{"app", "proxy"}, owned.Containers)
	require.NotNil(t, owned.Resources["app"].CPURequestCores)
	assert.Equal(t, 0.25, *owned.Resources["app"].CPURequestCores)
	assert.Nil(t, owned.Resources["app"].CPULimitCores)
	assert.Nil(t, owned.Resources["proxy"].MemoryRequestBytes)

	standalone, ok := s.Pod(uidB)
	require.True(t, ok)
	assert.Empty(t, standalone.Deployment)
	assert.Equal(t, []string{uidA}, s.PodsByDeployment("api"))
}

func TestKubeSource_FetchListError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	client := fake.NewSimpleClientset()
	client.PrependReactor("list", "pods", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("etcd leader changed")
	})

	_, err := NewKubeSource(logger, client).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list pods")
}

func TestKubeSource_ProbeError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	client := fake.NewSimpleClientset()
	client.PrependReactor("list", "namespaces", func(action ktesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})

	err := NewKubeSource(logger, client).Probe(context.Background())
	assert.Error(t, err)
}
