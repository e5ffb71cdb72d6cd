package topology

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/aaronlmathis/kaptn-insight/internal/metrics"
)

// KubeSource lists cluster objects through client-go.
type KubeSource struct {
	logger     *zap.Logger
	kubeClient kubernetes.Interface
}

// NewKubeSource creates a topology source backed by the Kubernetes API
func NewKubeSource(logger *zap.Logger, kubeClient kubernetes.Interface) *KubeSource {
	return &KubeSource{
		logger:     logger,
		kubeClient: kubeClient,
	}
}

// Probe checks that the API server answers within the deadline carried by ctx.
func (ks *KubeSource) Probe(ctx context.Context) error {
	start := time.Now()
	_, err := ks.kubeClient.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
	metrics.RecordKubernetesRequest("namespaces", "probe", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to reach Kubernetes API: %w", err)
	}
	return nil
}

// Fetch lists nodes, namespaces, replica sets, deployments and pods and
// resolves each pod's owning deployment through its replica set.
func (ks *KubeSource) Fetch(ctx context.Context) (*Inventory, error) {
	nodes, err := ks.listNodes(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	nsList, err := ks.kubeClient.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	metrics.RecordKubernetesRequest("namespaces", "list", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}

	start = time.Now()
	depList, err := ks.kubeClient.AppsV1().Deployments("").List(ctx, metav1.ListOptions{})
	metrics.RecordKubernetesRequest("deployments", "list", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}

	start = time.Now()
	rsList, err := ks.kubeClient.AppsV1().ReplicaSets("").List(ctx, metav1.ListOptions{})
	metrics.RecordKubernetesRequest("replicasets", "list", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to list replicasets: %w", err)
	}

	start = time.Now()
	podList, err := ks.kubeClient.CoreV1().Pods("").List(ctx, metav1.ListOptions{})
	metrics.RecordKubernetesRequest("pods", "list", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	inv := &Inventory{
		Nodes:       nodes,
		Namespaces:  make([]string, 0, len(nsList.Items)),
		Deployments: make([]string, 0, len(depList.Items)),
		Pods:        make([]RuntimePod, 0, len(podList.Items)),
	}
	for _, ns := range nsList.Items {
		inv.Namespaces = append(inv.Namespaces, ns.Name)
	}
	for _, d := range depList.Items {
		inv.Deployments = append(inv.Deployments, d.Name)
	}

	rsOwners := replicaSetOwners(rsList.Items)
	for i := range podList.Items {
		inv.Pods = append(inv.Pods, toRuntimePod(&podList.Items[i], rsOwners))
	}

	ks.logger.Debug("Fetched cluster inventory",
		zap.Int("nodes", len(inv.Nodes)),
		zap.Int("namespaces", len(inv.Namespaces)),
		zap.Int("deployments", len(inv.Deployments)),
		zap.Int("pods", len(inv.Pods)),
	)

	return inv, nil
}

func (ks *KubeSource) listNodes(ctx context.Context) ([]NodeInfo, error) {
	start := time.Now()
	nodes, err := ks.kubeClient.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	metrics.RecordKubernetesRequest("nodes", "list", err, time.Since(start))
	if err != nil {
		ks.logger.Error("Failed to list nodes", zap.Error(err))
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	out := make([]NodeInfo, 0, len(nodes.Items))
	for _, node := range nodes.Items {
		alloc := node.Status.Allocatable
		if len(alloc) == 0 {
			alloc = node.Status.Capacity
		}
		cpuQuantity := alloc[corev1.ResourceCPU]
		memoryQuantity := alloc[corev1.ResourceMemory]

		out = append(out, NodeInfo{
			Name: node.Name,
			Allocatable: NodeCapacity{
				CPUCores:    float64(cpuQuantity.MilliValue()) / 1000.0,
				MemoryBytes: float64(memoryQuantity.Value()),
			},
		})
	}
	return out, nil
}

// replicaSetOwners maps "namespace/replicaset" to the owning deployment name.
func replicaSetOwners(items []appsv1.ReplicaSet) map[string]string {
	owners := make(map[string]string, len(items))
	for _, rs := range items {
		for _, ref := range rs.OwnerReferences {
			if ref.Kind == "Deployment" {
				owners[rs.Namespace+"/"+rs.Name] = ref.Name
				break
			}
		}
	}
	return owners
}

func toRuntimePod(pod *corev1.Pod, rsOwners map[string]string) RuntimePod {
	rp := RuntimePod{
		UID:        string(pod.UID),
		Name:       pod.Name,
		Namespace:  pod.Namespace,
		Node:       pod.Spec.NodeName,
		Containers: make([]string, 0, len(pod.Spec.Containers)),
		Resources:  make(map[string]ContainerResources, len(pod.Spec.Containers)),
	}

	for _, ref := range pod.OwnerReferences {
		if ref.Kind != "ReplicaSet" {
			continue
		}
		if dep, ok := rsOwners[pod.Namespace+"/"+ref.Name]; ok {
			rp.Deployment = dep
		}
		break
	}

	for _, c := range pod.Spec.Containers {
		rp.Containers = append(rp.Containers, c.Name)
		rp.Resources[c.Name] = ContainerResources{
			CPURequestCores:    quantityCores(c.Resources.Requests, corev1.ResourceCPU),
			CPULimitCores:      quantityCores(c.Resources.Limits, corev1.ResourceCPU),
			MemoryRequestBytes: quantityBytes(c.Resources.Requests, corev1.ResourceMemory),
			MemoryLimitBytes:   quantityBytes(c.Resources.Limits, corev1.ResourceMemory),
		}
	}

	return rp
}

func quantityCores(list corev1.ResourceList, name corev1.ResourceName) *float64 {
	q, ok := list[name]
	if !ok {
		return nil
	}
	v := float64(q.MilliValue()) / 1000.0
	return &v
}

func quantityBytes(list corev1.ResourceList, name corev1.ResourceName) *float64 {
	q, ok := list[name]
	if !ok {
		return nil
	}
	v := float64(q.Value())
	return &v
}
