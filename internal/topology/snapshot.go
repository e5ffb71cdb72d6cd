// Package topology models an immutable point-in-time view of cluster objects.
package topology

import (
	"fmt"
	"sort"
	"strings"
)

// uidLength is the length of a Kubernetes object UID in its canonical form.
const uidLength = 36

// ContainerResources holds the declared requests and limits of one container.
// Nil means the value was not declared.
type ContainerResources struct {
	CPURequestCores    *float64 `json:"cpuRequestCores,omitempty"`
	CPULimitCores      *float64 `json:"cpuLimitCores,omitempty"`
	MemoryRequestBytes *float64 `json:"memoryRequestBytes,omitempty"`
	MemoryLimitBytes   *float64 `json:"memoryLimitBytes,omitempty"`
}

// RuntimePod is one pod as placed in a snapshot. It is never mutated after
// the snapshot is built.
type RuntimePod struct {
	UID        string                        `json:"uid"`
	Name       string                        `json:"name"`
	Namespace  string                        `json:"namespace"`
	Node       string                        `json:"node"`
	Deployment string                        `json:"deployment,omitempty"`
	Containers []string                      `json:"containers"`
	Resources  map[string]ContainerResources `json:"resources,omitempty"`
}

// NodeCapacity is the allocatable capacity of a node.
type NodeCapacity struct {
	CPUCores    float64 `json:"cpuCores"`
	MemoryBytes float64 `json:"memoryBytes"`
}

// NodeInfo describes a node as listed from the cluster.
type NodeInfo struct {
	Name        string
	Allocatable NodeCapacity
}

// Inventory is the raw object set fetched from the topology source.
type Inventory struct {
	Nodes       []NodeInfo
	Namespaces  []string
	Deployments []string
	Pods        []RuntimePod
}

// Snapshot is an immutable, fully indexed topology view. All lookups return
// copies so callers can never alter a published snapshot.
type Snapshot struct {
	nodes       []string
	namespaces  []string
	deployments []string
	pods        map[string]RuntimePod

	byNamespace  map[string][]string
	byNode       map[string][]string
	byDeployment map[string][]string
	allocatable  map[string]NodeCapacity
}

// Empty returns a snapshot with no objects.
func Empty() *Snapshot {
	return NewSnapshot(Inventory{})
}

// NewSnapshot builds a snapshot and its indices from an inventory. Indices are
// derived from the pod map, so every indexed uid resolves to a pod.
func NewSnapshot(inv Inventory) *Snapshot {
	s := &Snapshot{
		namespaces:   uniqueSorted(inv.Namespaces),
		deployments:  uniqueSorted(inv.Deployments),
		pods:         make(map[string]RuntimePod, len(inv.Pods)),
		byNamespace:  make(map[string][]string),
		byNode:       make(map[string][]string),
		byDeployment: make(map[string][]string),
		allocatable:  make(map[string]NodeCapacity, len(inv.Nodes)),
	}

	nodeNames := make([]string, 0, len(inv.Nodes))
	for _, n := range inv.Nodes {
		nodeNames = append(nodeNames, n.Name)
		s.allocatable[n.Name] = n.Allocatable
	}
	s.nodes = uniqueSorted(nodeNames)

	for _, p := range inv.Pods {
		if p.UID == "" {
			continue
		}
		s.pods[p.UID] = clonePod(p)
	}

	for uid, p := range s.pods {
		s.byNamespace[p.Namespace] = append(s.byNamespace[p.Namespace], uid)
		if p.Node != "" {
			s.byNode[p.Node] = append(s.byNode[p.Node], uid)
		}
		if p.Deployment != "" {
			s.byDeployment[p.Deployment] = append(s.byDeployment[p.Deployment], uid)
		}
	}
	for _, idx := range []map[string][]string{s.byNamespace, s.byNode, s.byDeployment} {
		for k := range idx {
			sort.Strings(idx[k])
		}
	}

	return s
}

// Nodes returns the sorted node names.
func (s *Snapshot) Nodes() []string { return copyStrings(s.nodes) }

// Namespaces returns the sorted namespace names.
func (s *Snapshot) Namespaces() []string { return copyStrings(s.namespaces) }

// Deployments returns the sorted deployment names.
func (s *Snapshot) Deployments() []string { return copyStrings(s.deployments) }

// PodCount returns the number of pods in the snapshot.
func (s *Snapshot) PodCount() int { return len(s.pods) }

// PodUIDs returns every pod uid, sorted.
func (s *Snapshot) PodUIDs() []string {
	uids := make([]string, 0, len(s.pods))
	for uid := range s.pods {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Pod looks up a pod by uid.
func (s *Snapshot) Pod(uid string) (RuntimePod, bool) {
	p, ok := s.pods[uid]
	if !ok {
		return RuntimePod{}, false
	}
	return clonePod(p), true
}

// PodsByNamespace returns the uids of pods in a namespace.
func (s *Snapshot) PodsByNamespace(ns string) []string { return copyStrings(s.byNamespace[ns]) }

// PodsByNode returns the uids of pods scheduled on a node.
func (s *Snapshot) PodsByNode(node string) []string { return copyStrings(s.byNode[node]) }

// PodsByDeployment returns the uids of pods owned by a deployment.
func (s *Snapshot) PodsByDeployment(dep string) []string { return copyStrings(s.byDeployment[dep]) }

// NodeAllocatable returns the allocatable capacity of a node.
func (s *Snapshot) NodeAllocatable(node string) (NodeCapacity, bool) {
	c, ok := s.allocatable[node]
	return c, ok
}

// ContainerKeys returns the composite key of every container, sorted.
func (s *Snapshot) ContainerKeys() []string {
	var keys []string
	for uid, p := range s.pods {
		for _, c := range p.Containers {
			keys = append(keys, ContainerKey(uid, c))
		}
	}
	sort.Strings(keys)
	return keys
}

// ContainerKey builds the container-scope identifier "{pod_uid}-{container_name}".
func ContainerKey(podUID, container string) string {
	return podUID + "-" + container
}

// ParseContainerKey splits a container key back into pod uid and container
// name. Pod uids are fixed-length, so container names may contain dashes.
func ParseContainerKey(key string) (podUID, container string, err error) {
	if len(key) > uidLength+1 && key[uidLength] == '-' {
		return key[:uidLength], key[uidLength+1:], nil
	}
	// Non-canonical uids: fall back to the last dash.
	i := strings.LastIndex(key, "-")
	if i <= 0 || i == len(key)-1 {
		return "", "", fmt.Errorf("invalid container key %q", key)
	}
	return key[:i], key[i+1:], nil
}

func clonePod(p RuntimePod) RuntimePod {
	out := p
	out.Containers = copyStrings(p.Containers)
	if p.Resources != nil {
		out.Resources = make(map[string]ContainerResources, len(p.Resources))
		for k, v := range p.Resources {
			out.Resources[k] = v
		}
	}
	return out
}

func copyStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
