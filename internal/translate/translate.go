// Package translate converts raw Kubernetes resource snapshots into the
// normalized payloads ClusterAPI expects. Everything here is a pure function
// over the snapshot; partial or malformed resources degrade to the "Unknown"
// sentinel instead of failing.
package translate

import (
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/aonescu/miharu/internal/types"
)

// PhaseUnknown is substituted whenever a resource carries no usable status.
const PhaseUnknown = "Unknown"

// PodPhase returns the pod's phase, or PhaseUnknown when status is absent.
func PodPhase(pod *corev1.Pod) string {
	if pod == nil || pod.Status.Phase == "" {
		return PhaseUnknown
	}
	return string(pod.Status.Phase)
}

// PVCPhase returns the claim's phase, or PhaseUnknown when status is absent.
func PVCPhase(pvc *corev1.PersistentVolumeClaim) string {
	if pvc == nil || pvc.Status.Phase == "" {
		return PhaseUnknown
	}
	return string(pvc.Status.Phase)
}

// ContainerState renders a container state as a single string. When more than
// one branch is set the most live one wins: running > waiting > terminated.
func ContainerState(state corev1.ContainerState) string {
	switch {
	case state.Running != nil:
		return "Running"
	case state.Waiting != nil:
		return fmt.Sprintf("Waiting (%s)", state.Waiting.Reason)
	case state.Terminated != nil:
		return fmt.Sprintf("Terminated (%s)", state.Terminated.Reason)
	default:
		return PhaseUnknown
	}
}

// Pod builds the phase-change payload for a pod. previousPhase is the phase
// read from the history store before this event was applied; pass "" for a
// first observation.
func Pod(pod *corev1.Pod, clusterName, environment, previousPhase string, now time.Time) types.PodEvent {
	instance := types.PodInstance{
		PodName:     pod.Name,
		Namespace:   pod.Namespace,
		UID:         string(pod.UID),
		NodeName:    pod.Spec.NodeName,
		ClusterName: clusterName,
	}
	if !pod.CreationTimestamp.IsZero() {
		instance.CreationTimestamp = pod.CreationTimestamp.Format(time.RFC3339)
	}

	phase := types.PhaseInfo{
		CurrentPhase:         PodPhase(pod),
		PreviousPhase:        previousPhase,
		PhaseChangeTimestamp: now.Format(time.RFC3339),
		ClusterName:          clusterName,
		Conditions:           []types.PodCondition{},
	}
	for _, cond := range pod.Status.Conditions {
		c := types.PodCondition{
			Type:    string(cond.Type),
			Status:  string(cond.Status),
			Reason:  cond.Reason,
			Message: cond.Message,
		}
		if !cond.LastTransitionTime.IsZero() {
			c.LastTransitionTime = cond.LastTransitionTime.Format(time.RFC3339)
		}
		phase.Conditions = append(phase.Conditions, c)
	}

	var containers []types.ContainerInfo
	for _, cs := range pod.Status.ContainerStatuses {
		containers = append(containers, types.ContainerInfo{
			Name:         cs.Name,
			Ready:        cs.Ready,
			RestartCount: cs.RestartCount,
			State:        ContainerState(cs.State),
		})
	}

	return types.PodEvent{
		Instance:       instance,
		Phase:          phase,
		Containers:     containers,
		Environment:    environment,
		ClusterName:    clusterName,
		EventTimestamp: now.Format(time.RFC3339),
	}
}

// PVC builds the claim payload for an event of the given type.
func PVC(pvc *corev1.PersistentVolumeClaim, clusterName, environment, eventType string, now time.Time) types.PVCEvent {
	metadata := types.PVCMetadata{
		Name:      pvc.Name,
		Namespace: pvc.Namespace,
		UID:       string(pvc.UID),
	}
	if !pvc.CreationTimestamp.IsZero() {
		metadata.CreationTimestamp = pvc.CreationTimestamp.Format(time.RFC3339)
	}

	status := types.PVCStatus{
		Phase: PVCPhase(pvc),
	}
	for name, quantity := range pvc.Status.Capacity {
		if status.Capacity == nil {
			status.Capacity = make(map[string]string)
		}
		status.Capacity[string(name)] = quantity.String()
	}
	for _, mode := range pvc.Status.AccessModes {
		status.AccessModes = append(status.AccessModes, string(mode))
	}

	return types.PVCEvent{
		Metadata:       metadata,
		Status:         status,
		EventType:      eventType,
		ClusterName:    clusterName,
		Environment:    environment,
		EventTimestamp: now.Format(time.RFC3339),
	}
}
