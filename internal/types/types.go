package types

// PodInstance identifies the pod an event refers to.
type PodInstance struct {
	PodName           string `json:"pod_name"`
	Namespace         string `json:"namespace"`
	UID               string `json:"uid"`
	NodeName          string `json:"node_name,omitempty"`
	CreationTimestamp string `json:"creation_timestamp,omitempty"`
	ClusterName       string `json:"cluster_name"`
}

// PodCondition is a flattened pod status condition.
type PodCondition struct {
	Type               string `json:"type"`
	Status             string `json:"status"`
	Reason             string `json:"reason,omitempty"`
	Message            string `json:"message,omitempty"`
	LastTransitionTime string `json:"last_transition_time,omitempty"`
}

// PhaseInfo describes a phase transition. PreviousPhase is the phase read
// from the history store before this event was recorded; it is empty on the
// first observation of a pod.
type PhaseInfo struct {
	CurrentPhase         string         `json:"current_phase"`
	PreviousPhase        string         `json:"previous_phase,omitempty"`
	PhaseChangeTimestamp string         `json:"phase_change_timestamp"`
	ClusterName          string         `json:"cluster_name"`
	Conditions           []PodCondition `json:"conditions"`
}

// ContainerInfo summarizes one container status. State is one of
// "Running", "Waiting (<reason>)", "Terminated (<reason>)" or "Unknown".
type ContainerInfo struct {
	Name         string `json:"name"`
	Ready        bool   `json:"ready"`
	RestartCount int32  `json:"restart_count"`
	State        string `json:"state"`
}

// PodEvent is the normalized pod phase-change notification sent to ClusterAPI.
type PodEvent struct {
	Instance       PodInstance     `json:"instance"`
	Phase          PhaseInfo       `json:"phase"`
	Containers     []ContainerInfo `json:"containers"`
	Environment    string          `json:"environment"`
	ClusterName    string          `json:"cluster_name"`
	EventType      string          `json:"event_type,omitempty"`
	EventTimestamp string          `json:"event_timestamp"`
}

// PVCMetadata identifies the claim an event refers to.
type PVCMetadata struct {
	Name              string `json:"name"`
	Namespace         string `json:"namespace"`
	UID               string `json:"uid"`
	CreationTimestamp string `json:"creation_timestamp,omitempty"`
}

// PVCStatus is the claim status at the time of the event.
type PVCStatus struct {
	Phase       string            `json:"phase"`
	Capacity    map[string]string `json:"capacity,omitempty"`
	AccessModes []string          `json:"access_modes,omitempty"`
}

// PVCEvent is the normalized claim notification sent to ClusterAPI.
type PVCEvent struct {
	Metadata       PVCMetadata `json:"metadata"`
	Status         PVCStatus   `json:"status"`
	EventType      string      `json:"event_type"`
	ClusterName    string      `json:"cluster_name"`
	Environment    string      `json:"environment"`
	EventTimestamp string      `json:"event_timestamp"`
}
