package model

// Event payloads published on the project pub/sub topics. Field names
// follow the wire format consumed by the UI and sibling subsystems.

// LockEventLocked means new lock rows were created; LockEventUnlocked
// means rows were removed.
const (
	LockEventLocked   = "locked"
	LockEventUnlocked = "unlocked"
)

// InstanceLockEvent is published on the instance-lock topic.
type InstanceLockEvent struct {
	Type     string         `json:"type"`
	Locks    []InstanceLock `json:"locks,omitempty"`
	StateIDs []string       `json:"stateIds,omitempty"`
}

// InstanceStateEvent is published on the instance-state topic. A patched
// event carries only the changed fields; an updated event carries the
// whole row.
type InstanceStateEvent struct {
	Type    string         `json:"type"`
	StateID string         `json:"stateId,omitempty"`
	Patch   map[string]any `json:"patch,omitempty"`
	State   *InstanceState `json:"state,omitempty"`
}

// ProjectModelEvent is the consolidated diff published after a
// reconciliation run or a declared-graph mutation.
type ProjectModelEvent struct {
	UpdatedVirtualInstances   []*InstanceModel `json:"updatedVirtualInstances,omitempty"`
	DeletedVirtualInstanceIDs []string         `json:"deletedVirtualInstanceIds,omitempty"`
	UpdatedGhostInstances     []*InstanceModel `json:"updatedGhostInstances,omitempty"`
	DeletedGhostInstanceIDs   []string         `json:"deletedGhostInstanceIds,omitempty"`
	UpdatedInstances          []*InstanceModel `json:"updatedInstances,omitempty"`
	DeletedInstanceIDs        []string         `json:"deletedInstanceIds,omitempty"`
	UpdatedHubs               []Hub            `json:"updatedHubs,omitempty"`
	DeletedHubIDs             []string         `json:"deletedHubIds,omitempty"`
}

// Empty reports whether the event carries no changes at all. Empty events
// are not published.
func (e *ProjectModelEvent) Empty() bool {
	return len(e.UpdatedVirtualInstances) == 0 &&
		len(e.DeletedVirtualInstanceIDs) == 0 &&
		len(e.UpdatedGhostInstances) == 0 &&
		len(e.DeletedGhostInstanceIDs) == 0 &&
		len(e.UpdatedInstances) == 0 &&
		len(e.DeletedInstanceIDs) == 0 &&
		len(e.UpdatedHubs) == 0 &&
		len(e.DeletedHubIDs) == 0
}

// OperationEvent is published on the operation topic whenever an
// operation row changes.
type OperationEvent struct {
	Type      string     `json:"type"`
	Operation *Operation `json:"operation"`
}

// ProjectUnlockEvent is published on the project-unlock-state topic once
// the project's database becomes accessible.
type ProjectUnlockEvent struct {
	Type string `json:"type"`
}
