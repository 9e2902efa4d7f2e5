// Package model holds the persisted data model of the state-coordination
// core: instance states, evaluation states, locks, operations and the
// project unlock suite.
package model

import "time"

// InstanceKind distinguishes leaf instances from composites that expand
// into virtual children during evaluation.
type InstanceKind string

const (
	KindUnit      InstanceKind = "unit"
	KindComposite InstanceKind = "composite"
)

// InstanceSource records where an instance came from. Resident instances
// are declared by the user; virtual ones exist only because evaluation of
// a composite produced them.
type InstanceSource string

const (
	SourceResident InstanceSource = "resident"
	SourceVirtual  InstanceSource = "virtual"
)

// InstanceStatus is the deployment status of an instance.
type InstanceStatus string

const (
	StatusUndeployed InstanceStatus = "undeployed"
	StatusDeploying  InstanceStatus = "deploying"
	StatusDeployed   InstanceStatus = "deployed"
	StatusDegraded   InstanceStatus = "degraded"
)

// InstanceModel is the specification of a single instance as declared by
// the user or produced by the library evaluator.
type InstanceModel struct {
	Name   string         `json:"name" pkl:"name"`
	Type   string         `json:"type" pkl:"type"`
	Kind   InstanceKind   `json:"kind" pkl:"kind"`
	Inputs map[string]any `json:"inputs,omitempty" pkl:"inputs"`
}

// InstanceState is one row per instance identity within a project. Rows
// are never physically deleted; "deletion" transitions the status to
// undeployed and clears derived fields, preserving audit history and the
// lock/evaluation foreign keys.
type InstanceState struct {
	ID                   string
	InstanceID           string
	Kind                 InstanceKind
	Source               InstanceSource
	Status               InstanceStatus
	StatusFields         map[string]any
	Model                *InstanceModel
	ResolvedInputs       map[string]any
	InputHash            string
	OutputHash           string
	DependencyOutputHash string
	CurrentResourceCount int
	ParentID             string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// EvaluationStatus is the evaluator's verdict for one instance.
type EvaluationStatus string

const (
	EvaluationOK    EvaluationStatus = "evaluated"
	EvaluationError EvaluationStatus = "error"
)

// InstanceEvaluationState holds the evaluator's verdict for one instance
// state. At most one row exists per state id. For a virtual-source state,
// the existence of this row means "the evaluator currently reproduces this
// instance"; its absence on a non-undeployed virtual state is the ghost
// condition.
type InstanceEvaluationState struct {
	StateID    string           `json:"stateId"`
	InstanceID string           `json:"instanceId,omitempty"`
	Status     EvaluationStatus `json:"status"`
	Message    string           `json:"message"`
	Model      *InstanceModel   `json:"model,omitempty"`
}

// InstanceLock marks an instance as busy. The token is an opaque string
// shared by every lock acquired in one logical operation; it is the sole
// credential required to release the lock via the checked unlock path.
type InstanceLock struct {
	StateID    string    `json:"stateId"`
	Token      string    `json:"token"`
	Meta       string    `json:"meta"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// EvaluatedInstance is one entry of the reconciler's target set: the
// verdict to persist for a single instance id.
type EvaluatedInstance struct {
	InstanceID string
	Kind       InstanceKind
	Status     EvaluationStatus
	Message    string
	Model      *InstanceModel
}

// VirtualInstance is one node of the evaluator's output tree. ParentID
// names the instance id of the composite that produced it, or is empty
// for roots.
type VirtualInstance struct {
	InstanceID string         `json:"instanceId"`
	ParentID   string         `json:"parentId,omitempty"`
	Kind       InstanceKind   `json:"kind"`
	Model      *InstanceModel `json:"model"`
}

// Operation groups a set of requested instance ids under one logical
// action (deploy, forget, ...). Rows are retained historically.
type Operation struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Options    map[string]any `json:"options,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
}

// InstanceOperationState records per-instance progress within one
// operation.
type InstanceOperationState struct {
	OperationID string    `json:"operationId"`
	StateID     string    `json:"stateId"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UnlockMethod is one recipient able to independently decrypt the
// project's master key. The wrapped key blob is opaque to this system.
type UnlockMethod struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	WrappedKey []byte    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DeclaredInstance is one entry of the project's declared graph as
// supplied by the project model resolver.
type DeclaredInstance struct {
	InstanceID string         `json:"instanceId" pkl:"instanceId"`
	Kind       InstanceKind   `json:"kind" pkl:"kind"`
	Type       string         `json:"type" pkl:"type"`
	Inputs     map[string]any `json:"inputs,omitempty" pkl:"inputs"`
}

// Hub is a named connection point between declared instances.
type Hub struct {
	ID   string `json:"id" pkl:"id"`
	Name string `json:"name" pkl:"name"`
}

// Project identifies one tenant project.
type Project struct {
	ID   string `json:"id" pkl:"id"`
	Name string `json:"name" pkl:"name"`
}

// Library identifies the resource library a project evaluates against.
type Library struct {
	ID      string `json:"id" pkl:"id"`
	Version string `json:"version" pkl:"version"`
}
