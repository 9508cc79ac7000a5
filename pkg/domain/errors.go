package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutionNotFound is returned when no stored execution matches an identifier.
	ErrExecutionNotFound = errors.New("saga execution not found")

	// ErrDefinitionNotFound is returned when a saga name is not present in the registry.
	ErrDefinitionNotFound = errors.New("saga definition not found")

	// ErrConflict is returned by a store when the persisted version moved since the execution was loaded.
	ErrConflict = errors.New("saga execution was modified concurrently")

	// ErrNoAwaitingStep is returned when a reply does not match a step paused on a reply.
	ErrNoAwaitingStep = errors.New("no step is awaiting this reply")

	// ErrBrokerNotProvided is returned when a request executor is built without a command sender.
	ErrBrokerNotProvided = errors.New("command sender not provided")

	// ErrStoreNotProvided is returned when a manager is built without an execution store.
	ErrStoreNotProvided = errors.New("execution store not provided")

	// ErrInvalidRun is returned when a run request does not carry exactly one of a name or a reply.
	ErrInvalidRun = errors.New("exactly one of saga name or reply must be provided")
)

// ExecutorError wraps any failure raised by a step callback or by the broker while a step runs.
type ExecutorError struct {
	Step  int
	Cause error
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("step %d failed: %v", e.Step, e.Cause)
}

func (e *ExecutorError) Unwrap() error {
	return e.Cause
}

// ProtocolError reports a reply that cannot be applied to an execution.
// It never implies the execution was mutated.
type ProtocolError struct {
	ExecutionID string
	Reason      string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("saga %s: %s: %s", e.ExecutionID, ErrNoAwaitingStep, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return ErrNoAwaitingStep
}

// RemoteError carries the error text of a reply whose status is not success.
type RemoteError struct {
	Service string
	Status  ReplyStatus
	Message string
}

func (e *RemoteError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("remote %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("remote %s from %s: %s", e.Status, e.Service, e.Message)
}
