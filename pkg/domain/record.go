package domain

import "time"

// StepRecord is the persisted form of one step execution.
type StepRecord struct {
	Status StepStatus `json:"status"`
	Token  string     `json:"token,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// ExecutionRecord is the backend-agnostic persisted form of a saga execution.
// The definition itself is never stored; it is re-bound by SagaName on load.
type ExecutionRecord struct {
	ID         string       `json:"id"`
	SagaName   string       `json:"saga_name"`
	Status     SagaStatus   `json:"status"`
	ActiveStep int          `json:"active_step"`
	Context    *SagaContext `json:"context"`
	Steps      []StepRecord `json:"steps"`
	User       string       `json:"user,omitempty"`
	Error      string       `json:"error,omitempty"`

	// Version is the optimistic concurrency counter. Zero means never stored.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Context = r.Context.Clone()
	out.Steps = make([]StepRecord, len(r.Steps))
	copy(out.Steps, r.Steps)
	return &out
}
