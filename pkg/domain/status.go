package domain

// SagaStatus is the lifecycle state of a saga execution.
type SagaStatus string

const (
	SagaCreated  SagaStatus = "created"
	SagaRunning  SagaStatus = "running"
	SagaPaused   SagaStatus = "paused"
	SagaFinished SagaStatus = "finished"
	SagaErrored  SagaStatus = "errored"
)

// IsTerminal reports whether no further step can run.
func (s SagaStatus) IsTerminal() bool {
	return s == SagaFinished || s == SagaErrored
}

// StepStatus is the lifecycle state of a single step inside an execution.
type StepStatus string

const (
	StepCreated         StepStatus = "created"
	StepRunningLocal    StepStatus = "running_local"
	StepRunningRequest  StepStatus = "running_request"
	StepPausedOnReply   StepStatus = "paused_on_reply"
	StepRunningResponse StepStatus = "running_response"
	StepFinished        StepStatus = "finished"
	StepErrored         StepStatus = "errored"

	// StepCompensated marks a finished step whose compensation ran after the saga failed.
	StepCompensated StepStatus = "compensated"
)

// Outcome is the tagged result of driving an execution.
type Outcome int

const (
	// OutcomePaused means a remote step published its command and the execution awaits a reply.
	OutcomePaused Outcome = iota + 1
	// OutcomeFailed means a step errored; the execution keeps its state for inspection.
	OutcomeFailed
	// OutcomeFinished means every step finished.
	OutcomeFinished
)

func (o Outcome) String() string {
	switch o {
	case OutcomePaused:
		return "paused"
	case OutcomeFailed:
		return "failed"
	case OutcomeFinished:
		return "finished"
	default:
		return "unknown"
	}
}
