package definition

// StepBuilder provides a fluent API for configuring a step.
type StepBuilder struct {
	step    Step
	builder *Builder
}

// Invoke makes the step local.
func (s *StepBuilder) Invoke(fn LocalFunc) *StepBuilder {
	s.step.Invoke = fn
	return s
}

// Request makes the step remote. The returned request is published and the saga pauses.
func (s *StepBuilder) Request(fn RequestFunc) *StepBuilder {
	s.step.Request = fn
	return s
}

// OnReply handles a successful reply.
func (s *StepBuilder) OnReply(fn ReplyFunc) *StepBuilder {
	s.step.OnReply = fn
	return s
}

// OnError handles a reply whose status is not success.
// Without it such a reply fails the step.
func (s *StepBuilder) OnError(fn ReplyFunc) *StepBuilder {
	s.step.OnError = fn
	return s
}

// Compensate defines the local action that reverts this step's effect.
func (s *StepBuilder) Compensate(fn LocalFunc) *StepBuilder {
	s.step.Compensate = fn
	return s
}

// Step starts the next step of the same saga.
func (s *StepBuilder) Step(name string) *StepBuilder {
	return s.builder.Step(name)
}

// Build builds the saga this step belongs to.
func (s *StepBuilder) Build() (*Saga, error) {
	return s.builder.Build()
}

// MustBuild builds the saga this step belongs to and panics on error.
func (s *StepBuilder) MustBuild() *Saga {
	return s.builder.MustBuild()
}
