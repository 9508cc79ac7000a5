package definition

import (
	"errors"
	"fmt"
)

// Builder manages the saga construction.
type Builder struct {
	name  string
	steps []*StepBuilder
}

// New creates a new saga builder.
func New(name string) *Builder {
	return &Builder{name: name}
}

// Step appends a new step to the saga.
// An empty name is replaced by "step-<index>".
func (b *Builder) Step(name string) *StepBuilder {
	if name == "" {
		name = fmt.Sprintf("step-%d", len(b.steps))
	}
	sb := &StepBuilder{
		step:    Step{Name: name},
		builder: b,
	}
	b.steps = append(b.steps, sb)
	return sb
}

// Build validates every step and freezes the definition.
func (b *Builder) Build() (*Saga, error) {
	if b.name == "" {
		return nil, errors.New("saga name cannot be empty")
	}

	saga := &Saga{
		name:  b.name,
		steps: make([]*Step, 0, len(b.steps)),
	}
	for i, sb := range b.steps {
		if err := validate(sb.step); err != nil {
			return nil, fmt.Errorf("saga %q step %d (%s): %w", b.name, i, sb.step.Name, err)
		}
		step := sb.step
		saga.steps = append(saga.steps, &step)
	}
	return saga, nil
}

// MustBuild is like Build but panics on error. Intended for package-level definitions.
func (b *Builder) MustBuild() *Saga {
	saga, err := b.Build()
	if err != nil {
		panic(err)
	}
	return saga
}

func validate(s Step) error {
	switch {
	case s.Invoke == nil && s.Request == nil:
		return fmt.Errorf("%w: needs a local callback or a request", ErrInvalidStep)
	case s.Invoke != nil && s.Request != nil:
		return fmt.Errorf("%w: cannot be both local and remote", ErrInvalidStep)
	case s.Request == nil && (s.OnReply != nil || s.OnError != nil):
		return fmt.Errorf("%w: reply callbacks require a request", ErrInvalidStep)
	}
	return nil
}
