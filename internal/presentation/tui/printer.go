// Package tui renders executions for humans: colored when writing to a terminal, plain otherwise.
package tui

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer writes execution listings and details to out.
type Printer struct {
	out     io.Writer
	profile termenv.Profile
}

// NewPrinter picks the color profile of out. Non-terminal writers get plain text.
func NewPrinter(out io.Writer) *Printer {
	profile := termenv.Ascii
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		profile = termenv.EnvColorProfile()
	}
	return &Printer{out: out, profile: profile}
}

// NewPlainPrinter never emits escape sequences.
func NewPlainPrinter(out io.Writer) *Printer {
	return &Printer{out: out, profile: termenv.Ascii}
}

func (p *Printer) color(s, hex string) string {
	return termenv.String(s).Foreground(p.profile.Color(hex)).String()
}

// Saga colors a saga status.
func (p *Printer) Saga(s domain.SagaStatus) string {
	switch s {
	case domain.SagaFinished:
		return p.color(string(s), "#22c55e")
	case domain.SagaErrored:
		return p.color(string(s), "#ef4444")
	case domain.SagaPaused:
		return p.color(string(s), "#eab308")
	default:
		return p.color(string(s), "#818cf8")
	}
}

// Step colors a step status.
func (p *Printer) Step(s domain.StepStatus) string {
	switch s {
	case domain.StepFinished:
		return p.color(string(s), "#22c55e")
	case domain.StepErrored:
		return p.color(string(s), "#ef4444")
	case domain.StepPausedOnReply:
		return p.color(string(s), "#eab308")
	case domain.StepCompensated:
		return p.color(string(s), "#c084fc")
	case domain.StepCreated:
		return string(s)
	default:
		return p.color(string(s), "#818cf8")
	}
}

// Executions prints one row per record.
func (p *Printer) Executions(recs []*domain.ExecutionRecord) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(p.out, "No stored executions found.")
		return err
	}

	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSAGA\tSTATUS\tSTEP\tUPDATED")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			rec.ID, rec.SagaName, p.Saga(rec.Status), rec.ActiveStep, rec.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// Execution prints a record step by step. def may be nil when the definition
// is not registered in this process; steps are then shown by index.
func (p *Printer) Execution(rec *domain.ExecutionRecord, def *definition.Saga) error {
	fmt.Fprintf(p.out, "Execution %s\n", rec.ID)
	fmt.Fprintf(p.out, "  saga:    %s\n", rec.SagaName)
	fmt.Fprintf(p.out, "  status:  %s\n", p.Saga(rec.Status))
	if rec.User != "" {
		fmt.Fprintf(p.out, "  user:    %s\n", rec.User)
	}
	fmt.Fprintf(p.out, "  version: %d\n", rec.Version)
	fmt.Fprintf(p.out, "  updated: %s\n", rec.UpdatedAt.Format(time.RFC3339))
	if rec.Error != "" {
		fmt.Fprintf(p.out, "  error:   %s\n", p.color(rec.Error, "#ef4444"))
	}

	fmt.Fprintln(p.out, "\nSteps:")
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	for i, st := range rec.Steps {
		marker := " "
		if i == rec.ActiveStep && !rec.Status.IsTerminal() {
			marker = ">"
		}
		name := fmt.Sprintf("#%d", i)
		kind := ""
		if def != nil && i < def.Len() {
			step := def.Step(i)
			name = step.Name
			kind = "local"
			if step.IsRemote() {
				kind = "remote"
			}
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\n", marker, name, kind, p.Step(st.Status), st.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if rec.Context != nil && rec.Context.Len() > 0 {
		fmt.Fprintln(p.out, "\nContext:")
		for _, k := range rec.Context.Keys() {
			v, _ := rec.Context.Get(k)
			fmt.Fprintf(p.out, "  %s: %v\n", k, v)
		}
	}
	return nil
}
