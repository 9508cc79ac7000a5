package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
)

// GenerateMermaid produces a Mermaid flowchart of a saga definition.
// Shapes:
// - Start: ((Circle))
// - Remote step: [[Subroutine]]
// - Local step: [Rectangle]
// - Compensation: [/Parallelogram/], linked with a dotted arrow
// When rec is not nil, step nodes are styled by their recorded status.
func GenerateMermaid(saga *definition.Saga, rec *domain.ExecutionRecord) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	start := "start_" + sanitizeMermaidID(saga.Name())
	fmt.Fprintf(&sb, "    %s((\"%s\"))\n", start, escape(saga.Name()))

	prev := start
	for i, step := range saga.Steps() {
		id := stepID(i, step.Name)
		opener, closer := "[", "]"
		if step.IsRemote() {
			opener, closer = "[[", "]]"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", id, opener, escape(step.Name), closer)

		arrow := "-->"
		if i > 0 && saga.Step(i-1).IsRemote() {
			arrow = "-- \"reply\" -->"
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", prev, arrow, id)

		if step.Compensate != nil {
			undo := id + "_undo"
			fmt.Fprintf(&sb, "    %s[/\"undo %s\"/]\n", undo, escape(step.Name))
			fmt.Fprintf(&sb, "    %s -.-> %s\n", id, undo)
		}
		prev = id
	}

	if rec != nil {
		writeOverlay(&sb, saga, rec)
	}
	return sb.String()
}

func writeOverlay(sb *strings.Builder, saga *definition.Saga, rec *domain.ExecutionRecord) {
	sb.WriteString("\n    %% Execution " + rec.ID + "\n")
	// Force black text (color:#000) for contrast regardless of theme.
	sb.WriteString("    classDef finished fill:#dcfce7,stroke:#15803d,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef current fill:#fef08a,stroke:#ca8a04,stroke-width:4px,color:#000;\n")
	sb.WriteString("    classDef errored fill:#fee2e2,stroke:#b91c1c,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef compensated fill:#f3e8ff,stroke:#7e22ce,stroke-width:2px,color:#000;\n")

	for i, st := range rec.Steps {
		if i >= saga.Len() {
			break
		}
		id := stepID(i, saga.Step(i).Name)
		switch st.Status {
		case domain.StepFinished:
			fmt.Fprintf(sb, "    class %s finished;\n", id)
		case domain.StepErrored:
			fmt.Fprintf(sb, "    class %s errored;\n", id)
		case domain.StepCompensated:
			fmt.Fprintf(sb, "    class %s compensated;\n", id)
		case domain.StepCreated:
		default:
			fmt.Fprintf(sb, "    class %s current;\n", id)
		}
	}
}

// stepID prefixes the index so steps sharing a name stay distinct nodes.
func stepID(i int, name string) string {
	return fmt.Sprintf("s%d_%s", i, sanitizeMermaidID(name))
}

func escape(label string) string {
	return strings.ReplaceAll(label, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
