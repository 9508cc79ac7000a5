package tui_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/aretw0/sagaflow/internal/presentation/tui"
	"github.com/aretw0/sagaflow/internal/testutils"
	"github.com/aretw0/sagaflow/pkg/definition"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record() *domain.ExecutionRecord {
	return &domain.ExecutionRecord{
		ID:         "e-1",
		SagaName:   "order",
		Status:     domain.SagaPaused,
		ActiveStep: 1,
		Context:    domain.NewContext("order_id", "o-1"),
		Steps: []domain.StepRecord{
			{Status: domain.StepFinished},
			{Status: domain.StepPausedOnReply, Token: "t"},
		},
		User:      "alice",
		Version:   2,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestPrinter_Executions(t *testing.T) {
	var buf bytes.Buffer
	p := tui.NewPrinter(&buf)

	require.NoError(t, p.Executions([]*domain.ExecutionRecord{record()}))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "e-1")
	assert.Contains(t, out, "paused")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.NotContains(t, out, "\x1b[", "buffers are not terminals")
}

func TestPrinter_NoExecutions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tui.NewPlainPrinter(&buf).Executions(nil))
	assert.Equal(t, "No stored executions found.\n", buf.String())
}

func TestPrinter_ExecutionWithDefinition(t *testing.T) {
	def := definition.New("order").
		Step("reserve").Invoke(testutils.Set("reserved", true)).
		Step("charge").Request(testutils.Send("payments")).
		MustBuild()

	var buf bytes.Buffer
	require.NoError(t, tui.NewPlainPrinter(&buf).Execution(record(), def))

	out := buf.String()
	assert.Contains(t, out, "user:    alice")
	assert.Contains(t, out, "reserve")
	assert.Contains(t, out, "> charge")
	assert.Contains(t, out, "remote")
	assert.Contains(t, out, "order_id: o-1")
}

func TestPrinter_ExecutionWithoutDefinition(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tui.NewPlainPrinter(&buf).Execution(record(), nil))
	assert.Contains(t, buf.String(), "> #1")
}
