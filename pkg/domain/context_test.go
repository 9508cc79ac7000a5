package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSagaContext_OrderAndOverride(t *testing.T) {
	c := NewContext("b", 1, "a", 2)
	c.Set("c", 3)
	c.Set("b", 10) // override keeps position

	assert.Equal(t, []string{"b", "a", "c"}, c.Keys())
	v, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestSagaContext_Merge(t *testing.T) {
	base := NewContext("order", "o-1", "status", "pending")
	base.Merge(NewContext("status", "paid", "receipt", "r-9"))

	assert.Equal(t, []string{"order", "status", "receipt"}, base.Keys())
	status, _ := base.Get("status")
	assert.Equal(t, "paid", status)

	base.Merge(nil)
	assert.Equal(t, 3, base.Len())
}

func TestSagaContext_CloneIsolation(t *testing.T) {
	orig := NewContext("items", []any{"a"}, "meta", map[string]any{"k": "v"})
	clone := orig.Clone()

	clone.Set("extra", true)
	clone.values["meta"].(map[string]any)["k"] = "changed"
	clone.values["items"].([]any)[0] = "z"

	assert.Equal(t, 2, orig.Len())
	meta, _ := orig.Get("meta")
	assert.Equal(t, "v", meta.(map[string]any)["k"])
	items, _ := orig.Get("items")
	assert.Equal(t, "a", items.([]any)[0])
}

func TestSagaContext_NilSafe(t *testing.T) {
	var c *SagaContext
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("x")
	assert.False(t, ok)
	assert.NotNil(t, c.Clone())

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestSagaContext_JSONKeepsOrder(t *testing.T) {
	c := NewContext("zeta", 1, "alpha", "two", "mid", map[string]any{"x": true})

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":"two","mid":{"x":true}}`, string(data))

	var decoded SagaContext
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, decoded.Keys())
	assert.True(t, c.Equal(&decoded))
}

func TestSagaContext_UnmarshalRejectsNonObject(t *testing.T) {
	var c SagaContext
	err := json.Unmarshal([]byte(`[1,2]`), &c)
	assert.Error(t, err)
}

func TestSagaContext_Decode(t *testing.T) {
	c := NewContext("order_id", "o-1", "amount", 12.5, "qty", "3")

	var out struct {
		OrderID string  `json:"order_id"`
		Amount  float64 `json:"amount"`
		Qty     int     `json:"qty"`
	}
	require.NoError(t, c.Decode(&out))
	assert.Equal(t, "o-1", out.OrderID)
	assert.Equal(t, 12.5, out.Amount)
	assert.Equal(t, 3, out.Qty)
}

func TestNewContext_PanicsOnOddPairs(t *testing.T) {
	assert.Panics(t, func() { NewContext("a") })
	assert.Panics(t, func() { NewContext(1, "a") })
}

func TestReply_DecodeAndOk(t *testing.T) {
	cmd := Command{CorrelationID: "id-1", Token: "tok"}
	r := ReplyFor(cmd, map[string]any{"ticket": "t-7"})

	assert.True(t, r.Ok())
	assert.Equal(t, "tok", r.Token)

	var out struct {
		Ticket string `json:"ticket"`
	}
	require.NoError(t, r.Decode(&out))
	assert.Equal(t, "t-7", out.Ticket)

	r.Status = ReplyError
	assert.False(t, r.Ok())
}

func TestExecutionRecord_Clone(t *testing.T) {
	rec := &ExecutionRecord{
		ID:      "x",
		Context: NewContext("a", 1),
		Steps:   []StepRecord{{Status: StepFinished}},
	}
	c := rec.Clone()
	c.Steps[0].Status = StepErrored
	c.Context.Set("b", 2)

	assert.Equal(t, StepFinished, rec.Steps[0].Status)
	assert.Equal(t, 1, rec.Context.Len())
}
