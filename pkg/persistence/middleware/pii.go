package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/ports"
)

// Mask replaces every value whose key matches a PII pattern.
const Mask = "***"

type piiMiddleware struct {
	next     ports.ExecutionStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks context values of keys matching the patterns.
// Masking is lossy: a resumed execution sees the mask, not the original value.
// Use it for keys no later step reads, or use NewEncryptionMiddleware instead.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.ExecutionStore) ports.ExecutionStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Save(ctx context.Context, rec *domain.ExecutionRecord) error {
	// Clone so the caller's record keeps the real values.
	cloned := rec.Clone()
	for _, k := range cloned.Context.Keys() {
		v, _ := cloned.Context.Get(k)
		if m.matches(k) {
			cloned.Context.Set(k, Mask)
			continue
		}
		cloned.Context.Set(k, m.mask(v))
	}

	if err := m.next.Save(ctx, cloned); err != nil {
		return err
	}
	rec.Version = cloned.Version
	return nil
}

func (m *piiMiddleware) Load(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	return m.next.Load(ctx, id)
}

func (m *piiMiddleware) Delete(ctx context.Context, id string) error {
	return m.next.Delete(ctx, id)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *piiMiddleware) matches(key string) bool {
	for _, p := range m.patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

// mask walks nested maps and slices. Clone already deep-copied them.
func (m *piiMiddleware) mask(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, sub := range t {
			if m.matches(k) {
				t[k] = Mask
			} else {
				t[k] = m.mask(sub)
			}
		}
		return t
	case []any:
		for i, sub := range t {
			t[i] = m.mask(sub)
		}
		return t
	case *domain.SagaContext:
		for _, k := range t.Keys() {
			sub, _ := t.Get(k)
			if m.matches(k) {
				t.Set(k, Mask)
			} else {
				t.Set(k, m.mask(sub))
			}
		}
		return t
	default:
		return v
	}
}
