// Package adapters holds one translation adapter per agent backend.
// Adapters are stateful per running session: construct a fresh one for
// every backend process/connection.
package adapters

import (
	"fmt"

	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/protocol"
)

// For returns a fresh adapter instance for the given backend.
func For(backend models.Backend) (protocol.Adapter, error) {
	switch backend {
	case models.BackendClaude:
		return NewClaude(), nil
	case models.BackendGemini:
		return NewGemini(), nil
	case models.BackendCodex:
		return NewCodex(), nil
	case models.BackendCursor:
		return NewCursor(), nil
	case models.BackendOpenCode:
		return NewOpenCode(), nil
	}
	return nil, fmt.Errorf("no adapter for backend %q", backend)
}

// turnIDs hands out ids shared by the deltas of one logical assistant
// turn. Callers accumulate deltas with equal ids into a single turn.
type turnIDs struct {
	prefix  string
	counter int
	current string
}

func (t *turnIDs) active() string {
	if t.current == "" {
		t.counter++
		t.current = fmt.Sprintf("%s-turn-%d", t.prefix, t.counter)
	}
	return t.current
}

func (t *turnIDs) reset() {
	t.current = ""
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func obj(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	return o
}

func num(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func strs(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
