package engine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf).Level(zerolog.DebugLevel))
	p.Publish(Event{Name: "engine.ready", Model: "ZordCoder-v1", Fields: map[string]any{"load_ms": 12}})
	out := buf.String()
	for _, want := range []string{`"event":"engine.ready"`, `"model":"ZordCoder-v1"`, `"load_ms":12`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}

	buf.Reset()
	NewLogPublisher(zerolog.New(&buf).Level(zerolog.InfoLevel)).Publish(Event{Name: "quiet"})
	if buf.Len() != 0 {
		t.Fatalf("debug events must be filtered at info: %q", buf.String())
	}
}

func TestMultiPublisher(t *testing.T) {
	a, b := NewMemoryPublisher(), NewMemoryPublisher()
	m := MultiPublisher{a, nil, b}
	m.Publish(Event{Name: "x"})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("fan-out failed: %v %v", a.Names(), b.Names())
	}
}
