package engine

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event represents an engine lifecycle event.
// Minimal and stable: name + model and optional fields via key/values.
type Event struct {
	Name   string
	Model  string
	Fields map[string]any
}

// EventPublisher receives events from the engine. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in-memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns the event names in publish order.
func (p *MemoryPublisher) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Name
	}
	return out
}

// LogPublisher writes every event to a zerolog logger at debug level.
type LogPublisher struct{ log zerolog.Logger }

func NewLogPublisher(l zerolog.Logger) LogPublisher { return LogPublisher{log: l} }

func (p LogPublisher) Publish(e Event) {
	ev := p.log.Debug().Str("event", e.Name)
	if e.Model != "" {
		ev = ev.Str("model", e.Model)
	}
	ev.Fields(e.Fields).Msg("event")
}

// MultiPublisher fans events out to several publishers.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}
