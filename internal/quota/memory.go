package quota

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const lockStripes = 64

// record is the mutable per-client state. Access is guarded by the stripe
// lock of its client id.
type record struct {
	messages int64
	tokens   int64
	pending  int64
	resetAt  time.Time
}

// MemoryStore is an in-process Store. It does no I/O and never fails for a
// non-empty client id. Records are evicted by ttlcache once their window has
// elapsed, so idle clients do not accumulate.
type MemoryStore struct {
	limits  Limits
	now     func() time.Time
	records *ttlcache.Cache[string, *record]
	stripes [lockStripes]sync.Mutex
	started bool
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption configures MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for window resets.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEviction starts the ttlcache janitor so expired records are removed in
// the background. Without it expired records are dropped lazily on access.
func WithEviction() MemoryOption {
	return func(s *MemoryStore) { s.started = true }
}

// NewMemoryStore creates an in-memory store enforcing limits.
func NewMemoryStore(limits Limits, opts ...MemoryOption) *MemoryStore {
	limits = limits.Normalize()
	s := &MemoryStore{limits: limits, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.records = ttlcache.New[string, *record](
		ttlcache.WithTTL[string, *record](limits.Window),
		ttlcache.WithDisableTouchOnHit[string, *record](),
	)
	if s.started {
		go s.records.Start()
	}
	return s
}

// Close stops the eviction janitor if it was started.
func (s *MemoryStore) Close() {
	if s.started {
		s.records.Stop()
	}
}

// Limits reports the limits the store enforces.
func (s *MemoryStore) Limits() Limits { return s.limits }

// Len reports the number of tracked clients.
func (s *MemoryStore) Len() int { return s.records.Len() }

func (s *MemoryStore) stripe(clientID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return &s.stripes[h.Sum32()%lockStripes]
}

// current returns the live record for clientID, creating or replacing it when
// absent or past its reset time. Caller holds the stripe lock.
func (s *MemoryStore) current(clientID string) *record {
	now := s.now()
	if item := s.records.Get(clientID); item != nil {
		rec := item.Value()
		if now.Before(rec.resetAt) {
			return rec
		}
	}
	rec := &record{resetAt: now.Add(s.limits.Window)}
	s.records.Set(clientID, rec, s.limits.Window)
	return rec
}

// peek returns the record without creating one. Caller holds the stripe lock.
func (s *MemoryStore) peek(clientID string) (*record, bool) {
	item := s.records.Get(clientID)
	if item == nil {
		return nil, false
	}
	rec := item.Value()
	if !s.now().Before(rec.resetAt) {
		return nil, false
	}
	return rec, true
}

func (r *record) usage(clientID string) Usage {
	return Usage{
		ClientID:     clientID,
		MessageCount: r.messages,
		TokenCount:   r.tokens,
		Pending:      r.pending,
		ResetAt:      r.resetAt,
	}
}

// CheckAndReserve admits or denies one request for clientID.
func (s *MemoryStore) CheckAndReserve(_ context.Context, clientID string) (Decision, error) {
	if clientID == "" {
		return Decision{}, ErrEmptyClientID
	}
	mu := s.stripe(clientID)
	mu.Lock()
	defer mu.Unlock()

	rec := s.current(clientID)
	if reason := Decide(s.limits, rec.messages, rec.tokens, rec.pending); reason != ReasonNone {
		return Decision{Allowed: false, Reason: reason, Usage: rec.usage(clientID)}, nil
	}
	rec.pending++
	return Decision{Allowed: true, Usage: rec.usage(clientID)}, nil
}

// RecordUsage counts one message plus tokens and drops one pending slot.
// A request that straddles a reset is counted against the new window.
func (s *MemoryStore) RecordUsage(_ context.Context, clientID string, tokens int64) (Usage, error) {
	if clientID == "" {
		return Usage{}, ErrEmptyClientID
	}
	if tokens < 0 {
		tokens = 0
	}
	mu := s.stripe(clientID)
	mu.Lock()
	defer mu.Unlock()

	rec := s.current(clientID)
	rec.messages++
	rec.tokens += tokens
	if rec.pending > 0 {
		rec.pending--
	}
	return rec.usage(clientID), nil
}

// Release drops one pending slot for clientID.
func (s *MemoryStore) Release(_ context.Context, clientID string) error {
	if clientID == "" {
		return ErrEmptyClientID
	}
	mu := s.stripe(clientID)
	mu.Lock()
	defer mu.Unlock()

	if rec, ok := s.peek(clientID); ok && rec.pending > 0 {
		rec.pending--
	}
	return nil
}

// Usage returns clientID's counters. A client without a live window reports
// zero counts and a zero ResetAt.
func (s *MemoryStore) Usage(_ context.Context, clientID string) (Usage, error) {
	if clientID == "" {
		return Usage{}, ErrEmptyClientID
	}
	mu := s.stripe(clientID)
	mu.Lock()
	defer mu.Unlock()

	if rec, ok := s.peek(clientID); ok {
		return rec.usage(clientID), nil
	}
	return Usage{ClientID: clientID}, nil
}

// restore installs a record loaded from a snapshot.
func (s *MemoryStore) restore(clientID string, rec *record) {
	mu := s.stripe(clientID)
	mu.Lock()
	defer mu.Unlock()
	ttl := rec.resetAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	s.records.Set(clientID, rec, ttl)
}

// snapshot copies every live record.
func (s *MemoryStore) snapshot() map[string]record {
	out := make(map[string]record)
	for _, id := range s.records.Keys() {
		mu := s.stripe(id)
		mu.Lock()
		if rec, ok := s.peek(id); ok {
			out[id] = *rec
		}
		mu.Unlock()
	}
	return out
}
