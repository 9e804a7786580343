package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zord/internal/engine"
	"zord/internal/prompt"
	"zord/internal/quota"
)

type genFunc func(ctx context.Context, prompt string, params engine.Params, onToken func(string) error) (engine.Result, error)

// fakeGenerator records calls and delegates to fn.
type fakeGenerator struct {
	fn    genFunc
	calls atomic.Int32

	mu      sync.Mutex
	prompts []string
	params  []engine.Params
}

func (g *fakeGenerator) Generate(ctx context.Context, p string, params engine.Params, onToken func(string) error) (engine.Result, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.params = append(g.params, params)
	g.mu.Unlock()
	if g.fn == nil {
		return echo(ctx, p, params, onToken)
	}
	return g.fn(ctx, p, params, onToken)
}

func (g *fakeGenerator) lastParams() engine.Params {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.params[len(g.params)-1]
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

// echo streams a fixed 8 byte answer (2 estimated tokens).
func echo(_ context.Context, _ string, _ engine.Params, onToken func(string) error) (engine.Result, error) {
	for _, tok := range []string{"Hell", "o!!!"} {
		if err := onToken(tok); err != nil {
			return engine.Result{}, err
		}
	}
	return engine.Result{Text: "Hello!!!", FinishReason: "stop", Started: true}, nil
}

func returning(res engine.Result, err error) genFunc {
	return func(context.Context, string, engine.Params, func(string) error) (engine.Result, error) {
		return res, err
	}
}

// failingStore wraps a store and fails selected operations.
type failingStore struct {
	quota.Store
	failReserve bool
	failRecord  bool
	panicAt     string
}

var errStoreDown = errors.New("dial tcp 10.0.0.1:6379: connection refused")

func (s *failingStore) CheckAndReserve(ctx context.Context, id string) (quota.Decision, error) {
	if s.panicAt == "reserve" {
		panic("store exploded")
	}
	if s.failReserve {
		return quota.Decision{}, errStoreDown
	}
	return s.Store.CheckAndReserve(ctx, id)
}

func (s *failingStore) RecordUsage(ctx context.Context, id string, tokens int64) (quota.Usage, error) {
	if s.failRecord {
		return quota.Usage{}, errStoreDown
	}
	return s.Store.RecordUsage(ctx, id, tokens)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	c     *Coordinator
	gen   *fakeGenerator
	store *quota.MemoryStore
	clock *fakeClock
	pub   *engine.MemoryPublisher
}

func newHarness(t *testing.T, limits quota.Limits, opts Options) *harness {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := quota.NewMemoryStore(limits, quota.WithClock(clk.Now))
	t.Cleanup(store.Close)
	h := &harness{store: store, clock: clk, pub: engine.NewMemoryPublisher()}
	gen, _ := opts.Generator.(*fakeGenerator)
	if gen == nil {
		gen = &fakeGenerator{}
	}
	h.gen = gen
	opts.Generator = gen
	if opts.Store == nil {
		opts.Store = store
	}
	if opts.ModelName == "" {
		opts.ModelName = "ZordCoder-v1"
	}
	opts.Publisher = h.pub
	c, err := New(opts)
	require.NoError(t, err)
	h.c = c
	return h
}

func (h *harness) usage(t *testing.T, id string) quota.Usage {
	t.Helper()
	u, err := h.store.Usage(context.Background(), id)
	require.NoError(t, err)
	return u
}

func req(id, p string) Request { return Request{ClientID: id, Prompt: p} }

func mustFormatter(t *testing.T, name string) *prompt.Formatter {
	t.Helper()
	f, err := prompt.NewFormatter(name, "")
	require.NoError(t, err)
	return f
}

func ptr[T any](v T) *T { return &v }
