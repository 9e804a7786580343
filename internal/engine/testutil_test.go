package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// createModelFile creates a small placeholder model file and returns its path.
func createModelFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("GGUF"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return p
}

// fakeAdapter is a lightweight in-memory adapter used for tests.
type fakeAdapter struct {
	loadErr    error
	genErr     error
	tokens     []string
	final      FinalResult
	delay      time.Duration
	receivedMP string

	mu      sync.Mutex
	prompts []string
	params  []Params
	closed  bool
	// gate, when set, blocks Generate until it is closed.
	gate chan struct{}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Load(ctx context.Context, modelPath string, opts LoadOptions) (InferSession, error) {
	f.receivedMP = modelPath
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return &fakeSession{f: f}, nil
}

type fakeSession struct{ f *fakeAdapter }

func (s *fakeSession) Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (FinalResult, error) {
	s.f.mu.Lock()
	s.f.prompts = append(s.f.prompts, prompt)
	s.f.params = append(s.f.params, params)
	gate := s.f.gate
	s.f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return FinalResult{}, ctx.Err()
		}
	}
	if s.f.genErr != nil {
		return FinalResult{}, s.f.genErr
	}
	for _, t := range s.f.tokens {
		if s.f.delay > 0 {
			select {
			case <-time.After(s.f.delay):
			case <-ctx.Done():
				return FinalResult{}, ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return FinalResult{}, ctx.Err()
		default:
		}
		if err := onToken(t); err != nil {
			return FinalResult{}, err
		}
	}
	return s.f.final, nil
}

func (s *fakeSession) Close() error {
	s.f.mu.Lock()
	s.f.closed = true
	s.f.mu.Unlock()
	return nil
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return c
}

func newLoadedEngine(t *testing.T, fa *fakeAdapter, cfg Config) *Engine {
	t.Helper()
	cfg.Adapter = fa
	if cfg.ModelPath == "" {
		cfg.ModelPath = createModelFile(t, t.TempDir(), "m.gguf")
	}
	e := New(cfg)
	if err := e.Load(testCtx(t)); err != nil {
		t.Fatalf("load: %v", err)
	}
	return e
}
