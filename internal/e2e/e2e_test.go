package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"zord/internal/client"
	"zord/internal/coordinator"
	"zord/internal/engine"
	"zord/internal/httpapi"
	"zord/internal/prompt"
	"zord/internal/quota"
	"zord/pkg/types"
)

// scriptAdapter replays fixed tokens. When gate is set, Generate blocks until
// it is closed.
type scriptAdapter struct {
	tokens []string
	gate   chan struct{}

	mu      sync.Mutex
	prompts []string
}

func (a *scriptAdapter) Name() string { return "script" }

func (a *scriptAdapter) Load(ctx context.Context, modelPath string, opts engine.LoadOptions) (engine.InferSession, error) {
	return scriptSession{a}, nil
}

func (a *scriptAdapter) started() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prompts)
}

func (a *scriptAdapter) firstPrompt() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.prompts) == 0 {
		return ""
	}
	return a.prompts[0]
}

type scriptSession struct{ a *scriptAdapter }

func (s scriptSession) Generate(ctx context.Context, p string, params engine.Params, onToken func(string) error) (engine.FinalResult, error) {
	s.a.mu.Lock()
	s.a.prompts = append(s.a.prompts, p)
	s.a.mu.Unlock()
	if s.a.gate != nil {
		select {
		case <-s.a.gate:
		case <-ctx.Done():
			return engine.FinalResult{}, ctx.Err()
		}
	}
	for _, t := range s.a.tokens {
		if err := onToken(t); err != nil {
			return engine.FinalResult{}, err
		}
	}
	return engine.FinalResult{FinishReason: "stop"}, nil
}

func (scriptSession) Close() error { return nil }

type stack struct {
	srv     *httptest.Server
	eng     *engine.Engine
	adapter *scriptAdapter
}

type stackOptions struct {
	messages   int64
	queueDepth int
	maxWait    time.Duration
	demo       bool
	noLoad     bool
	gate       chan struct{}
}

func newStack(t *testing.T, o stackOptions) *stack {
	t.Helper()
	if o.messages == 0 {
		o.messages = 50
	}
	httpapi.SetRequestLogLevel("off")
	ad := &scriptAdapter{tokens: []string{"def ", "fact(n):", "\n    ..."}, gate: o.gate}
	eng := engine.New(engine.Config{
		ModelPath:     "zordcoder.gguf",
		Adapter:       ad,
		MaxQueueDepth: o.queueDepth,
		MaxWait:       o.maxWait,
	})
	if !o.noLoad {
		if err := eng.Load(context.Background()); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	store := quota.NewMemoryStore(quota.Limits{DailyMessages: o.messages, DailyTokens: 100000, Window: 24 * time.Hour})
	t.Cleanup(store.Close)
	f, err := prompt.NewFormatter("llama3", "")
	if err != nil {
		t.Fatal(err)
	}
	coord, err := coordinator.New(coordinator.Options{
		Store:        store,
		Generator:    eng,
		Formatter:    f,
		ModelName:    eng.ModelName(),
		Timeout:      5 * time.Second,
		DemoFallback: o.demo,
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(httpapi.NewMux(httpapi.NewService(coord, eng)))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, eng: eng, adapter: ad}
}

func (s *stack) client(id string) *client.Client {
	return client.New(s.srv.URL, client.WithClientID(id))
}

func getStatus(t *testing.T, url string) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestE2E_LoadGenerateStreamStatus(t *testing.T) {
	st := newStack(t, stackOptions{noLoad: true})
	ctx := context.Background()
	c := st.client("alice")

	if code := getStatus(t, st.srv.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz before load = %d", code)
	}
	if h, err := c.Health(ctx); err != nil || h.ModelLoaded {
		t.Fatalf("health before load=%+v err=%v", h, err)
	}
	if err := st.eng.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if code := getStatus(t, st.srv.URL+"/readyz"); code != http.StatusOK {
		t.Fatalf("/readyz after load = %d", code)
	}

	resp, err := c.Generate(ctx, types.GenerateRequest{Prompt: "Write factorial in Python", Reasoning: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Response != "def fact(n):\n    ..." || resp.Model != "ZordCoder-v1" || resp.Demo {
		t.Fatalf("resp=%+v", resp)
	}
	if want := coordinator.EstimateTokens(resp.Response); resp.TokensGenerated != want {
		t.Fatalf("tokens=%d want estimate %d", resp.TokensGenerated, want)
	}
	if resp.Usage == nil || resp.Usage.MessageCount != 1 || resp.Usage.DailyMessageLimit != 50 {
		t.Fatalf("usage=%+v", resp.Usage)
	}
	if p := st.adapter.firstPrompt(); !strings.Contains(p, "<|start_header_id|>user") || !strings.Contains(p, "Write factorial in Python") {
		t.Fatalf("prompt not formatted: %q", p)
	}

	var toks []string
	final, err := c.Stream(ctx, types.GenerateRequest{Prompt: "again"}, func(s string) { toks = append(toks, s) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(toks) != 3 || final.Response != strings.Join(toks, "") || final.Usage.MessageCount != 2 {
		t.Fatalf("toks=%q final=%+v", toks, final)
	}

	s, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != "ready" || s.Backend != "script" || s.GenerationsTotal != 2 {
		t.Fatalf("status=%+v", s)
	}
	info, err := c.Info(ctx)
	if err != nil || !info.ModelLoaded || info.Endpoints["POST /generate"] == "" {
		t.Fatalf("info=%+v err=%v", info, err)
	}
}

func TestE2E_QuotaIsPerClientAndConcurrentSafe(t *testing.T) {
	const limit = 3
	st := newStack(t, stackOptions{messages: limit})
	ctx := context.Background()
	c := st.client("bob")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, deny int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Generate(ctx, types.GenerateRequest{Prompt: "hi"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case client.IsQuotaExceeded(err):
				deny++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != limit || deny != 10-limit {
		t.Fatalf("ok=%d denied=%d", ok, deny)
	}

	_, err := c.Generate(ctx, types.GenerateRequest{Prompt: "one more"})
	var ae *client.APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusTooManyRequests || !strings.Contains(ae.Message, "Daily message limit reached (3)") {
		t.Fatalf("err=%v", err)
	}
	u, err := c.Usage(ctx)
	if err != nil || u.MessageCount != limit || u.ResetAt == 0 {
		t.Fatalf("usage=%+v err=%v", u, err)
	}

	// Another identity has its own window.
	if _, err := st.client("carol").Generate(ctx, types.GenerateRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("carol: %v", err)
	}
}

func TestE2E_ValidationDoesNotConsumeQuota(t *testing.T) {
	st := newStack(t, stackOptions{messages: 1})
	ctx := context.Background()
	c := st.client("dave")
	for _, bad := range []string{`{"prompt":"   "}`, `{"prompt":"x","temperature":3}`, `{"prompt":"x","max_tokens":0}`} {
		resp, err := http.Post(st.srv.URL+"/generate", "application/json", strings.NewReader(bad))
		if err != nil {
			t.Fatal(err)
		}
		var er types.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest || er.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%+v", bad, resp.StatusCode, er)
		}
	}
	if _, err := c.Generate(ctx, types.GenerateRequest{Prompt: "valid"}); err != nil {
		t.Fatalf("quota consumed by invalid requests: %v", err)
	}
}

func TestE2E_BusyIs503AndReleasesAdmission(t *testing.T) {
	gate := make(chan struct{})
	st := newStack(t, stackOptions{messages: 2, queueDepth: 1, maxWait: 20 * time.Millisecond, gate: gate})
	ctx := context.Background()
	c := st.client("erin")

	first := make(chan error, 1)
	go func() {
		_, err := c.Generate(ctx, types.GenerateRequest{Prompt: "slow"})
		first <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for st.adapter.started() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first generation never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, err := c.Generate(ctx, types.GenerateRequest{Prompt: "queued"})
	var ae *client.APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 busy, got %v", err)
	}
	close(gate)
	if err := <-first; err != nil {
		t.Fatalf("first: %v", err)
	}
	u, err := c.Usage(ctx)
	if err != nil || u.MessageCount != 1 {
		t.Fatalf("busy request must not count: usage=%+v err=%v", u, err)
	}
	if _, err := c.Generate(ctx, types.GenerateRequest{Prompt: "second slot"}); err != nil {
		t.Fatalf("released admission must be reusable: %v", err)
	}
}

func TestE2E_CanceledWhileQueuedIsNotCharged(t *testing.T) {
	gate := make(chan struct{})
	st := newStack(t, stackOptions{queueDepth: 4, maxWait: 30 * time.Second, gate: gate})
	ctx := context.Background()
	holder, waiter := st.client("frank"), st.client("grace")

	first := make(chan error, 1)
	go func() {
		_, err := holder.Generate(ctx, types.GenerateRequest{Prompt: "slow"})
		first <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for st.adapter.started() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first generation never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	qctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	_, err := waiter.Generate(qctx, types.GenerateRequest{Prompt: "queued"})
	cancel()
	if err == nil {
		t.Fatal("expected the queued request to fail")
	}

	// The daemon notices the disconnect asynchronously.
	for deadline = time.Now().Add(2 * time.Second); st.eng.Status().QueueLen != 1; {
		if time.Now().After(deadline) {
			t.Fatalf("queued request never left the queue: %+v", st.eng.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := st.adapter.started(); n != 1 {
		t.Fatalf("backend saw %d prompts, want 1", n)
	}

	close(gate)
	if err := <-first; err != nil {
		t.Fatalf("first: %v", err)
	}
	if u, err := holder.Usage(ctx); err != nil || u.MessageCount != 1 {
		t.Fatalf("holder usage=%+v err=%v", u, err)
	}
	u, err := waiter.Usage(ctx)
	if err != nil || u.MessageCount != 0 || u.TokenCount != 0 {
		t.Fatalf("queued request must not be charged: usage=%+v err=%v", u, err)
	}
	if _, err := waiter.Generate(ctx, types.GenerateRequest{Prompt: "retry"}); err != nil {
		t.Fatalf("retry after queued cancel: %v", err)
	}
}

func TestE2E_UnloadedModel(t *testing.T) {
	ctx := context.Background()

	plain := newStack(t, stackOptions{noLoad: true})
	_, err := plain.client("frank").Generate(ctx, types.GenerateRequest{Prompt: "hi"})
	var ae *client.APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected backend error, got %v", err)
	}

	demo := newStack(t, stackOptions{noLoad: true, demo: true})
	c := demo.client("frank")
	resp, err := c.Generate(ctx, types.GenerateRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("demo: %v", err)
	}
	if !resp.Demo || resp.Response != coordinator.DemoText {
		t.Fatalf("resp=%+v", resp)
	}
	if u, _ := c.Usage(ctx); u.MessageCount != 0 {
		t.Fatalf("demo answers are not counted: %+v", u)
	}
}
