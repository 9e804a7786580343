package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// sseWriter helps write SSE-style lines.
type sseWriter struct{ w http.ResponseWriter }

func (sw sseWriter) writeLine(line string) {
	_, _ = sw.w.Write([]byte(line + "\n\n"))
	if f, ok := sw.w.(http.Flusher); ok {
		f.Flush()
	}
}

func completionFrag(text string) string {
	b, _ := json.Marshal(map[string]any{
		"object":  "text_completion",
		"choices": []map[string]any{{"text": text, "finish_reason": nil}},
	})
	return "data: " + string(b)
}

func newFakeLlamaServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/v1/completions", h)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestLlamaServerAdapter_Stream(t *testing.T) {
	var gotReq completionRequest
	ts := newFakeLlamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotReq)
		w.Header().Set("Content-Type", "text/event-stream")
		sw := sseWriter{w: w}
		sw.writeLine(completionFrag("Hello"))
		sw.writeLine(": keep-alive")
		sw.writeLine(completionFrag(" World"))
		sw.writeLine(`data: {"choices":[{"text":"","finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
		sw.writeLine("data: [DONE]")
	})

	a := NewLlamaServerAdapter(LlamaServerOptions{BaseURL: ts.URL + "/", RequestTimeout: 5 * time.Second})
	if a.Name() != "llama-server" {
		t.Fatalf("name=%s", a.Name())
	}
	sess, err := a.Load(testCtx(t), "zord", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer sess.Close()

	var b strings.Builder
	final, err := sess.Generate(testCtx(t), "Say hi", Params{MaxTokens: 16, Temperature: 0, Stop: []string{"###"}}, func(tok string) error {
		b.WriteString(tok)
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if b.String() != "Hello World" || final.Content != "Hello World" {
		t.Fatalf("unexpected output: %q / %q", b.String(), final.Content)
	}
	if final.Usage.CompletionTokens != 2 || final.FinishReason != "stop" {
		t.Fatalf("unexpected final: %+v", final)
	}
	if gotReq.Prompt != "Say hi" || !gotReq.Stream || gotReq.MaxTokens != 16 || gotReq.Model != "zord" || gotReq.Stop[0] != "###" {
		t.Fatalf("unexpected request: %+v", gotReq)
	}
}

func TestLlamaServerAdapter_NativeContentAndTokensPredicted(t *testing.T) {
	ts := newFakeLlamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		sw := sseWriter{w: w}
		sw.writeLine(`data: {"content":"a"}`)
		sw.writeLine(`data: {"content":"b","tokens_predicted":2}`)
	})
	sess, err := NewLlamaServerAdapter(LlamaServerOptions{BaseURL: ts.URL}).Load(testCtx(t), "", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	final, err := sess.Generate(testCtx(t), "p", Params{}, func(string) error { return nil })
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if final.Content != "ab" || final.Usage.CompletionTokens != 2 {
		t.Fatalf("unexpected final: %+v", final)
	}
}

func TestLlamaServerAdapter_HTTPError(t *testing.T) {
	ts := newFakeLlamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	})
	sess, err := NewLlamaServerAdapter(LlamaServerOptions{BaseURL: ts.URL}).Load(testCtx(t), "m", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = sess.Generate(testCtx(t), "hello", Params{}, func(string) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected http error carrying body, got %v", err)
	}
	if IsBackendUnavailable(err) {
		t.Fatalf("http 500 is a generation failure, not unavailability")
	}
}

func TestLlamaServerAdapter_ContextCancel(t *testing.T) {
	ts := newFakeLlamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		sw := sseWriter{w: w}
		for i := 0; i < 10; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			sw.writeLine(completionFrag("x"))
		}
		sw.writeLine("data: [DONE]")
	})
	sess, err := NewLlamaServerAdapter(LlamaServerOptions{BaseURL: ts.URL}).Load(testCtx(t), "m", LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err = sess.Generate(ctx, "hello", Params{}, func(string) error { return nil })
	if err == nil || ctx.Err() == nil {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestLlamaServerAdapter_UnhealthyIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()
	_, err := NewLlamaServerAdapter(LlamaServerOptions{BaseURL: ts.URL}).Load(testCtx(t), "m", LoadOptions{})
	if !IsBackendUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	_, err = NewLlamaServerAdapter(LlamaServerOptions{}).Load(testCtx(t), "m", LoadOptions{})
	if !IsBackendUnavailable(err) {
		t.Fatalf("expected unavailable for empty url, got %v", err)
	}
}

func TestEngineWithLlamaServer(t *testing.T) {
	ts := newFakeLlamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		sw := sseWriter{w: w}
		sw.writeLine(completionFrag("ok"))
		sw.writeLine("data: [DONE]")
	})
	e := New(Config{Adapter: NewLlamaServerAdapter(LlamaServerOptions{BaseURL: ts.URL}), ModelName: "remote"})
	if err := e.Load(testCtx(t)); err != nil {
		t.Fatalf("load: %v", err)
	}
	res, err := e.Generate(testCtx(t), "p", Params{}, nil)
	if err != nil || res.Text != "ok" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if r := e.SanityCheck(); !r.ModelFound || r.Backend != "llama-server" {
		t.Fatalf("unexpected sanity: %+v", r)
	}
}
