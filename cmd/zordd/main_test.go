package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"zord/internal/client"
	"zord/internal/config"
	"zord/pkg/types"
)

func withEnv(t *testing.T, env map[string]string) {
	t.Helper()
	orig := lookupEnv
	t.Cleanup(func() { lookupEnv = orig })
	lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runRoot(t, "version")
	if err != nil || !strings.HasPrefix(out, "zordd dev") {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestCheck_ConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "zord.yaml")
	body := "backend: llama-server\nllama_server:\n  url: http://127.0.0.1:1\nmodel:\n  path: from-file\n  template: instruction\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	withEnv(t, map[string]string{"ZORD_TEMPLATE": "llama3"})

	out, err := runRoot(t, "check", "--config", cfgPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	var rep checkReport
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if rep.Template != "llama3" || rep.ModelPath != "from-file" || rep.Backend != "llama-server" || rep.Quota != "memory" {
		t.Fatalf("env must beat file: %+v", rep)
	}

	out, err = runRoot(t, "check", "--config", cfgPath, "--template", "raw", "--model", "from-flag")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	_ = json.Unmarshal([]byte(out), &rep)
	if rep.Template != "raw" || rep.ModelPath != "from-flag" {
		t.Fatalf("flags must beat env: %+v", rep)
	}
}

func TestCheck_InvalidConfig(t *testing.T) {
	withEnv(t, nil)
	if _, err := runRoot(t, "check", "--backend", "onnx"); err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := runRoot(t, "check", "--quota-backend", "redis"); err == nil || !strings.Contains(err.Error(), "redis_addr") {
		t.Fatalf("expected redis_addr error, got %v", err)
	}
}

func TestCheck_LoadReportsFailure(t *testing.T) {
	withEnv(t, nil)
	out, err := runRoot(t, "check", "--backend", "llama-server", "--llama-server-url", "http://127.0.0.1:1", "--load")
	if err == nil {
		t.Fatalf("expected failure, out=%s", out)
	}
	var rep checkReport
	if jerr := json.Unmarshal([]byte(out), &rep); jerr != nil {
		t.Fatalf("decode: %v", jerr)
	}
	if rep.Loaded == nil || *rep.Loaded || !strings.Contains(rep.LoadErr, "not healthy") {
		t.Fatalf("report=%+v", rep)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	l.Debug().Msg("hello")
	if !strings.Contains(buf.String(), `"service":"zordd"`) || !strings.Contains(buf.String(), `"message":"hello"`) {
		t.Fatalf("unexpected log %q", buf.String())
	}
	if l.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level=%v", l.GetLevel())
	}
	if _, err := newLogger(&buf, "loud", "json"); err == nil {
		t.Fatal("expected bad level error")
	}
	if _, err := newLogger(&buf, "info", "xml"); err == nil {
		t.Fatal("expected bad format error")
	}
	if l, err := newLogger(&buf, "", ""); err != nil || l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("defaults: level=%v err=%v", l.GetLevel(), err)
	}
}

func TestOpenStore_MemoryStateFile(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Quota.StateFile = filepath.Join(t.TempDir(), "usage.json")

	s, closeFn, err := openStore(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.CheckAndReserve(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordUsage(ctx, "c1", 42); err != nil {
		t.Fatal(err)
	}
	closeFn()

	s, closeFn, err = openStore(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer closeFn()
	u, err := s.Usage(ctx, "c1")
	if err != nil || u.MessageCount != 1 || u.TokenCount != 42 {
		t.Fatalf("restored usage=%+v err=%v", u, err)
	}
	if got := s.Limits(); got.DailyMessages != 50 || got.Window != 24*time.Hour {
		t.Fatalf("limits=%+v", got)
	}
}

func TestOpenStore_Unknown(t *testing.T) {
	cfg := config.Default()
	cfg.Quota.Backend = "etcd"
	if _, _, err := openStore(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

// fakeLlamaServer speaks the llama.cpp server completion protocol.
func fakeLlamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frag := range []string{"def ", "fact(n):"} {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"text\":%q}]}\n\n", frag)
		}
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"text\":\"\",\"finish_reason\":\"stop\"}],\"usage\":{\"completion_tokens\":5}}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestServe_EndToEnd(t *testing.T) {
	llama := fakeLlamaServer(t)
	cfg := config.Default()
	cfg.Addr = freeAddr(t)
	cfg.Backend = config.BackendLlamaServer
	cfg.LlamaServer.URL = llama.URL
	cfg.Quota.DailyMessages = 2
	cfg.Log.Level = "error"
	cfg.HTTP.RequestLog = "off"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Error("serve did not stop")
		}
	})

	c := client.New("http://" + cfg.Addr)
	wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
	defer wcancel()
	if _, err := c.WaitHealthy(wctx, 20*time.Millisecond); err != nil {
		t.Fatalf("health: %v", err)
	}
	// Loading runs in the background.
	deadline := time.Now().Add(5 * time.Second)
	for {
		h, err := c.Health(wctx)
		if err == nil && h.ModelLoaded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("model never loaded: %+v %v", h, err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := c.Generate(ctx, types.GenerateRequest{Prompt: "factorial"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Response != "def fact(n):" || resp.TokensGenerated != 5 || resp.Usage == nil || resp.Usage.MessageCount != 1 {
		t.Fatalf("resp=%+v usage=%+v", resp, resp.Usage)
	}

	var toks []string
	if _, err := c.Stream(ctx, types.GenerateRequest{Prompt: "again"}, func(s string) { toks = append(toks, s) }); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(toks, "") != "def fact(n):" {
		t.Fatalf("tokens=%q", toks)
	}

	if _, err := c.Generate(ctx, types.GenerateRequest{Prompt: "third"}); !client.IsQuotaExceeded(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
	u, err := c.Usage(ctx)
	if err != nil || u.MessageCount != 2 || u.TokenCount != 10 {
		t.Fatalf("usage=%+v err=%v", u, err)
	}
}
