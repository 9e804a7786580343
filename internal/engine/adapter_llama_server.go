package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LlamaServerOptions configures the llama.cpp server adapter.
type LlamaServerOptions struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	Logger         *zerolog.Logger
}

// llamaServerAdapter implements InferenceAdapter by talking to a running
// llama.cpp server over its OpenAI-compatible /v1/completions endpoint.
type llamaServerAdapter struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

// NewLlamaServerAdapter constructs a server-backed adapter.
func NewLlamaServerAdapter(o LlamaServerOptions) InferenceAdapter {
	connect := o.ConnectTimeout
	if connect <= 0 {
		connect = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	cli := &http.Client{Transport: tr, Timeout: 0}
	a := &llamaServerAdapter{
		baseURL:    strings.TrimRight(o.BaseURL, "/"),
		apiKey:     o.APIKey,
		reqTimeout: o.RequestTimeout,
		httpClient: cli,
		log:        zerolog.Nop(),
	}
	if o.Logger != nil {
		a.log = *o.Logger
	}
	return a
}

func (a *llamaServerAdapter) Name() string { return llamaServerName }

// llamaServerSession holds per-session state.
type llamaServerSession struct {
	adapter *llamaServerAdapter
	modelID string
}

// Load checks that the server is reachable and healthy. In server mode the
// model is selected by id; the on-disk path is only forwarded as a hint.
func (a *llamaServerAdapter) Load(ctx context.Context, modelPath string, _ LoadOptions) (InferSession, error) {
	if a.baseURL == "" {
		return nil, ErrBackendUnavailable("llama-server url is empty")
	}
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.checkHealth(hctx); err != nil {
		return nil, ErrBackendUnavailable("llama-server not healthy at " + a.baseURL + ": " + err.Error())
	}
	return &llamaServerSession{adapter: a, modelID: strings.TrimSpace(modelPath)}, nil
}

func (a *llamaServerAdapter) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	a.authorize(req)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

func (a *llamaServerAdapter) authorize(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

// completionRequest represents the payload for /v1/completions.
type completionRequest struct {
	Model         string   `json:"model,omitempty"`
	Prompt        string   `json:"prompt"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          int      `json:"seed,omitempty"`
	Stream        bool     `json:"stream"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
}

// streamChunk is the subset of an OpenAI-style streaming chunk we read.
// llama.cpp completions carry the text in choices[].text; chat-style servers
// use choices[].delta.content. Native endpoints send a top-level content.
type streamChunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Content         string `json:"content"`
	TokensPredicted int    `json:"tokens_predicted"`
	Usage           *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (s *llamaServerSession) Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (FinalResult, error) {
	if s.adapter == nil || s.adapter.httpClient == nil {
		return FinalResult{}, errors.New("llama server adapter not initialized")
	}
	if s.adapter.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.adapter.reqTimeout)
		defer cancel()
	}
	payload := completionRequest{
		Model:         s.modelID,
		Prompt:        prompt,
		MaxTokens:     params.MaxTokens,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		TopK:          params.TopK,
		Stop:          params.Stop,
		Seed:          params.Seed,
		Stream:        true,
		RepeatPenalty: params.RepeatPenalty,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return FinalResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.adapter.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return FinalResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	s.adapter.authorize(req)
	resp, err := s.adapter.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return FinalResult{}, ctx.Err()
		}
		return FinalResult{}, ErrBackendUnavailable("llama-server request failed: " + err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return FinalResult{}, errors.New("llama server http error: " + resp.Status + ": " + strings.TrimSpace(string(b)))
	}
	return s.readStream(ctx, resp.Body, onToken)
}

// readStream parses Server-Sent Events lines ("data: {...}") until [DONE].
func (s *llamaServerSession) readStream(ctx context.Context, body io.Reader, onToken func(string) error) (FinalResult, error) {
	var final FinalResult
	var content strings.Builder
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(line), "data:") {
			s.adapter.log.Debug().Str("line", line).Msg("llama-server unknown stream line")
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "[DONE]" {
			break
		}
		var msg streamChunk
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			s.adapter.log.Debug().Str("line", line).Err(err).Msg("llama-server bad stream chunk")
			continue
		}
		frag := msg.Content
		if len(msg.Choices) > 0 {
			c := msg.Choices[0]
			if c.Text != "" {
				frag = c.Text
			} else if c.Delta.Content != "" {
				frag = c.Delta.Content
			}
			if c.FinishReason != nil && *c.FinishReason != "" {
				final.FinishReason = *c.FinishReason
			}
		}
		if frag != "" {
			content.WriteString(frag)
			if err := onToken(frag); err != nil {
				return final, err
			}
		}
		if msg.Usage != nil && msg.Usage.CompletionTokens > 0 {
			final.Usage = Usage{
				PromptTokens:     msg.Usage.PromptTokens,
				CompletionTokens: msg.Usage.CompletionTokens,
				TotalTokens:      msg.Usage.TotalTokens,
			}
		} else if msg.TokensPredicted > 0 {
			final.Usage.CompletionTokens = msg.TokensPredicted
			final.Usage.TotalTokens = msg.TokensPredicted
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return final, ctx.Err()
		}
		s.adapter.log.Warn().Err(err).Msg("llama-server stream read error")
		return final, err
	}
	if ctx.Err() != nil {
		return final, ctx.Err()
	}
	final.Content = content.String()
	if final.FinishReason == "" {
		final.FinishReason = "stop"
	}
	return final, nil
}

func (s *llamaServerSession) Close() error { return nil }
