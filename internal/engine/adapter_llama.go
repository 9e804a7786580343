//go:build llama

package engine

import (
	"context"
	"errors"
	"os"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

// llamaAdapter runs GGUF models in-process through go-llama.cpp.
type llamaAdapter struct{}

func NewLlamaAdapter() InferenceAdapter { return llamaAdapter{} }

func (llamaAdapter) Name() string { return llamaName }

// llamaSession owns the loaded model
type llamaSession struct {
	model   *llama.LLama
	threads int
}

func (llamaAdapter) Load(ctx context.Context, modelPath string, opts LoadOptions) (InferSession, error) {
	if strings.TrimSpace(modelPath) == "" {
		return nil, ErrBackendUnavailable("model path is empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, ErrBackendUnavailable("model file not found: " + modelPath)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mo := []llama.ModelOption{
		llama.SetContext(zn(opts.CtxSize, 4096)),
	}
	if opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(opts.GPULayers))
	}
	if opts.Batch > 0 {
		mo = append(mo, llama.SetNBatch(opts.Batch))
	}
	m, err := llama.New(modelPath, mo...)
	if err != nil {
		return nil, err
	}
	return &llamaSession{model: m, threads: opts.Threads}, nil
}

func (s *llamaSession) Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (FinalResult, error) {
	if s.model == nil {
		return FinalResult{}, errors.New("llama model not initialized")
	}

	// Bridge token streaming to onToken and respect cancellation. Each
	// callback is one sampled token, so the count is exact.
	count := 0
	stopped := false
	s.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			stopped = true
			return false
		default:
		}
		count++
		if err := onToken(tok); err != nil {
			stopped = true
			return false
		}
		return true
	})

	po := mapParamsToPredictOptions(params, s.threads)
	text, err := s.model.Predict(prompt, po...)
	if ctx.Err() != nil {
		return FinalResult{}, ctx.Err()
	}
	if err != nil {
		return FinalResult{}, err
	}
	reason := "stop"
	if stopped {
		reason = "canceled"
	} else if params.MaxTokens > 0 && count >= params.MaxTokens {
		reason = "length"
	}
	return FinalResult{
		Content:      text,
		Usage:        Usage{CompletionTokens: count, TotalTokens: count},
		FinishReason: reason,
	}, nil
}

func (s *llamaSession) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v float64, def float32) float32 {
	if v > 0 {
		return float32(v)
	}
	return def
}

// mapParamsToPredictOptions converts our adapter params into go-llama.cpp options
func mapParamsToPredictOptions(params Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, params.MaxTokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(params.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(params.TopK, llama.DefaultOptions.TopK)),
		llama.SetPenalty(zf(params.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	// Temperature 0 means greedy decoding.
	po = append(po, llama.SetTemperature(float32(params.Temperature)))
	if params.Seed != 0 {
		po = append(po, llama.SetSeed(params.Seed))
	}
	if len(params.Stop) > 0 {
		po = append(po, llama.SetStopWords(params.Stop...))
	}
	return po
}
