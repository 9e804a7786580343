//go:build !llama

package engine

// No-CGO stub for the llama adapter, compiled when the 'llama' build tag is
// NOT set. Default builds stay CGO-free; Load reports the runtime as
// unavailable so the daemon serves 503 (or demo output) instead of 500.

import "context"

var llamaBuilt = false

type llamaAdapter struct{}

func NewLlamaAdapter() InferenceAdapter { return llamaAdapter{} }

func (llamaAdapter) Name() string { return llamaName }

func (llamaAdapter) Load(ctx context.Context, modelPath string, opts LoadOptions) (InferSession, error) {
	return nil, ErrBackendUnavailable("llama support not built (missing 'llama' build tag)")
}
