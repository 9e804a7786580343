package engine

import "context"

// InferenceAdapter abstracts the model runtime used by the Engine.
type InferenceAdapter interface {
	// Name identifies the backend in /status (e.g. "llama", "llama-server").
	Name() string
	// Load prepares a session for the model at modelPath. Adapters that talk
	// to an external server may treat modelPath as a model id.
	Load(ctx context.Context, modelPath string, opts LoadOptions) (InferSession, error)
}

// InferSession is a loaded model able to serve one generation at a time.
type InferSession interface {
	// Generate streams tokens for prompt. onToken is invoked for each token;
	// a non-nil return stops generation. Implementations must return when
	// ctx is canceled.
	Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (FinalResult, error)
	// Close releases any resources associated with the session.
	Close() error
}

// LoadOptions are model-load tunables.
type LoadOptions struct {
	CtxSize   int
	Threads   int
	GPULayers int
	Batch     int
}

// Params captures generation parameters passed to the adapter.
type Params struct {
	Temperature   float64
	TopP          float64
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float64
}

// FinalResult summarizes the generation after streaming.
type FinalResult struct {
	Content      string
	Usage        Usage
	FinishReason string
}

// Usage contains token accounting. CompletionTokens is zero when the backend
// cannot report it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Backend names reported by adapters.
const (
	llamaName       = "llama"
	llamaServerName = "llama-server"
)
