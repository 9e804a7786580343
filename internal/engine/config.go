package engine

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultModelName     = "ZordCoder-v1"
)

// Config encapsulates all tunables for Engine construction.
type Config struct {
	// ModelPath is the resolved GGUF file (or model id for llama-server).
	ModelPath string
	// ModelName is reported in responses and /status.
	ModelName string
	Load      LoadOptions
	// MaxQueueDepth bounds requests waiting for the single generation slot.
	MaxQueueDepth int
	// MaxWait bounds the time spent waiting for a queue or generation slot.
	MaxWait time.Duration
	// Adapter is the runtime; nil selects the in-process llama adapter.
	Adapter   InferenceAdapter
	Publisher EventPublisher
	Logger    *zerolog.Logger
}

// New constructs an Engine from Config. The model is not loaded until Load.
func New(cfg Config) *Engine {
	e := &Engine{
		state:     StateUnavailable,
		modelPath: cfg.ModelPath,
		modelName: cfg.ModelName,
		loadOpts:  cfg.Load,
		adapter:   cfg.Adapter,
		publisher: cfg.Publisher,
		startTime: time.Now(),
	}
	if e.modelName == "" {
		e.modelName = defaultModelName
	}
	depth := cfg.MaxQueueDepth
	if depth <= 0 {
		depth = defaultMaxQueueDepth
	}
	e.maxWait = cfg.MaxWait
	if e.maxWait <= 0 {
		e.maxWait = defaultMaxWait
	}
	e.queueCh = make(chan struct{}, depth)
	e.genCh = make(chan struct{}, 1)
	if e.adapter == nil {
		e.adapter = NewLlamaAdapter()
	}
	if e.publisher == nil {
		e.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		e.log = *cfg.Logger
	} else {
		e.log = zerolog.Nop()
	}
	return e
}
