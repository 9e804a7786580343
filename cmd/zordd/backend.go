package main

import (
	"github.com/rs/zerolog"

	"zord/internal/config"
	"zord/internal/engine"
	"zord/internal/registry"
)

// newEngine builds the engine for cfg without loading the model. A local
// model path that cannot be resolved is kept as configured; the engine then
// reports itself unavailable after Load.
func newEngine(cfg config.Config, log zerolog.Logger, pub engine.EventPublisher) *engine.Engine {
	modelPath := cfg.Model.Path
	var adapter engine.InferenceAdapter
	switch cfg.Backend {
	case config.BackendLlamaServer:
		adapter = engine.NewLlamaServerAdapter(engine.LlamaServerOptions{
			BaseURL:        cfg.LlamaServer.URL,
			APIKey:         cfg.LlamaServer.APIKey,
			RequestTimeout: cfg.RequestTimeout(),
			Logger:         &log,
		})
	default:
		adapter = engine.NewLlamaAdapter()
		if m, err := registry.Resolve(cfg.Model.Path, cfg.Model.Search...); err == nil {
			modelPath = m.Path
		} else {
			log.Warn().Err(err).Msg("model file not found")
		}
	}
	return engine.New(engine.Config{
		ModelPath: modelPath,
		ModelName: cfg.Model.Name,
		Load: engine.LoadOptions{
			CtxSize:   cfg.Model.CtxSize,
			Threads:   cfg.Model.Threads,
			GPULayers: cfg.Model.GPULayers,
			Batch:     cfg.Model.Batch,
		},
		MaxQueueDepth: cfg.Generation.MaxQueueDepth,
		MaxWait:       cfg.MaxWait(),
		Adapter:       adapter,
		Publisher:     pub,
		Logger:        &log,
	})
}
