package types

// GenerateRequest represents a POST /generate payload.
type GenerateRequest struct {
	// Required message to answer. Whitespace-only prompts are rejected.
	// example: Write a Python function to calculate factorial
	Prompt string `json:"prompt" example:"Write a Python function to calculate factorial"`
	// Sampling temperature in [0, 2]. Omitted means the server default (0.7).
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
	// Maximum number of new tokens to generate. Omitted means the server default (2048).
	// example: 512
	MaxTokens *int `json:"max_tokens,omitempty" example:"512"`
	// If true, the prompt asks the model to reason step by step before answering.
	// example: false
	Reasoning bool `json:"reasoning,omitempty" example:"false"`
	// If true, stream results as NDJSON token lines followed by a final done line.
	// example: false
	Stream bool `json:"stream,omitempty" example:"false"`
}

// UsageSnapshot reports a client's counters for the current quota window.
type UsageSnapshot struct {
	// Accepted requests in the current window.
	// example: 3
	MessageCount int64 `json:"message_count" example:"3"`
	// Tokens produced in the current window.
	// example: 812
	TokenCount int64 `json:"token_count" example:"812"`
	// Configured daily message limit.
	// example: 50
	DailyMessageLimit int64 `json:"daily_message_limit" example:"50"`
	// Configured daily token limit.
	// example: 50000
	DailyTokenLimit int64 `json:"daily_token_limit" example:"50000"`
	// When the counters reset (unix seconds). Zero if the client has no window yet.
	// example: 1700000000
	ResetAt int64 `json:"reset_at_unix" example:"1700000000"`
}

// GenerateResponse is returned by POST /generate on success. It is also the
// body of the final NDJSON line when streaming.
type GenerateResponse struct {
	// Generated text.
	Response string `json:"response"`
	// Tokens produced by this request (exact when the backend reports it, else len/4).
	// example: 128
	TokensGenerated int `json:"tokens_generated" example:"128"`
	// Model name that served the request.
	// example: ZordCoder-v1
	Model string `json:"model" example:"ZordCoder-v1"`
	// True when the backend was unavailable and a placeholder was returned.
	Demo bool `json:"demo,omitempty"`
	// Wall time spent generating, in milliseconds.
	// example: 2140
	ElapsedMS int64 `json:"elapsed_ms" example:"2140"`
	// Caller usage after this request.
	Usage *UsageSnapshot `json:"usage,omitempty"`
}

// StreamToken is one NDJSON line of a streaming response.
type StreamToken struct {
	Token string `json:"token"`
}

// StreamDone is the last NDJSON line of a streaming response.
type StreamDone struct {
	Done bool `json:"done"`
	// Set when generation failed after streaming started.
	Error string `json:"error,omitempty"`
	// HTTP-equivalent status of the failure.
	Code int `json:"code,omitempty"`
	*GenerateResponse
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: Message is required
	Error string `json:"error" example:"Message is required"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	// example: ok
	Status string `json:"status" example:"ok"`
	// Whether the model is loaded and able to serve generations.
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
}

// InfoResponse is returned by GET /.
type InfoResponse struct {
	// example: ok
	Status string `json:"status" example:"ok"`
	// example: Zord Coder API v1
	Message string `json:"message" example:"Zord Coder API v1"`
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
	// example: ZordCoder-v1
	Model string `json:"model" example:"ZordCoder-v1"`
	// Route -> description.
	Endpoints map[string]string `json:"endpoints"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Engine lifecycle state (loading, ready, unavailable, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Model name served by the engine.
	// example: ZordCoder-v1
	Model string `json:"model" example:"ZordCoder-v1"`
	// Resolved model file on disk.
	ModelPath string `json:"model_path,omitempty"`
	// Backend adapter in use (llama, llama-server, none).
	// example: llama
	Backend string `json:"backend" example:"llama"`
	// Requests waiting for the single generation slot.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Generations currently running (0 or 1).
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Maximum queued requests before the engine reports busy.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Last error observed while loading or generating.
	LastError string `json:"last_error,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Generations that reached the backend since start, including ones cut
	// short by a timeout or cancel.
	// example: 12
	GenerationsTotal uint64 `json:"generations_total" example:"12"`
	// Tokens produced since start, estimated for interrupted generations.
	// example: 4096
	TokensTotal uint64 `json:"tokens_total" example:"4096"`
}
