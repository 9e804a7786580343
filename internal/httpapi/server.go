// Package httpapi exposes the generation service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zord/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	// Generate runs one request for clientID. onToken is non-nil for
	// streaming requests. Errors should implement HTTPError.
	Generate(ctx context.Context, clientID string, req types.GenerateRequest, onToken func(string) error) (types.GenerateResponse, error)
	Usage(ctx context.Context, clientID string) (types.UsageSnapshot, error)
	Status() types.StatusResponse
	ModelName() string
	Loaded() bool
	Ready() bool
}

// APIVersionMessage is reported by GET /.
const APIVersionMessage = "Zord Coder API v1"

var endpoints = map[string]string{
	"GET /":          "API info",
	"GET /health":    "Health check",
	"POST /generate": "Generate response",
	"GET /usage":     "Caller usage for the current window",
	"GET /status":    "Engine status",
	"GET /metrics":   "Prometheus metrics",
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Recoverer)
	// Compression for JSON endpoints; NDJSON streams are left alone
	r.Use(middleware.Compress(5))
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{svc: svc}
	r.Get("/", h.info)
	r.Get("/health", h.health)
	r.Post("/generate", h.generate)
	r.Get("/usage", h.usage)
	r.Get("/status", h.status)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

type handlers struct{ svc Service }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger().Warn().Err(err).Msg("encode response")
	}
}

// info godoc
// @Summary      API info
// @Tags         meta
// @Produce      json
// @Success      200  {object}  types.InfoResponse
// @Router       / [get]
func (h *handlers) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.InfoResponse{
		Status:      "ok",
		Message:     APIVersionMessage,
		ModelLoaded: h.svc.Loaded(),
		Model:       h.svc.ModelName(),
		Endpoints:   endpoints,
	})
}

// health godoc
// @Summary      Health check
// @Tags         meta
// @Produce      json
// @Success      200  {object}  types.HealthResponse
// @Router       /health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{Status: "ok", ModelLoaded: h.svc.Loaded()})
}

// status godoc
// @Summary      Engine status
// @Tags         meta
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// usage godoc
// @Summary      Caller usage
// @Description  Counters for the caller identity (address plus X-Client-ID or User-Agent).
// @Tags         generate
// @Produce      json
// @Param        X-Client-ID  header  string  false  "client identifier"
// @Success      200  {object}  types.UsageSnapshot
// @Failure      503  {object}  types.ErrorResponse
// @Router       /usage [get]
func (h *handlers) usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.Usage(r.Context(), ClientID(r))
	if err != nil {
		writeJSONError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// generate godoc
// @Summary      Generate a response
// @Description  Runs one generation against the caller's daily quota. With stream=true the
// @Description  response is NDJSON: {"token":...} lines then a final {"done":true,...} line.
// @Tags         generate
// @Accept       json
// @Produce      json
// @Produce      application/x-ndjson
// @Param        X-Client-ID  header  string                 false  "client identifier"
// @Param        request      body    types.GenerateRequest  true   "generation request"
// @Success      200  {object}  types.GenerateResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Failure      500  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Failure      504  {object}  types.ErrorResponse
// @Router       /generate [post]
func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	// Content-Type check
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "Empty request body")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	clientID := ClientID(r)
	lvl := requestLogLevel(r)
	start := time.Now()
	logStart(r, lvl, clientID, req.Stream)

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(baseCtx, r.Context())
	defer cancel()

	if !req.Stream {
		resp, err := h.svc.Generate(ctx, clientID, req, nil)
		if err != nil {
			status := h.reject(w, err)
			logEnd(r, lvl, status, start, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		logEnd(r, lvl, http.StatusOK, start, nil)
		return
	}

	var tap io.Writer
	if lvl >= LevelDebug {
		tap = &loggingLineWriter{requestID: middleware.GetReqID(r.Context())}
	}
	st := newNDJSONStream(w, tap, cancel)
	resp, err := h.svc.Generate(ctx, clientID, req, st.token)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nobody is listening.
			logEnd(r, lvl, 499, start, err)
			return
		}
		status := errorStatus(err)
		countBackpressure(status, err)
		st.fail(status, err.Error())
		logEnd(r, lvl, status, start, err)
		return
	}
	st.done(resp)
	logEnd(r, lvl, http.StatusOK, start, nil)
}

// reject writes err as a JSON error and returns the status used.
func (h *handlers) reject(w http.ResponseWriter, err error) int {
	status := errorStatus(err)
	countBackpressure(status, err)
	writeJSONError(w, status, err.Error())
	return status
}
