package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"zord/pkg/types"
)

// ndjsonStream writes a streaming /generate response. The 200 header is sent
// lazily with the first line so that errors raised before any token still get
// a plain JSON error with the right status.
type ndjsonStream struct {
	w       http.ResponseWriter
	enc     *json.Encoder
	flush   func()
	abort   func()
	started bool
}

func newNDJSONStream(w http.ResponseWriter, tap io.Writer, abort func()) *ndjsonStream {
	out := io.Writer(w)
	if tap != nil {
		out = io.MultiWriter(w, tap)
	}
	s := &ndjsonStream{w: w, enc: json.NewEncoder(out), flush: func() {}, abort: abort}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

func (s *ndjsonStream) start() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "application/x-ndjson")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.WriteHeader(http.StatusOK)
}

// token writes one token line. A write failure means the client is gone, so
// the generation is aborted.
func (s *ndjsonStream) token(tok string) error {
	s.start()
	if err := s.enc.Encode(types.StreamToken{Token: tok}); err != nil {
		if s.abort != nil {
			s.abort()
		}
		return err
	}
	s.flush()
	return nil
}

// done writes the terminal line for a successful generation.
func (s *ndjsonStream) done(resp types.GenerateResponse) {
	s.start()
	_ = s.enc.Encode(types.StreamDone{Done: true, GenerateResponse: &resp})
	s.flush()
}

// fail reports err. Before the first token it is a regular JSON error;
// afterwards it becomes the terminal done line.
func (s *ndjsonStream) fail(status int, msg string) {
	if !s.started {
		writeJSONError(s.w, status, msg)
		return
	}
	_ = s.enc.Encode(types.StreamDone{Done: true, Error: msg, Code: status})
	s.flush()
}
