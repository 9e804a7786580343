package main

import "time"

// sessionMetrics accumulates per-session generation stats. Not safe for
// concurrent use; the REPL is single threaded.
type sessionMetrics struct {
	Requests int
	Tokens   int
	Elapsed  time.Duration
}

func (m *sessionMetrics) observe(tokens int, elapsed time.Duration) {
	m.Requests++
	m.Tokens += tokens
	m.Elapsed += elapsed
}

// TokensPerSecond is total tokens over total generation time.
func (m sessionMetrics) TokensPerSecond() float64 {
	if m.Elapsed <= 0 {
		return 0
	}
	return float64(m.Tokens) / m.Elapsed.Seconds()
}

// AvgResponseTime is zero before the first request.
func (m sessionMetrics) AvgResponseTime() time.Duration {
	if m.Requests == 0 {
		return 0
	}
	return m.Elapsed / time.Duration(m.Requests)
}
