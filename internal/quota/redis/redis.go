// Package redis provides a Redis-backed quota.Store.
//
// Each client is a Redis hash updated by Lua scripts, so check-then-reserve
// is atomic across every daemon sharing the Redis instance. Keys expire at
// the end of their window.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"zord/internal/quota"
)

// Store is a Redis-backed quota.Store.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	limits    quota.Limits
	now       func() time.Time
}

var _ quota.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "zord:quota:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithClock overrides the time source passed to the scripts.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Redis-backed store. The client must be a connected
// *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, limits quota.Limits, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "zord:quota:",
		limits:    limits.Normalize(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limits reports the limits the store enforces.
func (s *Store) Limits() quota.Limits { return s.limits }

func (s *Store) clientKey(clientID string) string {
	return s.keyPrefix + clientID
}

// resetLua is shared by the mutating scripts. It zeroes the hash when the
// window has passed and returns the live reset time.
const resetLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local reset_at = tonumber(redis.call("HGET", key, "reset_at") or "0")
if now >= reset_at then
    reset_at = now + window
    redis.call("HSET", key, "messages", "0", "tokens", "0", "pending", "0", "reset_at", tostring(reset_at))
    redis.call("PEXPIREAT", key, tostring(reset_at))
end
`

// reserveScript admits one request.
// KEYS[1] = client hash key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = daily message limit
// ARGV[4] = daily token limit
//
// Returns {status, messages, tokens, pending, reset_at} where status is
// 1 = allowed, 0 = message limit, 2 = token limit.
var reserveScript = goredis.NewScript(resetLua + `
local msg_limit = tonumber(ARGV[3])
local tok_limit = tonumber(ARGV[4])
local messages = tonumber(redis.call("HGET", key, "messages") or "0")
local tokens = tonumber(redis.call("HGET", key, "tokens") or "0")
local pending = tonumber(redis.call("HGET", key, "pending") or "0")

if messages + pending >= msg_limit then
    return {0, messages, tokens, pending, reset_at}
end
if tokens >= tok_limit then
    return {2, messages, tokens, pending, reset_at}
end
pending = redis.call("HINCRBY", key, "pending", 1)
return {1, messages, tokens, pending, reset_at}
`)

// recordScript counts one message and tokens and drops one pending slot.
// KEYS[1] = client hash key
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = tokens
var recordScript = goredis.NewScript(resetLua + `
local messages = redis.call("HINCRBY", key, "messages", 1)
local tokens = redis.call("HINCRBY", key, "tokens", tonumber(ARGV[3]))
local pending = tonumber(redis.call("HGET", key, "pending") or "0")
if pending > 0 then
    pending = redis.call("HINCRBY", key, "pending", -1)
end
return {1, messages, tokens, pending, reset_at}
`)

// releaseScript drops one pending slot of a live window.
// KEYS[1] = client hash key
// ARGV[1] = now (unix ms)
var releaseScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local reset_at = tonumber(redis.call("HGET", key, "reset_at") or "0")
if now >= reset_at then
    return 0
end
local pending = tonumber(redis.call("HGET", key, "pending") or "0")
if pending > 0 then
    redis.call("HINCRBY", key, "pending", -1)
end
return 1
`)

func (s *Store) nowMS() int64 { return s.now().UnixMilli() }

func parseResult(clientID string, vals []int64) (int64, quota.Usage, error) {
	if len(vals) != 5 {
		return 0, quota.Usage{}, fmt.Errorf("zord/redis: unexpected script result length %d", len(vals))
	}
	return vals[0], quota.Usage{
		ClientID:     clientID,
		MessageCount: vals[1],
		TokenCount:   vals[2],
		Pending:      vals[3],
		ResetAt:      time.UnixMilli(vals[4]),
	}, nil
}

// CheckAndReserve admits or denies one request for clientID.
func (s *Store) CheckAndReserve(ctx context.Context, clientID string) (quota.Decision, error) {
	if clientID == "" {
		return quota.Decision{}, quota.ErrEmptyClientID
	}
	vals, err := reserveScript.Run(ctx, s.client,
		[]string{s.clientKey(clientID)},
		s.nowMS(), s.limits.Window.Milliseconds(), s.limits.DailyMessages, s.limits.DailyTokens,
	).Int64Slice()
	if err != nil {
		return quota.Decision{}, fmt.Errorf("zord/redis: reserve: %w", err)
	}
	status, u, err := parseResult(clientID, vals)
	if err != nil {
		return quota.Decision{}, err
	}
	switch status {
	case 1:
		return quota.Decision{Allowed: true, Usage: u}, nil
	case 0:
		return quota.Decision{Reason: quota.ReasonMessageLimit, Usage: u}, nil
	case 2:
		return quota.Decision{Reason: quota.ReasonTokenLimit, Usage: u}, nil
	default:
		return quota.Decision{}, fmt.Errorf("zord/redis: unexpected reserve status: %d", status)
	}
}

// RecordUsage counts one message plus tokens for clientID.
func (s *Store) RecordUsage(ctx context.Context, clientID string, tokens int64) (quota.Usage, error) {
	if clientID == "" {
		return quota.Usage{}, quota.ErrEmptyClientID
	}
	if tokens < 0 {
		tokens = 0
	}
	vals, err := recordScript.Run(ctx, s.client,
		[]string{s.clientKey(clientID)},
		s.nowMS(), s.limits.Window.Milliseconds(), tokens,
	).Int64Slice()
	if err != nil {
		return quota.Usage{}, fmt.Errorf("zord/redis: record: %w", err)
	}
	_, u, err := parseResult(clientID, vals)
	return u, err
}

// Release drops one pending slot for clientID.
func (s *Store) Release(ctx context.Context, clientID string) error {
	if clientID == "" {
		return quota.ErrEmptyClientID
	}
	if err := releaseScript.Run(ctx, s.client, []string{s.clientKey(clientID)}, s.nowMS()).Err(); err != nil {
		return fmt.Errorf("zord/redis: release: %w", err)
	}
	return nil
}

// Usage returns clientID's counters without writing.
func (s *Store) Usage(ctx context.Context, clientID string) (quota.Usage, error) {
	if clientID == "" {
		return quota.Usage{}, quota.ErrEmptyClientID
	}
	vals, err := s.client.HMGet(ctx, s.clientKey(clientID), "messages", "tokens", "pending", "reset_at").Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return quota.Usage{}, fmt.Errorf("zord/redis: usage: %w", err)
	}
	u := quota.Usage{ClientID: clientID}
	if len(vals) != 4 || vals[3] == nil {
		return u, nil
	}
	resetAt := parseInt(vals[3])
	if s.nowMS() >= resetAt {
		return u, nil
	}
	u.MessageCount = parseInt(vals[0])
	u.TokenCount = parseInt(vals[1])
	u.Pending = parseInt(vals[2])
	u.ResetAt = time.UnixMilli(resetAt)
	return u, nil
}

func parseInt(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
