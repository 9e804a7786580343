package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"
)

type ctxKey struct{}

func TestSetBaseContext_Nil(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	SetBaseContext(ctx)
	//nolint:staticcheck // nil is the documented reset
	SetBaseContext(nil)
	cancel()
	if baseCtx.Err() != nil {
		t.Fatal("nil must restore Background")
	}
}

func TestJoinContexts_ShutdownCancels(t *testing.T) {
	errShutdown := errors.New("shutting down")
	a, stop := context.WithCancelCause(context.Background())
	j, cancel := joinContexts(a, context.Background())
	defer cancel()
	stop(errShutdown)
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context ignored shutdown")
	}
	if !errors.Is(context.Cause(j), errShutdown) {
		t.Fatalf("cause=%v", context.Cause(j))
	}
}

func TestJoinContexts_RequestCancels(t *testing.T) {
	b, bc := context.WithCancel(context.Background())
	j, cancel := joinContexts(context.Background(), b)
	defer cancel()
	bc()
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context ignored the request")
	}
}

func TestJoinContexts_KeepsRequestValues(t *testing.T) {
	b := context.WithValue(context.Background(), ctxKey{}, "rid")
	j, cancel := joinContexts(context.Background(), b)
	if j.Value(ctxKey{}) != "rid" {
		t.Fatal("joined context lost request values")
	}
	cancel()
	if !errors.Is(j.Err(), context.Canceled) {
		t.Fatalf("err=%v", j.Err())
	}
}
