package httpapi

import "testing"

func TestSetMaxBodyBytes_DefaultWhenNonPositive(t *testing.T) {
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB, got %d", maxBodyBytes)
	}
	SetMaxBodyBytes(0)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("expected default 1MiB on zero, got %d", maxBodyBytes)
	}
}

func TestSetMaxBodyBytes_PositiveSetsValue(t *testing.T) {
	defer SetMaxBodyBytes(0)
	SetMaxBodyBytes(1234)
	if maxBodyBytes != 1234 {
		t.Fatalf("expected 1234, got %d", maxBodyBytes)
	}
}

func TestSetCORSOptions_EmptyKeepsCurrent(t *testing.T) {
	prev := append([]string(nil), corsAllowedOrigins...)
	defer SetCORSOptions(true, prev, nil, nil)

	SetCORSOptions(true, []string{"http://localhost:3000"}, nil, nil)
	if len(corsAllowedOrigins) != 1 || corsAllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("origins=%v", corsAllowedOrigins)
	}
	if len(corsAllowedMethods) == 0 || len(corsAllowedHeaders) == 0 {
		t.Fatalf("methods/headers must keep defaults")
	}
}
