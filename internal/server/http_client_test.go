package server

import (
	"net/http"
	"testing"
	"time"
)

func TestNewUpstreamClientTimeout(t *testing.T) {
	if client := NewUpstreamClient(45 * time.Second); client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if client := NewUpstreamClient(0); client.Timeout != DefaultUpstreamTimeout {
		t.Fatalf("expected default timeout, got %s", client.Timeout)
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive, X-Session-Hint")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Session-Hint", "abc")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	for _, key := range []string{"Connection", "Keep-Alive", "X-Session-Hint"} {
		if _, exists := dst[key]; exists {
			t.Fatalf("%s header should not be copied", key)
		}
	}
	if got := dst.Values("X-Test-Header"); len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}
