package network

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDefaultClientConfig(t *testing.T) {
	config := DefaultClientConfig()

	if config.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", config.Timeout)
	}
	if config.MaxIdleConnsPerHost != 4 {
		t.Errorf("Expected MaxIdleConnsPerHost 4, got %d", config.MaxIdleConnsPerHost)
	}
	if config.DisableKeepAlives {
		t.Error("Expected keep-alives to be enabled")
	}
}

func TestNewClientWithNilConfig(t *testing.T) {
	client := NewClient(nil)

	if client == nil {
		t.Fatal("Expected client to be created with default config")
	}
	if client.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", client.Timeout)
	}
}

func TestConnectionPoolingSettings(t *testing.T) {
	config := DefaultClientConfig()
	client := NewClient(config)

	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatal("Expected transport to be *http.Transport")
	}

	if transport.MaxIdleConns != config.MaxIdleConns {
		t.Errorf("Expected MaxIdleConns %d, got %d", config.MaxIdleConns, transport.MaxIdleConns)
	}
	if transport.MaxConnsPerHost != config.MaxConnsPerHost {
		t.Errorf("Expected MaxConnsPerHost %d, got %d", config.MaxConnsPerHost, transport.MaxConnsPerHost)
	}
	if transport.ResponseHeaderTimeout != config.ResponseHeaderTimeout {
		t.Errorf("Expected ResponseHeaderTimeout %v, got %v", config.ResponseHeaderTimeout, transport.ResponseHeaderTimeout)
	}
}

func TestGetDownloadClient(t *testing.T) {
	timeout := 5 * time.Minute
	client := GetDownloadClient(timeout, "", nil)

	if client.Timeout != timeout {
		t.Errorf("Expected timeout %v, got %v", timeout, client.Timeout)
	}
	if _, ok := client.Transport.(*http.Transport); !ok {
		t.Error("Expected bare transport without user agent or logger")
	}
}

func TestUserAgentTransport(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := GetDownloadClient(time.Second, "audiocache/1.0", zap.NewNop())

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if got != "audiocache/1.0" {
		t.Errorf("Expected user agent audiocache/1.0, got %q", got)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("User-Agent", "custom")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if got != "custom" {
		t.Errorf("Expected caller user agent to win, got %q", got)
	}
}

func TestLogTransportNilRequest(t *testing.T) {
	rt := NewLogTransport(http.DefaultTransport, zap.NewNop())
	if _, err := rt.RoundTrip(nil); err != ErrNilRequest {
		t.Errorf("Expected ErrNilRequest, got %v", err)
	}
}
