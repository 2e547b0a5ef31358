package network

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
)

func TestFetch_Success(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 100*1024)
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload)
	}))
	defer server.Close()

	var buf bytes.Buffer
	var lastWritten, lastTotal int64
	result, err := Fetch(context.Background(), server.Client(), FetchRequest{
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
		Dest:    &buf,
		Progress: func(written, total int64) {
			lastWritten, lastTotal = written, total
		},
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if result.BytesWritten != int64(len(payload)) {
		t.Errorf("Expected %d bytes, got %d", len(payload), result.BytesWritten)
	}
	if !bytes.Equal(buf.Bytes(), payload) {
		t.Error("Downloaded content does not match")
	}
	if auth != "Bearer token" {
		t.Errorf("Expected auth header to be forwarded, got %q", auth)
	}
	if lastWritten != int64(len(payload)) || lastTotal != int64(len(payload)) {
		t.Errorf("Unexpected final progress %d/%d", lastWritten, lastTotal)
	}
}

func TestFetch_UnknownLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("chunk-one"))
		flusher.Flush()
		w.Write([]byte("chunk-two"))
	}))
	defer server.Close()

	var buf bytes.Buffer
	var totals []int64
	result, err := Fetch(context.Background(), server.Client(), FetchRequest{
		URL:      server.URL,
		Dest:     &buf,
		Progress: func(written, total int64) { totals = append(totals, total) },
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.ContentLength != -1 {
		t.Errorf("Expected unknown content length, got %d", result.ContentLength)
	}
	for _, total := range totals {
		if total != -1 {
			t.Errorf("Expected total -1 for chunked response, got %d", total)
		}
	}
	if buf.String() != "chunk-onechunk-two" {
		t.Errorf("Unexpected body %q", buf.String())
	}
}

func TestFetch_HTTPError(t *testing.T) {
	tests := []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError}

	for _, status := range tests {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
			defer server.Close()

			var buf bytes.Buffer
			_, err := Fetch(context.Background(), server.Client(), FetchRequest{URL: server.URL, Dest: &buf})

			var appErr *apperrors.AppError
			if !asAppError(err, &appErr) || appErr.StatusCode != status {
				t.Fatalf("Expected status error %d, got %v", status, err)
			}
			if buf.Len() != 0 {
				t.Error("Expected nothing written for error response")
			}
		})
	}
}

func TestFetch_Incomplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.Write([]byte("short"))
		w.(http.Flusher).Flush()
		// Closing the connection early leaves the body truncated
		conn, _, _ := w.(http.Hijacker).Hijack()
		conn.Close()
	}))
	defer server.Close()

	var buf bytes.Buffer
	_, err := Fetch(context.Background(), server.Client(), FetchRequest{URL: server.URL, Dest: &buf})
	if err == nil {
		t.Fatal("Expected error for truncated body")
	}
	if !apperrors.IsNetworkError(err) {
		t.Errorf("Expected network error, got %v", err)
	}
}

func TestFetch_Cancelled(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	_, err := Fetch(ctx, server.Client(), FetchRequest{
		URL:  server.URL,
		Dest: &buf,
		Progress: func(written, total int64) {
			cancel()
		},
	})

	if !apperrors.IsCancelled(err) {
		t.Errorf("Expected cancelled error, got %v", err)
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	var buf bytes.Buffer
	_, err := Fetch(context.Background(), http.DefaultClient, FetchRequest{URL: "://bad", Dest: &buf})
	if apperrors.GetErrorType(err) != apperrors.ErrTypeValidation {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestNewLimiter(t *testing.T) {
	if NewLimiter(0) != nil {
		t.Error("Expected nil limiter for zero limit")
	}

	limiter := NewLimiter(1024)
	if limiter == nil {
		t.Fatal("Expected limiter")
	}
	if limiter.Burst() < readChunkSize {
		t.Errorf("Expected burst of at least one chunk, got %d", limiter.Burst())
	}
}

func TestFetch_RateLimited(t *testing.T) {
	payload := bytes.Repeat([]byte("b"), 64*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	// Burst covers the first chunk; the remainder waits at 256KB/s
	limiter := NewLimiter(256 * 1024)
	limiter.WaitN(context.Background(), limiter.Burst())

	start := time.Now()
	var buf bytes.Buffer
	if _, err := Fetch(context.Background(), server.Client(), FetchRequest{
		URL:     server.URL,
		Dest:    &buf,
		Limiter: limiter,
	}); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Expected throttled transfer, took %v", elapsed)
	}
}

func asAppError(err error, target **apperrors.AppError) bool {
	appErr, ok := err.(*apperrors.AppError)
	if ok {
		*target = appErr
	}
	return ok
}
