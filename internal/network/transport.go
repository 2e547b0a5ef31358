package network

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrNilRequest indicates that the HTTP request is nil
var ErrNilRequest = errors.New("request is nil")

// LogTransport logs each request/response cycle at debug level. Query
// strings are never logged because signed audio URLs carry credentials in
// them.
type LogTransport struct {
	next   http.RoundTripper
	logger *zap.Logger
}

// NewLogTransport wraps next with request logging
func NewLogTransport(next http.RoundTripper, logger *zap.Logger) http.RoundTripper {
	return &LogTransport{
		next:   next,
		logger: logger.Named("http"),
	}
}

// RoundTrip implements http.RoundTripper
func (t *LogTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	if !t.logger.Core().Enabled(zapcore.DebugLevel) {
		return t.next.RoundTrip(req)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("host", req.URL.Host),
		zap.String("path", req.URL.Path),
		zap.Duration("duration", duration),
	}

	if err != nil {
		t.logger.Debug("Request failed", append(fields, zap.Error(err))...)
		return nil, err
	}

	t.logger.Debug("Request completed", append(fields,
		zap.Int("status", resp.StatusCode),
		zap.Int64("content_length", resp.ContentLength),
	)...)

	return resp, nil
}

// UserAgentTransport sets a User-Agent header on requests that lack one
type UserAgentTransport struct {
	next      http.RoundTripper
	userAgent string
}

// NewUserAgentTransport wraps next with a default User-Agent
func NewUserAgentTransport(next http.RoundTripper, userAgent string) http.RoundTripper {
	return &UserAgentTransport{next: next, userAgent: userAgent}
}

// RoundTrip implements http.RoundTripper
func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.next.RoundTrip(clone)
}
