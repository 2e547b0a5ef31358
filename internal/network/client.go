package network

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ClientConfig holds configuration for HTTP client
type ClientConfig struct {
	Timeout                time.Duration
	MaxIdleConns           int
	MaxIdleConnsPerHost    int
	MaxConnsPerHost        int
	IdleConnTimeout        time.Duration
	TLSHandshakeTimeout    time.Duration
	ResponseHeaderTimeout  time.Duration
	ExpectContinueTimeout  time.Duration
	DisableKeepAlives      bool
	MaxResponseHeaderBytes int64
	UserAgent              string
	// Logger receives request traces at debug level; nil disables them
	Logger *zap.Logger
}

// DefaultClientConfig returns the default client configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:                30 * time.Second,
		MaxIdleConns:           16,
		MaxIdleConnsPerHost:    4,
		MaxConnsPerHost:        8,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  30 * time.Second,
		ExpectContinueTimeout:  1 * time.Second,
		DisableKeepAlives:      false,
		MaxResponseHeaderBytes: 1 << 20, // 1 MB
	}
}

// NewClient creates a new HTTP client with connection pooling
func NewClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = DefaultClientConfig()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,

		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		MaxConnsPerHost:     config.MaxConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,

		DisableKeepAlives:      config.DisableKeepAlives,
		MaxResponseHeaderBytes: config.MaxResponseHeaderBytes,

		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: config.ExpectContinueTimeout,
	}

	var rt http.RoundTripper = transport
	if config.UserAgent != "" {
		rt = NewUserAgentTransport(rt, config.UserAgent)
	}
	if config.Logger != nil {
		rt = NewLogTransport(rt, config.Logger)
	}

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: rt,
	}
}

// GetDownloadClient returns an HTTP client for audio file downloads. timeout
// bounds a whole transfer.
func GetDownloadClient(timeout time.Duration, userAgent string, logger *zap.Logger) *http.Client {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = 60 * time.Second
	config.IdleConnTimeout = 120 * time.Second
	config.UserAgent = userAgent
	config.Logger = logger

	return NewClient(config)
}
