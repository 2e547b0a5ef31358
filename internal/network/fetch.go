package network

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
)

const (
	readChunkSize   = 32 * 1024
	writeBufferSize = 256 * 1024
)

// FetchRequest describes a single GET streamed into Dest
type FetchRequest struct {
	URL     string
	Headers map[string]string
	Dest    io.Writer
	// Limiter caps throughput in bytes per second; nil means unlimited
	Limiter *rate.Limiter
	// Progress is called after every chunk. total is -1 when the server did
	// not send a Content-Length.
	Progress func(written, total int64)
}

// FetchResult contains the outcome of a completed fetch
type FetchResult struct {
	BytesWritten  int64
	ContentLength int64
	Duration      time.Duration
}

// NewLimiter returns a limiter for bytesPerSecond, or nil when the limit is
// not positive.
func NewLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(bytesPerSecond)
	if burst < readChunkSize {
		burst = readChunkSize
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// Fetch downloads req.URL into req.Dest. The body is accepted only with a
// 200 status, and when the server announced a length the byte count must
// match it.
func Fetch(ctx context.Context, client *http.Client, req FetchRequest) (*FetchResult, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid download url: " + err.Error())
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, "download request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused
		io.CopyN(io.Discard, resp.Body, 4096)
		return nil, apperrors.NewHTTPStatusError(resp.StatusCode)
	}

	result := &FetchResult{ContentLength: resp.ContentLength}
	writer := bufio.NewWriterSize(req.Dest, writeBufferSize)
	buffer := make([]byte, readChunkSize)

	for {
		n, readErr := resp.Body.Read(buffer)
		if n > 0 {
			if req.Limiter != nil {
				if err := req.Limiter.WaitN(ctx, n); err != nil {
					return result, classify(ctx, "bandwidth wait interrupted", err)
				}
			}
			if _, err := writer.Write(buffer[:n]); err != nil {
				return result, apperrors.NewFileSystemError("failed to write download", err)
			}
			result.BytesWritten += int64(n)

			if req.Progress != nil {
				req.Progress(result.BytesWritten, resp.ContentLength)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return result, classify(ctx, "error reading response", readErr)
		}
	}

	if err := writer.Flush(); err != nil {
		return result, apperrors.NewFileSystemError("failed to flush download", err)
	}

	if resp.ContentLength >= 0 && result.BytesWritten != resp.ContentLength {
		return result, apperrors.NewNetworkError("download incomplete", io.ErrUnexpectedEOF)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// classify reports transport failures caused by the caller abandoning ctx as
// cancellations rather than network errors.
func classify(ctx context.Context, message string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return apperrors.NewCancelledError(message, ctxErr)
	}
	return apperrors.NewNetworkError(message, err)
}
