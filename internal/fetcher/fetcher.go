// Package fetcher performs outbound HTTP for page scrapes and document
// downloads, with per-host rate limiting and retry on transient failures.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// ErrBodyTooLarge is returned when a response exceeds the configured body
// size limit.
var ErrBodyTooLarge = eris.New("response body exceeds size limit")

// Request describes a single GET.
type Request struct {
	URL string
	// Headers replaces the default header set when non-empty.
	Headers map[string]string
	// Timeout bounds the whole exchange including reading the body. Zero
	// means the fetcher default.
	Timeout time.Duration
}

// Response is a fully buffered successful response.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	FinalURL    string
	ContentType string
}

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Get fetches the URL and buffers the body. Non-2xx responses return a
	// *StatusError.
	Get(ctx context.Context, req Request) (*Response, error)

	// Download fetches the URL and returns the response body stream. The
	// request timeout keeps running until the body is closed.
	Download(ctx context.Context, req Request) (io.ReadCloser, error)
}

// StatusError is returned for a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
	Header     http.Header
	// Body holds at most the first few KiB of the response.
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}
