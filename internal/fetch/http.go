// Package fetch provides the transport implementations behind the streaming
// engine's Fetcher interface: HTTP(S) origins, local directory trees, and
// S3-compatible object stores.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// HTTPFetcher retrieves tiles over HTTP(S) with bounded retries and
// transparent zstd/gzip response decoding. Safe for concurrent use.
type HTTPFetcher struct {
	client      *http.Client
	maxAttempts int
	retryBase   time.Duration
	userAgent   string
	zdec        *zstd.Decoder
}

type HTTPConfig struct {
	Timeout        time.Duration // per attempt
	MaxAttempts    int
	RetryBaseDelay time.Duration
	UserAgent      string
}

func (c *HTTPConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 200 * time.Millisecond
	}
	if c.UserAgent == "" {
		c.UserAgent = "tilestream/1.0"
	}
}

func NewHTTP(cfg HTTPConfig) *HTTPFetcher {
	cfg.applyDefaults()
	zdec, _ := zstd.NewReader(nil)
	return &HTTPFetcher{
		client:      &http.Client{Timeout: cfg.Timeout},
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBaseDelay,
		userAgent:   cfg.UserAgent,
		zdec:        zdec,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		data, retryable, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			return nil, lastErr
		}
		if attempt < f.maxAttempts {
			backoff := time.Duration(attempt*attempt) * f.retryBase
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(backoff):
			}
		}
	}
	return nil, lastErr
}

// fetchOnce reports whether a failure is worth retrying: transport errors
// and 5xx/429 are, other statuses are permanent.
func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept-Encoding", "zstd, gzip")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("fetch %s: status=%d body=%s", rawURL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	data, err := f.decode(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

func (f *HTTPFetcher) decode(encoding string, raw []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return raw, nil
	case "zstd":
		out, err := f.zdec.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return out, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", encoding)
	}
}
