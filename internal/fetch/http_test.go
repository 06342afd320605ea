package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func testHTTPFetcher() *HTTPFetcher {
	return NewHTTP(HTTPConfig{
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
	})
}

func TestHTTPFetcher_PlainResponse(t *testing.T) {
	var gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept-Encoding")
		_, _ = w.Write([]byte("tile payload"))
	}))
	defer srv.Close()

	data, err := testHTTPFetcher().Fetch(context.Background(), srv.URL+"/tile.bin")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "tile payload" {
		t.Fatalf("payload: %q", data)
	}
	if !strings.Contains(gotAccept, "zstd") || !strings.Contains(gotAccept, "gzip") {
		t.Fatalf("accept-encoding not offered: %q", gotAccept)
	}
}

func TestHTTPFetcher_ZstdResponse(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	compressed := enc.EncodeAll([]byte("compressed tile"), nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		_, _ = w.Write(compressed)
	}))
	defer srv.Close()

	data, err := testHTTPFetcher().Fetch(context.Background(), srv.URL+"/tile.bin")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "compressed tile" {
		t.Fatalf("payload: %q", data)
	}
}

func TestHTTPFetcher_GzipResponse(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte("gzipped tile"))
	_ = zw.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	data, err := testHTTPFetcher().Fetch(context.Background(), srv.URL+"/tile.bin")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "gzipped tile" {
		t.Fatalf("payload: %q", data)
	}
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		mu.Unlock()
		if thisReq <= 2 {
			http.Error(w, "temporary failure", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	data, err := testHTTPFetcher().Fetch(context.Background(), srv.URL+"/tile.bin")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "recovered" {
		t.Fatalf("payload: %q", data)
	}
	mu.Lock()
	defer mu.Unlock()
	if reqCount != 3 {
		t.Fatalf("request count: got %d want 3", reqCount)
	}
}

func TestHTTPFetcher_NotFound_NoRetry(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		mu.Unlock()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := testHTTPFetcher().Fetch(context.Background(), srv.URL+"/missing.bin")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "status=404") {
		t.Fatalf("error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if reqCount != 1 {
		t.Fatalf("404 retried: %d requests", reqCount)
	}
}

func TestHTTPFetcher_ExhaustsAttempts(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		mu.Unlock()
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testHTTPFetcher().Fetch(context.Background(), srv.URL+"/tile.bin")
	if err == nil {
		t.Fatalf("expected error")
	}
	mu.Lock()
	defer mu.Unlock()
	if reqCount != 3 {
		t.Fatalf("attempts: got %d want 3", reqCount)
	}
}
