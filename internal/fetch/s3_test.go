package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestS3Fetcher_SignedGet(t *testing.T) {
	var gotPath, gotAuth, gotSHA, gotDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotSHA = r.Header.Get("x-amz-content-sha256")
		gotDate = r.Header.Get("x-amz-date")
		_, _ = w.Write([]byte("object body"))
	}))
	defer srv.Close()

	s, err := NewS3(srv.URL, "tiles", "AKID", "SECRET")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	data, err := s.Fetch(context.Background(), "s3://tiles/city/tile.bin")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(data) != "object body" {
		t.Fatalf("payload: %q", data)
	}
	if gotPath != "/tiles/city/tile.bin" {
		t.Fatalf("path: %q", gotPath)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKID/") {
		t.Fatalf("authorization: %q", gotAuth)
	}
	if !strings.Contains(gotAuth, "SignedHeaders=host;x-amz-content-sha256;x-amz-date") {
		t.Fatalf("signed headers: %q", gotAuth)
	}
	if gotSHA != emptyPayloadSHA256 {
		t.Fatalf("content sha: %q", gotSHA)
	}
	if gotDate == "" {
		t.Fatalf("missing x-amz-date")
	}
}

func TestS3Fetcher_KeyMapping(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	s, err := NewS3(srv.URL, "tiles", "AKID", "SECRET")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	cases := []struct {
		url  string
		path string
	}{
		{"city/tile.bin", "/tiles/city/tile.bin"},
		{"/city/tile.bin", "/tiles/city/tile.bin"},
		{`city\tile.bin`, "/tiles/city/tile.bin"},
		{"s3://tiles/deep/a/../b/tile.bin", "/tiles/deep/b/tile.bin"},
	}
	for _, tc := range cases {
		if _, err := s.Fetch(context.Background(), tc.url); err != nil {
			t.Fatalf("fetch %q: %v", tc.url, err)
		}
		if gotPath != tc.path {
			t.Fatalf("fetch %q: path %q want %q", tc.url, gotPath, tc.path)
		}
	}
}

func TestS3Fetcher_Rejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s, err := NewS3(srv.URL, "tiles", "AKID", "SECRET")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := s.Fetch(context.Background(), "s3://other/k.bin"); err == nil || !strings.Contains(err.Error(), "bucket mismatch") {
		t.Fatalf("bucket mismatch: %v", err)
	}
	if _, err := s.Fetch(context.Background(), "s3://tiles/"); err == nil {
		t.Fatalf("empty key accepted")
	}
	if _, err := s.Fetch(context.Background(), "missing.bin"); err == nil || !strings.Contains(err.Error(), "status=404") {
		t.Fatalf("404: %v", err)
	}

	if _, err := NewS3("", "tiles", "AKID", "SECRET"); err == nil {
		t.Fatalf("empty endpoint accepted")
	}
}
