package main

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tilestream.ai/internal/fetch"
	"tilestream.ai/internal/stream"
	"tilestream.ai/internal/tiledb"
	"tilestream.ai/internal/tuning"
)

// buildFetcher picks a transport from the root url scheme and optionally
// wraps it in the pull-through tile archive. The returned cleanup closes the
// archive store; the returned url is the normalized root.
func buildFetcher(root, archivePath string, fc tuning.Fetch, logger *log.Logger) (stream.Fetcher, func(), string, error) {
	origin, rootURL, err := buildOrigin(root, fc)
	if err != nil {
		return nil, nil, "", err
	}

	cleanup := func() {}
	var fetcher stream.Fetcher = origin
	if archivePath != "" {
		store, err := tiledb.Open(archivePath)
		if err != nil {
			return nil, nil, "", fmt.Errorf("open tile archive: %w", err)
		}
		cleanup = func() { _ = store.Close() }
		fetcher = tiledb.NewPullThrough(store, origin)
		logger.Printf("pull-through archive %s", archivePath)
	}
	return fetcher, cleanup, rootURL, nil
}

func buildOrigin(root string, fc tuning.Fetch) (stream.Fetcher, string, error) {
	root = strings.TrimSpace(root)
	switch {
	case strings.HasPrefix(root, "http://"), strings.HasPrefix(root, "https://"):
		f := fetch.NewHTTP(fetch.HTTPConfig{
			Timeout:        time.Duration(fc.TimeoutMs) * time.Millisecond,
			MaxAttempts:    fc.MaxAttempts,
			RetryBaseDelay: time.Duration(fc.RetryBaseMs) * time.Millisecond,
			UserAgent:      fc.UserAgent,
		})
		return f, root, nil
	case strings.HasPrefix(root, "s3://"):
		f, err := buildS3Fetcher()
		if err != nil {
			return nil, "", err
		}
		return f, root, nil
	default:
		return buildFileOrigin(root)
	}
}

func buildS3Fetcher() (stream.Fetcher, error) {
	endpoint := strings.TrimSpace(os.Getenv("TS_S3_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("TS_S3_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("TS_S3_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("TS_S3_SECRET_ACCESS_KEY"))

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("s3 root but TS_S3_ENDPOINT/TS_S3_BUCKET/TS_S3_ACCESS_KEY_ID/TS_S3_SECRET_ACCESS_KEY are not fully set")
	}
	return fetch.NewS3(endpoint, bucket, accessKeyID, secretAccessKey)
}

// File roots accept file:// urls and bare paths. The directory holding the
// root descriptor anchors the containment check for every tile under it.
func buildFileOrigin(root string) (stream.Fetcher, string, error) {
	path := root
	if strings.HasPrefix(root, "file://") {
		u, err := url.Parse(root)
		if err != nil {
			return nil, "", fmt.Errorf("file root: %w", err)
		}
		path = u.Path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	f, err := fetch.NewFile(filepath.Dir(abs))
	if err != nil {
		return nil, "", err
	}
	return f, "file://" + filepath.ToSlash(abs), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
