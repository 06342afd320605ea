package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher serves tiles from a local directory. Every resolved path must
// stay inside the base directory; references that escape it are rejected.
type FileFetcher struct {
	baseDir string
}

func NewFile(baseDir string) (*FileFetcher, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", abs)
	}
	return &FileFetcher{baseDir: abs}, nil
}

// Fetch accepts file:// URLs, absolute paths, and paths relative to the base
// directory.
func (f *FileFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	full := filepath.Clean(filepath.FromSlash(p))
	if !filepath.IsAbs(full) {
		full = filepath.Join(f.baseDir, full)
	}
	rel, err := filepath.Rel(f.baseDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("path escapes base dir: %s", rawURL)
	}
	return os.ReadFile(full)
}
