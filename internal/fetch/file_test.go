package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileFetcher_ServesWithinBase(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tileset.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "leaf.bin"), []byte("leaf"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := NewFile(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	for _, url := range []string{
		"file://" + filepath.ToSlash(filepath.Join(dir, "tileset.json")),
		filepath.Join(dir, "tileset.json"),
		"tileset.json",
	} {
		data, err := f.Fetch(ctx, url)
		if err != nil {
			t.Fatalf("fetch %q: %v", url, err)
		}
		if string(data) != "{}" {
			t.Fatalf("fetch %q: payload %q", url, data)
		}
	}

	data, err := f.Fetch(ctx, "sub/leaf.bin")
	if err != nil {
		t.Fatalf("fetch nested: %v", err)
	}
	if string(data) != "leaf" {
		t.Fatalf("nested payload: %q", data)
	}
}

func TestFileFetcher_RejectsEscapes(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for _, url := range []string{
		"../outside.bin",
		"sub/../../outside.bin",
		"file:///etc/hostname",
	} {
		if _, err := f.Fetch(context.Background(), url); err == nil {
			t.Fatalf("escape %q was served", url)
		}
	}
}

func TestFileFetcher_MissingFile(t *testing.T) {
	f, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := f.Fetch(context.Background(), "absent.bin"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestNewFile_RejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFile(file); err == nil {
		t.Fatalf("expected error for non-directory base")
	}
}
