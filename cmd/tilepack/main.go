// Command tilepack mirrors a tileset into a local archive database, or
// validates its descriptor documents against the published schema. The
// default mode walks every reachable descriptor from the root and downloads
// all tile payloads; validate walks the same tree without downloading
// payloads.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"tilestream.ai/internal/descriptor"
	"tilestream.ai/internal/fetch"
	"tilestream.ai/internal/stream"
	"tilestream.ai/internal/tiledb"
	"tilestream.ai/internal/tuning"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "pack":
			packCmd(os.Args[2:])
			return
		case "validate":
			validateCmd(os.Args[2:])
			return
		}
	}
	packCmd(os.Args[1:])
}

func packCmd(args []string) {
	fs := flag.NewFlagSet("tilepack", flag.ExitOnError)
	root := fs.String("root", "", "root tileset url (http(s)://..., s3://bucket/key, file:///path, or a local path)")
	out := fs.String("out", "./data/tiles.db", "archive database to write")
	tuningPath := fs.String("tuning", "./configs/stream.yaml", "path to stream.yaml (fetch settings)")
	maxDepth := fs.Int("max_depth", 0, "walk external tilesets this many levels deep (0 = unlimited)")
	jobs := fs.Int("jobs", 4, "concurrent tile downloads")
	_ = fs.Parse(args)

	if strings.TrimSpace(*root) == "" {
		fmt.Fprintln(os.Stderr, "missing -root")
		os.Exit(2)
	}
	tune := loadTuning(*tuningPath)

	origin, rootURL, err := buildOrigin(*root, tune.Fetch)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init fetcher:", err)
		os.Exit(1)
	}

	store, err := tiledb.Open(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open archive:", err)
		os.Exit(1)
	}
	defer store.Close()

	if *jobs < 1 {
		*jobs = 1
	}
	ctx := context.Background()
	packed := map[string]bool{}
	sem := make(chan struct{}, *jobs)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var tiles int
	var byteTotal int64
	var failed int

	// Descriptors are walked serially; the payloads they reference download
	// on a bounded worker set. Counters are shared with the workers.
	visit := func(docURL string, raw []byte, tileURIs []string) error {
		store.Put(docURL, raw)
		mu.Lock()
		byteTotal += int64(len(raw))
		mu.Unlock()
		for _, u := range tileURIs {
			if packed[u] {
				continue
			}
			packed[u] = true
			wg.Add(1)
			sem <- struct{}{}
			go func(u string) {
				defer wg.Done()
				defer func() { <-sem }()
				data, err := origin.Fetch(ctx, u)
				if err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
					fmt.Fprintf(os.Stderr, "fetch %s: %v\n", u, err)
					return
				}
				store.Put(u, data)
				mu.Lock()
				tiles++
				byteTotal += int64(len(data))
				mu.Unlock()
			}(u)
		}
		return nil
	}

	docs, _, _, err := walkTilesets(ctx, origin, rootURL, *maxDepth, visit)
	wg.Wait()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pack:", err)
		os.Exit(1)
	}

	// Close flushes the writer; only then is the summary a durability claim.
	if err := store.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "close archive:", err)
		os.Exit(1)
	}
	st := store.Stats()
	if st.PutErrTotal > 0 {
		fmt.Fprintf(os.Stderr, "archive writes failed: %d\n", st.PutErrTotal)
		os.Exit(1)
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "pack incomplete: tilesets=%d tiles=%d failed=%d out=%s\n", docs, tiles, failed, *out)
		os.Exit(1)
	}
	fmt.Printf("pack ok: tilesets=%d tiles=%d bytes=%d archived=%d out=%s\n", docs, tiles, byteTotal, st.PutTotal, *out)
}

func validateCmd(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	root := fs.String("root", "", "root tileset url or path")
	schemaPath := fs.String("schema", "./schemas/tileset.schema.json", "tileset schema to validate against")
	tuningPath := fs.String("tuning", "./configs/stream.yaml", "path to stream.yaml (fetch settings)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*root) == "" {
		fmt.Fprintln(os.Stderr, "missing -root")
		os.Exit(2)
	}
	tune := loadTuning(*tuningPath)

	sch, err := jsonschema.Compile(*schemaPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compile schema:", err)
		os.Exit(1)
	}

	origin, rootURL, err := buildOrigin(*root, tune.Fetch)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init fetcher:", err)
		os.Exit(1)
	}

	visit := func(docURL string, raw []byte, _ []string) error {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%s: %w", docURL, err)
		}
		if err := sch.Validate(v); err != nil {
			return fmt.Errorf("%s: %w", docURL, err)
		}
		return nil
	}

	docs, nodes, tiles, err := walkTilesets(context.Background(), origin, rootURL, 0, visit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "validate:", err)
		os.Exit(1)
	}
	fmt.Printf("validate ok: tilesets=%d nodes=%d tiles=%d schema=%s\n", docs, nodes, tiles, filepath.Base(*schemaPath))
}

type tilesetVisit func(docURL string, raw []byte, tileURIs []string) error

type docRef struct {
	url   string
	depth int
}

// walkTilesets fetches the root descriptor and every external tileset it
// links to, breadth first, calling visit once per document. Documents are
// deduplicated by resolved url so reference cycles terminate; maxDepth > 0
// stops following external references that many levels below the root.
func walkTilesets(ctx context.Context, f stream.Fetcher, root string, maxDepth int, visit tilesetVisit) (docs, nodes, tiles int, err error) {
	queue := []docRef{{url: root}}
	seen := map[string]bool{root: true}

	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]

		raw, err := f.Fetch(ctx, d.url)
		if err != nil {
			return docs, nodes, tiles, fmt.Errorf("fetch %s: %w", d.url, err)
		}
		doc, err := descriptor.Parse(raw)
		if err != nil {
			return docs, nodes, tiles, fmt.Errorf("%s: %w", d.url, err)
		}
		nested, tileURIs, n, err := splitRefs(doc, d.url)
		if err != nil {
			return docs, nodes, tiles, fmt.Errorf("%s: %w", d.url, err)
		}
		if err := visit(d.url, raw, tileURIs); err != nil {
			return docs, nodes, tiles, err
		}
		docs++
		nodes += n
		tiles += len(tileURIs)

		for _, u := range nested {
			if maxDepth > 0 && d.depth+1 > maxDepth {
				continue
			}
			if seen[u] {
				continue
			}
			seen[u] = true
			queue = append(queue, docRef{url: u, depth: d.depth + 1})
		}
	}
	return docs, nodes, tiles, nil
}

// splitRefs resolves every content reference in a document against the
// document url and splits them into nested tileset documents and tile
// payloads.
func splitRefs(doc *descriptor.Document, docURL string) (tilesets, tiles []string, nodes int, err error) {
	stack := []*descriptor.Node{doc.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == nil {
			continue
		}
		nodes++
		if n.Content != nil && strings.TrimSpace(n.Content.URI) != "" {
			abs, err := descriptor.ResolveURI(docURL, n.Content.URI)
			if err != nil {
				return nil, nil, nodes, err
			}
			if descriptor.IsTilesetURI(abs) {
				tilesets = append(tilesets, abs)
			} else {
				tiles = append(tiles, abs)
			}
		}
		stack = append(stack, n.Children...)
	}
	return tilesets, tiles, nodes, nil
}

func loadTuning(path string) tuning.Tuning {
	tune, err := tuning.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tuning.Defaults()
		}
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	return tune
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
