package tiledb

import (
	"context"

	"tilestream.ai/internal/stream"
)

// PullThrough serves tiles from the archive and falls back to an origin
// fetcher on miss, archiving whatever the origin returns. It satisfies
// stream.Fetcher so the engine can sit directly on top of it.
type PullThrough struct {
	store *Store
	next  stream.Fetcher
}

func NewPullThrough(store *Store, next stream.Fetcher) *PullThrough {
	return &PullThrough{store: store, next: next}
}

func (p *PullThrough) Fetch(ctx context.Context, url string) ([]byte, error) {
	if data, ok, err := p.store.Get(ctx, url); err == nil && ok {
		return data, nil
	}
	data, err := p.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	p.store.Put(url, data)
	return data, nil
}
