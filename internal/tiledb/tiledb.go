// Package tiledb archives tile payloads in a local SQLite database, keyed by
// resolved URL. It backs the tilepack tool and the streamer's pull-through
// cache.
package tiledb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB

	ch   chan putReq
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	putTotal    atomic.Uint64
	putErrTotal atomic.Uint64
}

type putReq struct {
	url       string
	data      []byte
	fetchedAt string
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Two connections: the writer transaction pins one, reads use the other.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db: db,
		ch: make(chan putReq, 1024),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL keeps readers unblocked while the writer batches inserts.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tiles (
			url TEXT PRIMARY KEY,
			content BLOB NOT NULL,
			size INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			fetched_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tiles_fetched_at ON tiles(fetched_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Put queues a tile for storage. An archive must not lose writes, so unlike
// a secondary index the send blocks when the writer falls behind.
func (s *Store) Put(url string, data []byte) {
	if s == nil || s.closed.Load() || url == "" {
		return
	}
	s.ch <- putReq{url: url, data: data, fetchedAt: time.Now().UTC().Format(time.RFC3339Nano)}
}

// Get returns the stored tile, or ok=false when absent. Reads observe
// committed batches only; a tile still inside the writer's open transaction
// counts as a miss.
func (s *Store) Get(ctx context.Context, url string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM tiles WHERE url = ?`, url).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`).Scan(&n)
	return n, err
}

type StoreStats struct {
	PutTotal      uint64
	PutErrTotal   uint64
	QueueDepth    int
	QueueCapacity int
}

func (s *Store) Stats() StoreStats {
	return StoreStats{
		PutTotal:      s.putTotal.Load(),
		PutErrTotal:   s.putErrTotal.Load(),
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
	}
}

func (s *Store) loop() {
	ctx := context.Background()

	insertTile, _ := s.db.Prepare(`INSERT OR REPLACE INTO tiles(url,content,size,sha256,fetched_at) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertTile != nil {
			_ = insertTile.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 500 * time.Millisecond
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil || insertTile == nil {
				s.putErrTotal.Add(1)
				continue
			}
			sum := sha256.Sum256(r.data)
			if _, err := tx.Stmt(insertTile).Exec(
				r.url,
				r.data,
				len(r.data),
				hex.EncodeToString(sum[:]),
				r.fetchedAt,
			); err != nil {
				s.putErrTotal.Add(1)
				rollback()
				continue
			}
			opCount++
			s.putTotal.Add(1)
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
