package framelog

import (
	"testing"

	"tilestream.ai/internal/stream"
)

func readEntries(t *testing.T, path string) []stream.FrameLogEntry {
	t.Helper()
	entries, err := ReadAll(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return entries
}

func TestFrameLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewFrameLogger(dir)

	for i := 1; i <= 3; i++ {
		e := stream.FrameLogEntry{
			Frame: uint64(i),
			Stats: stream.Statistics{Frame: uint64(i), Visited: 10 * i, Selected: i, Remaining: 3 - i},
		}
		if i == 3 {
			e.Events = []stream.Event{{Kind: stream.EventAllTilesLoaded, Loaded: true}}
		}
		if err := l.WriteFrame(e); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(dir)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("segments: got %d want 1", len(files))
	}

	entries := readEntries(t, files[0])
	if len(entries) != 3 {
		t.Fatalf("entries: got %d want 3", len(entries))
	}
	for i, e := range entries {
		if e.Frame != uint64(i+1) {
			t.Fatalf("entry %d: frame %d", i, e.Frame)
		}
		if e.Stats.Visited != 10*(i+1) {
			t.Fatalf("entry %d: visited %d", i, e.Stats.Visited)
		}
	}
	last := entries[2]
	if len(last.Events) != 1 || last.Events[0].Kind != stream.EventAllTilesLoaded || !last.Events[0].Loaded {
		t.Fatalf("events: %+v", last.Events)
	}
}

func TestFrameLogger_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	l := NewFrameLogger(dir)
	if err := l.WriteFrame(stream.FrameLogEntry{Frame: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A restart within the same hour appends to the same segment.
	l = NewFrameLogger(dir)
	if err := l.WriteFrame(stream.FrameLogEntry{Frame: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(dir)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("segments: got %d want 1", len(files))
	}
	entries := readEntries(t, files[0])
	if len(entries) != 2 || entries[0].Frame != 1 || entries[1].Frame != 2 {
		t.Fatalf("entries: %+v", entries)
	}
}
