// Command replay verifies recorded frame logs: monotonic frame numbers,
// internally consistent statistics, and well-formed load-event edges. It
// understands logs holding several streamer runs appended back to back.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"tilestream.ai/internal/framelog"
	"tilestream.ai/internal/stream"
)

func main() {
	var (
		framesDir = flag.String("frames", "./data/framelog", "frame log dir containing frames/frames-*.jsonl.zst")
		fromFrame = flag.Uint64("from_frame", 0, "start counting from frame (inclusive, optional)")
		toFrame   = flag.Uint64("to_frame", 0, "stop at frame (inclusive, optional)")
	)
	flag.Parse()

	files, err := framelog.Files(*framesDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list frame logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no frame logs found in", *framesDir)
		os.Exit(1)
	}

	st := &replayState{verifyFrom: *fromFrame, toFrame: *toFrame}
	for _, path := range files {
		if err := verifyFile(path, st); err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
		if st.done {
			break
		}
	}

	fmt.Printf("replay ok: checked=%d frames segments=%d runs=%d progress=%d loaded=%d resumed=%d max_resident=%d\n",
		st.checked, len(files), st.runs, st.progressEvents, st.loadedEvents, st.resumedEvents, st.maxResident)
}

type replayState struct {
	verifyFrom uint64
	toFrame    uint64
	done       bool

	checked uint64
	runs    int

	havePrev      bool
	prevFrame     uint64
	prevRemaining int

	// Load-edge tracking, reset at each run boundary.
	sawWork   bool
	allLoaded bool

	progressEvents uint64
	loadedEvents   uint64
	resumedEvents  uint64
	maxResident    int
}

func verifyFile(path string, st *replayState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Restarted streamers append to the same hourly segment, so a file may
	// hold several concatenated zstd frames; the decoder reads across them.
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		var entry stream.FrameLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if err := verifyEntry(entry, st); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if st.done {
			return nil
		}
	}
	return sc.Err()
}

func verifyEntry(entry stream.FrameLogEntry, st *replayState) error {
	if entry.Frame == 0 {
		return fmt.Errorf("frame 0 entry")
	}
	if entry.Frame != entry.Stats.Frame {
		return fmt.Errorf("frame %d: stats carry frame %d", entry.Frame, entry.Stats.Frame)
	}
	s := entry.Stats
	if s.Remaining != s.QueuedRequests+s.InFlightRequests {
		return fmt.Errorf("frame %d: remaining=%d but queued=%d in_flight=%d", entry.Frame, s.Remaining, s.QueuedRequests, s.InFlightRequests)
	}

	contiguous := false
	switch {
	case !st.havePrev:
		st.runs++
	case entry.Frame == st.prevFrame+1:
		contiguous = true
	case entry.Frame == 1:
		// New streamer run appended behind the previous one.
		st.runs++
		st.sawWork = false
		st.allLoaded = false
	default:
		return fmt.Errorf("frame sequence broken: want=%d got=%d", st.prevFrame+1, entry.Frame)
	}

	hasProgress := false
	for _, ev := range entry.Events {
		switch ev.Kind {
		case stream.EventLoadProgress:
			if ev.Remaining != s.Remaining {
				return fmt.Errorf("frame %d: progress event remaining=%d stats remaining=%d", entry.Frame, ev.Remaining, s.Remaining)
			}
			hasProgress = true
			st.progressEvents++
		case stream.EventAllTilesLoaded:
			if !ev.Loaded || s.Remaining != 0 {
				return fmt.Errorf("frame %d: malformed idle edge (loaded=%v remaining=%d)", entry.Frame, ev.Loaded, s.Remaining)
			}
			if !st.sawWork {
				return fmt.Errorf("frame %d: idle edge before any work", entry.Frame)
			}
			if st.allLoaded {
				return fmt.Errorf("frame %d: repeated idle edge", entry.Frame)
			}
			st.allLoaded = true
			st.loadedEvents++
		case stream.EventLoadResumed:
			if ev.Loaded || s.Remaining == 0 {
				return fmt.Errorf("frame %d: malformed resume edge (loaded=%v remaining=%d)", entry.Frame, ev.Loaded, s.Remaining)
			}
			if !st.allLoaded {
				return fmt.Errorf("frame %d: resume edge without prior idle edge", entry.Frame)
			}
			st.allLoaded = false
			st.resumedEvents++
		default:
			return fmt.Errorf("frame %d: unknown event kind %q", entry.Frame, ev.Kind)
		}
	}

	if contiguous {
		if changed := s.Remaining != st.prevRemaining; changed != hasProgress {
			return fmt.Errorf("frame %d: remaining %d->%d but progress event present=%v", entry.Frame, st.prevRemaining, s.Remaining, hasProgress)
		}
	}

	if s.Remaining > 0 {
		st.sawWork = true
	}
	if s.ResidentTiles > st.maxResident {
		st.maxResident = s.ResidentTiles
	}
	if entry.Frame >= st.verifyFrom {
		st.checked++
	}
	if st.toFrame != 0 && entry.Frame >= st.toFrame {
		st.done = true
	}

	st.havePrev = true
	st.prevFrame = entry.Frame
	st.prevRemaining = s.Remaining
	return nil
}
