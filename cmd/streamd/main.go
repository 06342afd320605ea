package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"tilestream.ai/internal/framelog"
	"tilestream.ai/internal/observerproto"
	"tilestream.ai/internal/stream"
	"tilestream.ai/internal/transport/observer"
	"tilestream.ai/internal/tuning"
)

func main() {
	var (
		root       = flag.String("root", "", "root tileset url (http(s)://..., s3://bucket/key, file:///path, or a local path)")
		addr       = flag.String("addr", "127.0.0.1:8070", "debug http listen address (empty to disable)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to stream.yaml (default: <configs>/stream.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		archive    = flag.String("archive", "", "tile archive db for pull-through caching (default: fetch.archive_path from stream.yaml)")
		frames     = flag.Uint64("frames", 0, "stop after this many frames (0 runs until signal)")
		logFrames  = flag.Bool("log_frames", true, "write per-frame logs under <data>/framelog")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[streamd] ", log.LstdFlags|log.Lmicroseconds)

	if strings.TrimSpace(*root) == "" {
		logger.Fatalf("missing -root tileset url")
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "stream.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	archivePath := strings.TrimSpace(*archive)
	if archivePath == "" {
		archivePath = strings.TrimSpace(tune.Fetch.ArchivePath)
	}
	fetcher, fetchCleanup, rootURL, err := buildFetcher(*root, archivePath, tune.Fetch, logger)
	if err != nil {
		logger.Fatalf("init fetcher: %v", err)
	}
	defer fetchCleanup()

	ts, err := stream.New(stream.Config{
		RootURL:                   rootURL,
		MaxConcurrentRequests:     tune.MaxConcurrentRequests,
		CacheMaxSize:              tune.CacheMaxSize,
		ScreenSpaceErrorThreshold: tune.SSEThreshold,
		DebugDrawBounds:           tune.DebugDrawBounds,
	}, fetcher)
	if err != nil {
		logger.Fatalf("tileset: %v", err)
	}
	defer ts.Close()

	if *logFrames {
		fl := framelog.NewFrameLogger(filepath.Join(*dataDir, "framelog"))
		defer fl.Close()
		ts.SetFrameLogger(fl)
	}

	// Events observed during Update, collected for the observer feed.
	var frameEvents []stream.Event
	ts.OnLoadProgress(func(remaining int) {
		frameEvents = append(frameEvents, stream.Event{Kind: stream.EventLoadProgress, Remaining: remaining})
	})
	ts.OnAllTilesLoaded(func(loaded bool) {
		kind := stream.EventAllTilesLoaded
		if !loaded {
			kind = stream.EventLoadResumed
		}
		frameEvents = append(frameEvents, stream.Event{Kind: kind, Loaded: loaded})
	})

	ctx, cancel := signalContext()
	defer cancel()

	hz := tune.FrameRateHz
	if hz <= 0 {
		hz = 30
	}

	var lastFrame atomic.Pointer[frameSnapshot]

	var obsSrv *observer.Server
	if strings.TrimSpace(*addr) != "" {
		vw, vh := viewportSize(tune.Viewport)
		obsSrv = observer.NewServer(func() observerproto.BootstrapResponse {
			return observerproto.BootstrapResponse{
				ProtocolVersion: observerproto.Version,
				RootURL:         rootURL,
				Frame:           ts.Frame(),
				StreamParams: observerproto.StreamParams{
					FrameRateHz:           hz,
					MaxConcurrentRequests: tune.MaxConcurrentRequests,
					CacheMaxSize:          tune.CacheMaxSize,
					SSEThreshold:          tune.SSEThreshold,
					ViewportWidth:         vw,
					ViewportHeight:        vh,
				},
			}
		}, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
		startDebugHTTP(ctx, strings.TrimSpace(*addr), obsSrv, &lastFrame, logger)
	}

	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	logger.Printf("streaming root=%s hz=%d sse_threshold=%.1f", rootURL, hz, tune.SSEThreshold)

	start := time.Now()
	ready := false
	for {
		select {
		case <-ctx.Done():
			logger.Printf("shutting down at frame=%d", ts.Frame())
			return
		case <-ticker.C:
		}

		frameEvents = frameEvents[:0]
		ts.SetView(orbitView(tune, time.Since(start)))
		ts.Update()

		if err := ts.LoadError(); err != nil {
			logger.Fatalf("root tileset: %v", err)
		}
		if !ready && ts.Ready() {
			ready = true
			logger.Printf("root tileset ready tiles=%d max_depth=%d", ts.TotalTiles(), ts.MaxDepth())
		}

		st := ts.Stats()
		lastFrame.Store(&frameSnapshot{stats: st, evictions: ts.Evictions(), ready: ready})

		if obsSrv != nil {
			obsSrv.Broadcast(buildFrameMsg(ts, st, frameEvents))
		}

		if *frames > 0 && st.Frame >= *frames {
			logger.Printf("frame budget reached frame=%d remaining=%d resident=%d", st.Frame, st.Remaining, st.ResidentTiles)
			return
		}
	}
}

// frameSnapshot is the cross-goroutine copy of the last completed frame,
// published for the metrics handler.
type frameSnapshot struct {
	stats     stream.Statistics
	evictions uint64
	ready     bool
}

const obsMaxSelected = 256

func buildFrameMsg(ts *stream.Tileset, st stream.Statistics, events []stream.Event) observerproto.FrameMsg {
	msg := observerproto.FrameMsg{Frame: st.Frame, Stats: st, Events: events}

	sel := ts.Selected()
	if len(sel) > obsMaxSelected {
		sel = sel[:obsMaxSelected]
	}
	for _, t := range sel {
		msg.Selected = append(msg.Selected, observerproto.SelectedTile{
			URI:            t.ContentURI(),
			Depth:          t.Depth(),
			GeometricError: t.GeometricError(),
			ContentState:   t.ContentState().String(),
		})
	}
	for _, s := range ts.DebugBounds() {
		if len(msg.Bounds) >= obsMaxSelected {
			break
		}
		msg.Bounds = append(msg.Bounds, [4]float64{s.Center.X, s.Center.Y, s.Center.Z, s.Radius})
	}
	return msg
}

func startDebugHTTP(ctx context.Context, addr string, obsSrv *observer.Server, last *atomic.Pointer[frameSnapshot], logger *log.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		snap := last.Load()
		if snap == nil {
			snap = &frameSnapshot{}
		}
		st := snap.stats
		ready := 0
		if snap.ready {
			ready = 1
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP tilestream_frame Current frame counter.\n")
		fmt.Fprintf(rw, "# TYPE tilestream_frame gauge\n")
		fmt.Fprintf(rw, "tilestream_frame %d\n", st.Frame)

		fmt.Fprintf(rw, "# HELP tilestream_ready Whether the root tileset is loaded.\n")
		fmt.Fprintf(rw, "# TYPE tilestream_ready gauge\n")
		fmt.Fprintf(rw, "tilestream_ready %d\n", ready)

		fmt.Fprintf(rw, "# HELP tilestream_tiles Per-frame traversal counts.\n")
		fmt.Fprintf(rw, "# TYPE tilestream_tiles gauge\n")
		fmt.Fprintf(rw, "tilestream_tiles{stage=%q} %d\n", "visited", st.Visited)
		fmt.Fprintf(rw, "tilestream_tiles{stage=%q} %d\n", "culled", st.Culled)
		fmt.Fprintf(rw, "tilestream_tiles{stage=%q} %d\n", "selected", st.Selected)
		fmt.Fprintf(rw, "tilestream_tiles{stage=%q} %d\n", "anomalous", st.Anomalies)

		fmt.Fprintf(rw, "# HELP tilestream_requests Request queue depths.\n")
		fmt.Fprintf(rw, "# TYPE tilestream_requests gauge\n")
		fmt.Fprintf(rw, "tilestream_requests{state=%q} %d\n", "queued", st.QueuedRequests)
		fmt.Fprintf(rw, "tilestream_requests{state=%q} %d\n", "in_flight", st.InFlightRequests)

		fmt.Fprintf(rw, "# HELP tilestream_remaining Outstanding tile loads (queued plus in-flight).\n")
		fmt.Fprintf(rw, "# TYPE tilestream_remaining gauge\n")
		fmt.Fprintf(rw, "tilestream_remaining %d\n", st.Remaining)

		fmt.Fprintf(rw, "# HELP tilestream_resident_tiles Tiles currently held in the cache.\n")
		fmt.Fprintf(rw, "# TYPE tilestream_resident_tiles gauge\n")
		fmt.Fprintf(rw, "tilestream_resident_tiles %d\n", st.ResidentTiles)

		fmt.Fprintf(rw, "# HELP tilestream_evictions_total Total cache evictions.\n")
		fmt.Fprintf(rw, "# TYPE tilestream_evictions_total counter\n")
		fmt.Fprintf(rw, "tilestream_evictions_total %d\n", snap.evictions)
	})

	if obsSrv != nil {
		mux.HandleFunc("/debug/v1/observer/bootstrap", obsSrv.BootstrapHandler())
		mux.HandleFunc("/debug/v1/observer/ws", obsSrv.WSHandler())
	}
	if envBool("TS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()
	go func() {
		logger.Printf("debug http listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("debug http: %v", err)
		}
	}()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
