package stream

// LoadProgressFunc observes the outstanding-work gauge. It fires only on
// frames where the number of queued plus in-flight requests changed.
type LoadProgressFunc func(remaining int)

// AllTilesLoadedFunc observes the idle edge: true once when outstanding work
// reaches zero, false once when new work appears after an idle period.
type AllTilesLoadedFunc func(loaded bool)

// OnLoadProgress registers a load-progress callback. Callbacks run on the
// update goroutine, after traversal and before the frame log is written.
func (ts *Tileset) OnLoadProgress(fn LoadProgressFunc) {
	if fn != nil {
		ts.loadProgressFns = append(ts.loadProgressFns, fn)
	}
}

// OnAllTilesLoaded registers an idle-edge callback.
func (ts *Tileset) OnAllTilesLoaded(fn AllTilesLoadedFunc) {
	if fn != nil {
		ts.allLoadedFns = append(ts.allLoadedFns, fn)
	}
}

// Event is one dispatched notification, recorded for the frame log.
type Event struct {
	Kind      string `json:"kind"`
	Remaining int    `json:"remaining,omitempty"`
	Loaded    bool   `json:"loaded,omitempty"`
}

const (
	EventLoadProgress   = "LOAD_PROGRESS"
	EventAllTilesLoaded = "ALL_TILES_LOADED"
	EventLoadResumed    = "LOAD_RESUMED"
)
