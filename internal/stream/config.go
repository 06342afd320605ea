package stream

// Config carries the knobs for one tileset. The zero value is usable after
// applyDefaults except for RootURL, which is required.
type Config struct {
	// RootURL locates the root tileset descriptor. Relative content URIs
	// resolve against it.
	RootURL string

	// MaxConcurrentRequests bounds simultaneous fetches.
	MaxConcurrentRequests int

	// CacheMaxSize is the resident-tile budget. Tiles selected this frame or
	// last frame are never evicted, so the budget is a soft limit.
	CacheMaxSize int

	// ScreenSpaceErrorThreshold is the refinement cutoff in pixels.
	ScreenSpaceErrorThreshold float64

	// DebugDrawBounds asks the driver to surface bounding spheres for the
	// tiles selected each frame.
	DebugDrawBounds bool
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = 8
	}
	if c.CacheMaxSize == 0 {
		c.CacheMaxSize = 512
	}
	if c.ScreenSpaceErrorThreshold <= 0 {
		c.ScreenSpaceErrorThreshold = 16
	}
}
