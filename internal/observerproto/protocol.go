package observerproto

import "tilestream.ai/internal/stream"

// Version is the observer protocol version (separate from the tile wire format).
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Deliver every Nth frame. 0 or 1 means every frame.
	EveryNFrames int `json:"every_n_frames,omitempty"`
}

// HTTP response for GET /debug/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	RootURL         string       `json:"root_url"`
	Frame           uint64       `json:"frame"`
	StreamParams    StreamParams `json:"stream_params"`
}

type StreamParams struct {
	FrameRateHz           int     `json:"frame_rate_hz"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests"`
	CacheMaxSize          int     `json:"cache_max_size"`
	SSEThreshold          float64 `json:"sse_threshold"`
	ViewportWidth         int     `json:"viewport_width"`
	ViewportHeight        int     `json:"viewport_height"`
}

// Server -> Client. Sent once per streamed frame.
type FrameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Frame           uint64 `json:"frame"`

	Stats  stream.Statistics `json:"stats"`
	Events []stream.Event    `json:"events,omitempty"`

	Selected []SelectedTile `json:"selected,omitempty"`

	// Debug bounding spheres as [cx, cy, cz, r], present only when the
	// streamer runs with debug draw enabled.
	Bounds [][4]float64 `json:"bounds,omitempty"`
}

type SelectedTile struct {
	URI            string  `json:"uri,omitempty"`
	Depth          int     `json:"depth"`
	GeometricError float64 `json:"geometric_error"`
	ContentState   string  `json:"content_state"`
}
