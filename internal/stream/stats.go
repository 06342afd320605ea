package stream

// Statistics is the per-frame counter block. It is reset at the top of every
// update and finalized before event dispatch, so callbacks and frame logs see
// a consistent snapshot.
type Statistics struct {
	Frame uint64 `json:"frame"`

	Visited   int `json:"visited"`
	Culled    int `json:"culled"`
	Selected  int `json:"selected"`
	Anomalies int `json:"anomalies"`

	Enqueued  int `json:"enqueued"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	QueuedRequests   int `json:"queuedRequests"`
	InFlightRequests int `json:"inFlightRequests"`
	ResidentTiles    int `json:"residentTiles"`

	// Remaining is queued plus in-flight, the load-progress signal.
	Remaining int `json:"remaining"`
}

func (s *Statistics) reset(frame uint64) {
	*s = Statistics{Frame: frame}
}
