package server

// Metrics is a read-only snapshot of the world loop, published once per tick
// and safe to read from HTTP handlers.
type Metrics struct {
	Tick uint64 `json:"tick"`

	Players      int `json:"players"`
	LoadedChunks int `json:"loaded_chunks"`

	InboxDepth    int `json:"inbox_depth"`
	InboxCapacity int `json:"inbox_capacity"`

	DroppedEvents     uint64 `json:"dropped_events"`
	RateLimitedEvents uint64 `json:"rate_limited_events"`
	MalformedPackets  uint64 `json:"malformed_packets"`
	IgnoredPackets    uint64 `json:"ignored_packets"`
	SendFailures      uint64 `json:"send_failures"`
	ChunksLoaded      uint64 `json:"chunks_loaded_total"`
	ChunksUnloaded    uint64 `json:"chunks_unloaded_total"`

	StepMS float64 `json:"step_ms"`
}

func (w *World) Metrics() Metrics {
	if w == nil {
		return Metrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	m, ok := v.(Metrics)
	if !ok {
		return Metrics{}
	}
	return m
}
