package audio

import "log/slog"

// FrameQueue decouples frame capture from frame consumption (typically a
// network send) with a bounded channel: overflow drops the newest frame
// and logs a warning rather than blocking the capture callback or
// growing without bound (§5 "Bounded resources" — 1000 chunks, ~100s at
// the default 100ms chunk size).
type FrameQueue struct {
	ch  chan []int16
	log *slog.Logger
}

// NewFrameQueue builds a FrameQueue with the given capacity.
func NewFrameQueue(capacity int, log *slog.Logger) *FrameQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	if log == nil {
		log = slog.Default()
	}
	return &FrameQueue{ch: make(chan []int16, capacity), log: log}
}

// Push enqueues a frame, dropping it and logging a warning if the queue
// is already full.
func (q *FrameQueue) Push(frame []int16) {
	select {
	case q.ch <- frame:
	default:
		q.log.Warn("audio: frame queue full, dropping frame")
	}
}

// Frames returns the channel frames are delivered on. It is closed by
// Close.
func (q *FrameQueue) Frames() <-chan []int16 {
	return q.ch
}

// Close signals no more frames will be pushed. Safe to call once.
func (q *FrameQueue) Close() {
	close(q.ch)
}
