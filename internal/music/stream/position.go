package stream

import (
	"sync/atomic"
	"time"
)

// Position tracks how far into a track playback has progressed, starting at
// the offset the decoder was opened with. A replay after a pipeline failure
// uses it to report where the failure happened.
type Position struct {
	start time.Duration
	bytes atomic.Int64
}

// NewPosition starts tracking at offset.
func NewPosition(offset time.Duration) *Position {
	return &Position{start: offset}
}

// Add records n bytes of PCM delivered to the encoder.
func (p *Position) Add(n int) {
	p.bytes.Add(int64(n))
}

// Elapsed returns the current playback position.
func (p *Position) Elapsed() time.Duration {
	if p == nil {
		return 0
	}
	played := time.Duration(p.bytes.Load()) * time.Second / bytesPerSecond
	return p.start + played
}
