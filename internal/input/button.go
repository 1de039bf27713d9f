package input

import (
	"sync/atomic"
	"time"

	"github.com/bitdoglab/sectele/helpers/atomic_clock"
)

const DefaultDebounce = 200 * time.Millisecond

// Button turns asynchronous falling edges into at most one pending Confirm.
// Edge may be called from any goroutine, Take from the loop only.
type Button struct {
	window  time.Duration
	last    atomic_clock.Clock // last accepted edge, caller timeline
	pending uint32
}

func NewButton(window time.Duration) *Button {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Button{window: window}
}

// Edge reports whether edge was accepted (not bounce).
// ts must be monotonic and non-zero, e.g. kernel event timestamp.
func (self *Button) Edge(ts time.Duration) bool {
	if !self.last.AdvanceAfter(int64(ts), self.window) {
		return false
	}
	atomic.StoreUint32(&self.pending, 1)
	return true
}

// Take is the atomic read-and-clear of pending flag.
func (self *Button) Take() bool {
	return atomic.SwapUint32(&self.pending, 0) == 1
}
