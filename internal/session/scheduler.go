package session

import (
	"sync"
	"time"

	"github.com/d3lta02/zklabubu-desktop/internal/clock"
)

// FrameHandle identifies a requested frame. The zero handle is never issued.
type FrameHandle uint64

// FrameScheduler is the animation-frame source driving the loop.
type FrameScheduler interface {
	// RequestFrame schedules fn to run once with the frame timestamp.
	RequestFrame(fn func(ts time.Time)) FrameHandle
	// CancelFrame prevents a pending frame from running.
	CancelFrame(h FrameHandle)
}

// TickerScheduler delivers frames at a fixed rate on timer goroutines.
type TickerScheduler struct {
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	next    FrameHandle
	pending map[FrameHandle]*time.Timer
}

// NewTickerScheduler returns a scheduler firing fps frames per second. A
// nil clock uses the system clock for frame timestamps.
func NewTickerScheduler(fps int, c clock.Clock) *TickerScheduler {
	if fps <= 0 {
		fps = 60
	}
	if c == nil {
		c = clock.System{}
	}
	return &TickerScheduler{
		interval: time.Second / time.Duration(fps),
		clock:    c,
		pending:  make(map[FrameHandle]*time.Timer),
	}
}

// RequestFrame implements FrameScheduler.
func (s *TickerScheduler) RequestFrame(fn func(ts time.Time)) FrameHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	h := s.next
	s.pending[h] = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		_, ok := s.pending[h]
		delete(s.pending, h)
		s.mu.Unlock()
		if ok {
			fn(s.clock.Now())
		}
	})
	return h
}

// CancelFrame implements FrameScheduler.
func (s *TickerScheduler) CancelFrame(h FrameHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[h]; ok {
		t.Stop()
		delete(s.pending, h)
	}
}

// Pending returns the number of frames waiting to fire.
func (s *TickerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
