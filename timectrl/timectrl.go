package timectrl

import (
	"math"
	"sync"
	"time"
)

// FrameUnit is the wall-clock length of one nominal display frame. Game
// time advances by one unit per FrameUnit of elapsed time.
const FrameUnit = 16670 * time.Microsecond

// SimClock is an interface for reading simulation time. It lets the
// event queue and tests depend on a clock abstraction rather than a
// concrete time controller type.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Frame.
	Accelerated
)

// String returns the mode name used in configuration.
func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// ParseMode maps a configuration string onto a Mode. Unknown values
// select RealTime.
func ParseMode(s string) Mode {
	if s == "accelerated" {
		return Accelerated
	}
	return RealTime
}

// Frame describes one clock advance.
type Frame struct {
	Index uint64
	Now   time.Time
	Delta time.Duration

	// PrevGameTime and GameTime are the game-time readings before and
	// after this frame, in frame units.
	PrevGameTime float64
	GameTime     float64
}

// Crossed reports whether this frame moved game time into a new window
// of the given size, that is floor(GameTime/size) increased.
func (f Frame) Crossed(size float64) bool {
	if size <= 0 {
		return false
	}
	return math.Floor(f.GameTime/size) > math.Floor(f.PrevGameTime/size)
}

// TimeController drives simulation time frame by frame. It implements
// SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Frame     time.Duration
	Mode      Mode

	// currentTime tracks the current simulation time. It is updated
	// as the controller advances time.
	currentTime time.Time
	gameTime    float64
	frames      uint64
}

// NewTimeController constructs a controller. A non-positive frame uses
// FrameUnit.
func NewTimeController(start time.Time, frame time.Duration, mode Mode) *TimeController {
	if frame <= 0 {
		frame = FrameUnit
	}
	return &TimeController{
		StartTime:   start,
		Frame:       frame,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// GameTime returns the accumulated game time in frame units.
func (tc *TimeController) GameTime() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.gameTime
}

// Frames returns the number of frames advanced so far.
func (tc *TimeController) Frames() uint64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.frames
}

// Advance moves simulation time forward by delta and game time by
// delta/FrameUnit.
func (tc *TimeController) Advance(delta time.Duration) Frame {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	prev := tc.gameTime
	tc.currentTime = tc.currentTime.Add(delta)
	tc.gameTime += float64(delta) / float64(FrameUnit)
	tc.frames++

	return Frame{
		Index:        tc.frames,
		Now:          tc.currentTime,
		Delta:        delta,
		PrevGameTime: prev,
		GameTime:     tc.gameTime,
	}
}

// Start runs the controller for the specified duration in a separate goroutine.
// It returns a channel that is closed when the controller finishes. A
// non-positive duration runs until stop is closed.
//
// Each frame calls step with tc.Frame. step is expected to call Advance;
// a nil step advances the clock directly.
func (tc *TimeController) Start(duration time.Duration, stop <-chan struct{}, step func(time.Duration)) <-chan struct{} {
	if step == nil {
		step = func(d time.Duration) { tc.Advance(d) }
	}
	done := make(chan struct{})
	go func() {
		defer close(done)

		elapsed := time.Duration(0)

		var tick <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Frame)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			select {
			case <-stop:
				return
			default:
			}
			if tick != nil {
				select {
				case <-tick:
				case <-stop:
					return
				}
			}

			step(tc.Frame)
			elapsed += tc.Frame
		}
	}()
	return done
}
