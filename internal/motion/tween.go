package motion

import (
	"math"
	"sync"
	"time"
)

// Lerp interpolates linearly between a and b. t outside [0,1] extrapolates;
// callers clamp first when that matters.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// EaseOutCubic maps linear progress to an ease-out curve: fast start,
// gentle arrival. Markers tweened with it read as decelerating vehicles
// rather than teleporting dots.
func EaseOutCubic(t float64) float64 {
	u := 1 - t
	return 1 - u*u*u
}

const defaultFrame = 16 * time.Millisecond

// Animator runs position tweens keyed by marker. Starting a tween for a key
// supersedes any tween already running for it: the old goroutine stops
// writing and its completion callback never fires. The final frame always
// writes the exact target position.
type Animator struct {
	mu     sync.Mutex
	gens   map[string]uint64
	frame  time.Duration
	closed bool
}

// NewAnimator returns an animator ticking at the given frame interval.
// A non-positive interval falls back to ~60fps.
func NewAnimator(frame time.Duration) *Animator {
	if frame <= 0 {
		frame = defaultFrame
	}
	return &Animator{
		gens:  make(map[string]uint64),
		frame: frame,
	}
}

// Animate tweens key from (fromLat, fromLng) to (toLat, toLng) over duration,
// calling write for each frame. onComplete fires after the final write unless
// the tween was superseded or stopped; it may be nil. A zero or negative
// duration writes the target immediately.
func (a *Animator) Animate(key string, fromLat, fromLng, toLat, toLng float64, duration time.Duration, write func(lat, lng float64), onComplete func()) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.gens[key]++
	gen := a.gens[key]
	a.mu.Unlock()

	if duration <= 0 {
		write(toLat, toLng)
		if onComplete != nil {
			onComplete()
		}
		return
	}

	go a.run(key, gen, fromLat, fromLng, toLat, toLng, duration, write, onComplete)
}

func (a *Animator) run(key string, gen uint64, fromLat, fromLng, toLat, toLng float64, duration time.Duration, write func(lat, lng float64), onComplete func()) {
	ticker := time.NewTicker(a.frame)
	defer ticker.Stop()

	start := time.Now()
	for range ticker.C {
		if !a.current(key, gen) {
			return
		}
		t := float64(time.Since(start)) / float64(duration)
		if t >= 1 {
			break
		}
		e := EaseOutCubic(t)
		write(Lerp(fromLat, toLat, e), Lerp(fromLng, toLng, e))
	}

	if !a.current(key, gen) {
		return
	}
	write(toLat, toLng)
	if onComplete != nil {
		onComplete()
	}
}

func (a *Animator) current(key string, gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.closed && a.gens[key] == gen
}

// Stop cancels any running tween for key without writing further frames.
func (a *Animator) Stop(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.gens[key]; ok {
		a.gens[key]++
	}
}

// Close stops all tweens. The animator accepts no new work afterwards.
func (a *Animator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// Distance returns the straight-line degree distance between two positions.
// It is only meant for threshold checks over short spans, not geodesy.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := lat2 - lat1
	dLng := lng2 - lng1
	return math.Sqrt(dLat*dLat + dLng*dLng)
}
