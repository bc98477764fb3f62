package motion

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestLerp(t *testing.T) {
	cases := []struct{ a, b, t, want float64 }{
		{0, 10, 0, 0},
		{0, 10, 1, 10},
		{0, 10, 0.5, 5},
		{-5, 5, 0.5, 0},
	}
	for _, c := range cases {
		if got := Lerp(c.a, c.b, c.t); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("Lerp(%v, %v, %v) = %v, want %v", c.a, c.b, c.t, got, c.want)
		}
	}
}

func TestEaseOutCubicEndpoints(t *testing.T) {
	if got := EaseOutCubic(0); got != 0 {
		t.Errorf("EaseOutCubic(0) = %v", got)
	}
	if got := EaseOutCubic(1); got != 1 {
		t.Errorf("EaseOutCubic(1) = %v", got)
	}
	// ease-out means early progress outruns linear
	if got := EaseOutCubic(0.5); got <= 0.5 {
		t.Errorf("EaseOutCubic(0.5) = %v, expected > 0.5", got)
	}
	// monotone
	prev := 0.0
	for i := 1; i <= 100; i++ {
		v := EaseOutCubic(float64(i) / 100)
		if v < prev {
			t.Fatalf("not monotone at t=%v", float64(i)/100)
		}
		prev = v
	}
}

type recorder struct {
	mu   sync.Mutex
	lat  float64
	lng  float64
	hits int
}

func (r *recorder) write(lat, lng float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lat, r.lng = lat, lng
	r.hits++
}

func (r *recorder) last() (float64, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lat, r.lng
}

func TestAnimateReachesExactTarget(t *testing.T) {
	a := NewAnimator(2 * time.Millisecond)
	defer a.Close()

	rec := &recorder{}
	done := make(chan struct{})
	a.Animate("m1", 52.0, 13.0, 52.5, 13.5, 50*time.Millisecond, rec.write, func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("animation never completed")
	}

	lat, lng := rec.last()
	if lat != 52.5 || lng != 13.5 {
		t.Errorf("final position (%v, %v), want exact target", lat, lng)
	}
}

func TestAnimateZeroDurationIsImmediate(t *testing.T) {
	a := NewAnimator(0)
	defer a.Close()

	rec := &recorder{}
	completed := false
	a.Animate("m1", 0, 0, 1, 1, 0, rec.write, func() { completed = true })

	lat, lng := rec.last()
	if lat != 1 || lng != 1 {
		t.Errorf("expected immediate jump to target, got (%v, %v)", lat, lng)
	}
	if !completed {
		t.Error("completion callback did not fire")
	}
}

func TestAnimateSupersedesPrevious(t *testing.T) {
	a := NewAnimator(2 * time.Millisecond)
	defer a.Close()

	rec := &recorder{}
	firstDone := make(chan struct{})
	secondDone := make(chan struct{})

	a.Animate("m1", 0, 0, 10, 10, 500*time.Millisecond, rec.write, func() { close(firstDone) })
	time.Sleep(10 * time.Millisecond)
	a.Animate("m1", 2, 2, 5, 5, 40*time.Millisecond, rec.write, func() { close(secondDone) })

	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("superseding animation never completed")
	}

	select {
	case <-firstDone:
		t.Fatal("superseded animation completed anyway")
	case <-time.After(50 * time.Millisecond):
	}

	lat, lng := rec.last()
	if lat != 5 || lng != 5 {
		t.Errorf("final position (%v, %v), want the second target", lat, lng)
	}
}

func TestStopCancelsWithoutCompletion(t *testing.T) {
	a := NewAnimator(2 * time.Millisecond)
	defer a.Close()

	rec := &recorder{}
	done := make(chan struct{})
	a.Animate("m1", 0, 0, 10, 10, 300*time.Millisecond, rec.write, func() { close(done) })
	time.Sleep(10 * time.Millisecond)
	a.Stop("m1")

	select {
	case <-done:
		t.Fatal("stopped animation completed anyway")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClosedAnimatorIgnoresWork(t *testing.T) {
	a := NewAnimator(2 * time.Millisecond)
	a.Close()

	rec := &recorder{}
	a.Animate("m1", 0, 0, 1, 1, 20*time.Millisecond, rec.write, nil)
	time.Sleep(40 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.hits != 0 {
		t.Errorf("closed animator wrote %d frames", rec.hits)
	}
}

func TestIndependentKeysRunConcurrently(t *testing.T) {
	a := NewAnimator(2 * time.Millisecond)
	defer a.Close()

	recA := &recorder{}
	recB := &recorder{}
	doneA := make(chan struct{})
	doneB := make(chan struct{})

	a.Animate("a", 0, 0, 1, 1, 30*time.Millisecond, recA.write, func() { close(doneA) })
	a.Animate("b", 5, 5, 6, 6, 30*time.Millisecond, recB.write, func() { close(doneB) })

	for _, ch := range []chan struct{}{doneA, doneB} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("animation never completed")
		}
	}

	if lat, _ := recA.last(); lat != 1 {
		t.Errorf("key a ended at lat %v", lat)
	}
	if lat, _ := recB.last(); lat != 6 {
		t.Errorf("key b ended at lat %v", lat)
	}
}
