package lamport

import (
	"sync"
	"testing"
)

func TestNewClock(t *testing.T) {
	clock := NewClock()

	if now := clock.Now(); now != 0 {
		t.Errorf("New clock should start at 0, got %d", now)
	}
}

func TestTick(t *testing.T) {
	clock := NewClock()

	if now := clock.Tick(); now != 1 {
		t.Errorf("Expected time 1 after first tick, got %d", now)
	}

	for i := 0; i < 100; i++ {
		before := clock.Now()
		if now := clock.Tick(); now != before+1 {
			t.Errorf("Expected time %d after tick, got %d", before+1, now)
		}
	}
}

func TestObserve(t *testing.T) {
	tests := []struct {
		name     string
		current  uint32
		observed Time
		expected Time
	}{
		{name: "observe_smaller_time", current: 5, observed: 3, expected: 6},
		{name: "observe_larger_time", current: 5, observed: 10, expected: 11},
		{name: "observe_equal_time", current: 5, observed: 5, expected: 6},
		{name: "observe_zero_on_fresh_clock", current: 0, observed: 0, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &atomicClock{}
			clock.time.Store(tt.current)

			if got := clock.Observe(tt.observed); got != tt.expected {
				t.Errorf("Expected Observe to return %d, got %d", tt.expected, got)
			}
			if after := clock.Now(); after != tt.expected {
				t.Errorf("Expected time %d after observe, got %d", tt.expected, after)
			}
		})
	}
}

func TestConcurrentOperations(t *testing.T) {
	clock := NewClock()
	const numGoroutines = 100
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(numGoroutines * 2)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				clock.Tick()
			}
		}()
	}

	for i := 0; i < numGoroutines; i++ {
		go func(routine int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				clock.Observe(Time(routine*opsPerGoroutine + j))
			}
		}(i)
	}

	wg.Wait()

	// Every operation advances the clock by at least one.
	if final, lowest := clock.Now(), Time(2*numGoroutines*opsPerGoroutine); final < lowest {
		t.Errorf("Expected final time to be at least %d, got %d", lowest, final)
	}
}

func TestMonotonicity(t *testing.T) {
	clock := NewClock()

	var last Time
	for i := 0; i < 1000; i++ {
		var current Time
		switch i % 3 {
		case 0:
			current = clock.Tick()
		case 1:
			current = clock.Observe(Time(i / 2))
		default:
			current = clock.Observe(Time(i * 2))
		}

		if current <= last {
			t.Errorf("Time decreased or stayed the same: previous=%d, current=%d", last, current)
		}
		last = current
	}
}

func TestMessageExchange(t *testing.T) {
	clockA := NewClock()
	clockB := NewClock()

	clockA.Tick()
	sent := clockA.Tick()

	// B receives A's message
	atB := clockB.Observe(sent)
	if atB <= sent {
		t.Errorf("B should be ahead of the received time: got B=%d, A=%d", atB, sent)
	}

	// A receives B's answer
	atA := clockA.Observe(atB)
	if atA <= atB {
		t.Errorf("A should be ahead of the received time: got A=%d, B=%d", atA, atB)
	}
}
