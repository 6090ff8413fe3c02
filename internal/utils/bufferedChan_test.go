package utils

import (
	"testing"
	"time"
)

func TestBufferedChanKeepsOrder(t *testing.T) {
	c := NewBufferedChan[int]()
	defer c.Close()

	// No reader yet: none of these sends may block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			c.Inlet() <- i
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Writes to the inlet blocked without a reader")
	}

	for i := 0; i < 100; i++ {
		if got := <-c.Outlet(); got != i {
			t.Fatalf("Expected %d, got %d", i, got)
		}
	}
}

func TestBufferedChanCloseClosesOutlet(t *testing.T) {
	c := NewBufferedChan[string]()
	c.Close()

	select {
	case _, ok := <-c.Outlet():
		if ok {
			t.Error("Expected outlet to be closed")
		}
	case <-time.After(time.Second):
		t.Error("Outlet was not closed")
	}
}

func TestUIDGeneratorIsSequential(t *testing.T) {
	g := NewUIDGenerator()
	for i := UID(0); i < 10; i++ {
		if got := <-g; got != i {
			t.Fatalf("Expected %d, got %d", i, got)
		}
	}
}
