package fakeclock

import (
	"testing"
	"time"
)

func TestClock_Now(t *testing.T) {
	initial := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(initial)

	if got := c.Now(); !got.Equal(initial) {
		t.Errorf("Now() = %v, want %v", got, initial)
	}
}

func TestClock_Advance(t *testing.T) {
	initial := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(initial)

	c.Advance(5 * time.Minute)

	expected := initial.Add(5 * time.Minute)
	if got := c.Now(); !got.Equal(expected) {
		t.Errorf("Now() after Advance = %v, want %v", got, expected)
	}
}

func TestClock_After(t *testing.T) {
	initial := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(initial)

	ch := c.After(5 * time.Minute)

	// Should not fire yet
	select {
	case <-ch:
		t.Error("After() channel fired too early")
	default:
		// good
	}

	// Advance past deadline
	c.Advance(6 * time.Minute)

	// Should fire now
	select {
	case <-ch:
		// good
	default:
		t.Error("After() channel did not fire after Advance")
	}
}

func TestClock_AdvanceFiresTicker(t *testing.T) {
	c := New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(30 * time.Second)

	c.Advance(10 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	c.Advance(20 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after its interval elapsed")
	}
}

func TestClock_StoppedTickerDoesNotFire(t *testing.T) {
	c := New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := c.NewTicker(time.Second)
	ticker.Stop()

	c.Advance(time.Minute)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	if !c.Tickers()[0].Stopped() {
		t.Error("Stopped() = false after Stop")
	}
}

func TestClock_WaiterCount(t *testing.T) {
	c := New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if c.WaiterCount() != 0 {
		t.Fatalf("WaiterCount() = %d, want 0", c.WaiterCount())
	}

	c.After(time.Second)
	c.After(time.Minute)
	if c.WaiterCount() != 2 {
		t.Fatalf("WaiterCount() = %d, want 2", c.WaiterCount())
	}

	c.Advance(2 * time.Second)
	if c.WaiterCount() != 1 {
		t.Errorf("WaiterCount() after Advance = %d, want 1", c.WaiterCount())
	}
}

func TestClock_BlockUntilWaiters(t *testing.T) {
	c := New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	go func() {
		<-c.After(time.Second)
	}()

	if !c.BlockUntilWaiters(1, time.Second) {
		t.Fatal("BlockUntilWaiters did not observe the pending waiter")
	}
	c.Advance(time.Second)

	if c.BlockUntilWaiters(5, 20*time.Millisecond) {
		t.Error("BlockUntilWaiters(5) = true, want false")
	}
}
