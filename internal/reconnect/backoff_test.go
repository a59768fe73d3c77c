package reconnect

import (
	"errors"
	"testing"
	"time"

	"github.com/acolita/sshkeeper/internal/testing/fakes/fakerand"
)

func TestCalculateBackoffDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		initial time.Duration
		factor  float64
		max     time.Duration
		jitter  float64
		want    time.Duration
	}{
		{"attempt 0 no jitter", 0, time.Second, 2, time.Minute, 0, time.Second},
		{"attempt 1 no jitter", 1, time.Second, 2, time.Minute, 0, 2 * time.Second},
		{"attempt 3 no jitter", 3, time.Second, 2, time.Minute, 0, 8 * time.Second},
		{"half jitter", 1, time.Second, 2, time.Minute, 0.5, 2500 * time.Millisecond},
		{"factor 3", 2, 100 * time.Millisecond, 3, time.Minute, 0, 900 * time.Millisecond},
		{"capped", 10, time.Second, 2, time.Minute, 0, time.Minute},
		{"capped by jitter", 5, time.Second, 2, 40 * time.Second, 0.9, 40 * time.Second},
		{"negative attempt", -3, time.Second, 2, time.Minute, 0, time.Second},
		{"huge attempt", 5000, time.Second, 2, time.Minute, 0, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateBackoffDelay(tt.attempt, tt.initial, tt.factor, tt.max, tt.jitter)
			if got != tt.want {
				t.Errorf("CalculateBackoffDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateBackoffDelay_Bounds(t *testing.T) {
	initial, factor, max := time.Second, 2.0, time.Minute

	for attempt := 0; attempt < 12; attempt++ {
		for _, j := range []float64{0, 0.25, 0.5, 0.999999} {
			got := CalculateBackoffDelay(attempt, initial, factor, max, j)
			if got > max {
				t.Errorf("attempt %d jitter %v: %v exceeds max %v", attempt, j, got, max)
			}

			base := CalculateBackoffDelay(attempt, initial, factor, max, 0)
			if got < base {
				t.Errorf("attempt %d jitter %v: %v below base %v", attempt, j, got, base)
			}
			if base < max && float64(got) >= float64(base)*1.5 {
				t.Errorf("attempt %d jitter %v: %v not below 1.5x base %v", attempt, j, got, base)
			}
		}
	}
}

func TestCalculateBackoffDelay_ClampsJitter(t *testing.T) {
	if got := CalculateBackoffDelay(1, time.Second, 2, time.Minute, -1); got != 2*time.Second {
		t.Errorf("negative jitter: got %v, want 2s", got)
	}
	if got := CalculateBackoffDelay(1, time.Second, 2, time.Minute, 7); got >= 3*time.Second {
		t.Errorf("jitter above 1: got %v, want < 3s", got)
	}
}

func TestJitterFraction(t *testing.T) {
	if got := jitterFraction(fakerand.NewZero()); got != 0 {
		t.Errorf("zero bytes: got %v, want 0", got)
	}

	got := jitterFraction(fakerand.NewMax())
	if got >= 1 || got < 0.999 {
		t.Errorf("max bytes: got %v, want just below 1", got)
	}

	if got := jitterFraction(fakerand.NewFailing(errors.New("no entropy"))); got != 0 {
		t.Errorf("failing source: got %v, want 0", got)
	}

	// 0x80 followed by zeros is exactly one half.
	if got := jitterFraction(fakerand.NewFixed([]byte{0x80, 0, 0, 0, 0, 0, 0, 0})); got != 0.5 {
		t.Errorf("0x80...: got %v, want 0.5", got)
	}
}
