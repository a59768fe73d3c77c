package fakesshdialer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func TestDial_DefaultError(t *testing.T) {
	d := New()
	if _, err := d.DialContext(context.Background(), "tcp", "localhost:22", &ssh.ClientConfig{}); err == nil {
		t.Error("expected error from unconfigured dialer")
	}
}

func TestDial_RecordsCalls(t *testing.T) {
	d := New()

	cfg := &ssh.ClientConfig{User: "test"}
	d.DialContext(context.Background(), "tcp", "host1:22", cfg)
	d.DialContext(context.Background(), "tcp", "host2:22", cfg)

	calls := d.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[1].Addr != "host2:22" || calls[1].Network != "tcp" {
		t.Errorf("second call = %+v", calls[1])
	}
	if calls[0].Config != cfg {
		t.Error("config pointer mismatch")
	}
}

func TestSetError(t *testing.T) {
	d := New()
	expected := fmt.Errorf("connection refused")
	d.SetError(expected)

	if _, err := d.DialContext(context.Background(), "tcp", "host:22", &ssh.ClientConfig{}); err != expected {
		t.Errorf("expected %v, got %v", expected, err)
	}
}

func TestBlockUntilCancelled(t *testing.T) {
	d := New()
	d.BlockUntilCancelled()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.DialContext(ctx, "tcp", "host:22", &ssh.ClientConfig{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
