package settle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitHonoursDelay(t *testing.T) {
	s := New(20 * time.Millisecond)
	start := time.Now()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("expected at least 20ms, waited %s", elapsed)
	}
}

func TestWaitZeroDelayReturnsImmediately(t *testing.T) {
	s := New(0)
	start := time.Now()
	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Fatalf("zero delay should not block, waited %s", elapsed)
	}
}

func TestWaitCancelled(t *testing.T) {
	s := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	if err := s.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
