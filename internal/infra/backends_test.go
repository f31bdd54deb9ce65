package infra

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/inferpay/inferpay/internal/logging"
)

func TestOpenBackendsRedisOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := logging.Discard()

	b, err := OpenBackends(context.Background(), "", "redis://"+mr.Addr()+"/0", logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close(logger)
	if b.DB != nil || b.Redis == nil {
		t.Fatalf("unexpected backends %+v", b)
	}
	if err := b.Redis.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("expected value in redis, got %q", got)
	}
}

func TestOpenBackendsNoneConfigured(t *testing.T) {
	b, err := OpenBackends(context.Background(), "", "", logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if b.DB != nil || b.Redis != nil {
		t.Fatalf("expected no backends, got %+v", b)
	}
	b.Close(logging.Discard())
}

func TestOpenBackendsRejectsBadURLs(t *testing.T) {
	if _, err := OpenBackends(context.Background(), "", "not-a-url://x", logging.Discard()); err == nil {
		t.Fatalf("expected redis url error")
	}
	if _, err := OpenBackends(context.Background(), "::not a dsn::", "", logging.Discard()); err == nil {
		t.Fatalf("expected postgres config error")
	}
}
