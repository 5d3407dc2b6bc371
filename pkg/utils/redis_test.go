package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestAcquireSlot_RespectsLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := AcquireSlot(ctx, rdb, "streams:t1", 2, time.Minute)
		if err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := AcquireSlot(ctx, rdb, "streams:t1", 2, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected third acquire to be rejected")
	}

	if err := ReleaseSlot(ctx, rdb, "streams:t1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = AcquireSlot(ctx, rdb, "streams:t1", 2, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestAcquireSlot_ValidatesArgs(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if _, err := AcquireSlot(context.Background(), rdb, "", 1, time.Second); err == nil {
		t.Fatalf("expected error for empty key")
	}
	if _, err := AcquireSlot(context.Background(), rdb, "k", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
