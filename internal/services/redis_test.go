package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestIncrementWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { r.Close() })
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := r.IncrementWindow(ctx, "rl:1.2.3.4", time.Minute)
		if err != nil {
			t.Fatalf("IncrementWindow() error = %v", err)
		}
		if got != want {
			t.Errorf("IncrementWindow() = %d; want %d", got, want)
		}
	}
	if ttl := mr.TTL("rl:1.2.3.4"); ttl != time.Minute {
		t.Errorf("TTL = %v; want 1m", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	got, _ := r.IncrementWindow(ctx, "rl:1.2.3.4", time.Minute)
	if got != 1 {
		t.Errorf("after window IncrementWindow() = %d; want 1", got)
	}
}
