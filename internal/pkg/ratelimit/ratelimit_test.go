package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSendLimiter_Cooldown(t *testing.T) {
	s, rdb := newMiniRedis(t)
	limiter := NewSendLimiter(rdb, "test", time.Minute, time.Hour, 10)
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "register:a@example.com")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !allowed {
		t.Fatal("first send should be allowed")
	}

	allowed, wait, err := limiter.Allow(ctx, "register:a@example.com")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("second send within cooldown should be rejected")
	}
	if wait <= 0 || wait > time.Minute {
		t.Fatalf("unexpected wait %v", wait)
	}

	// 其他联系方式不受影响
	allowed, _, err = limiter.Allow(ctx, "register:b@example.com")
	if err != nil || !allowed {
		t.Fatalf("other key should be allowed, allowed=%v err=%v", allowed, err)
	}

	s.FastForward(61 * time.Second)
	allowed, _, err = limiter.Allow(ctx, "register:a@example.com")
	if err != nil || !allowed {
		t.Fatalf("send after cooldown should be allowed, allowed=%v err=%v", allowed, err)
	}
}

func TestSendLimiter_WindowQuota(t *testing.T) {
	s, rdb := newMiniRedis(t)
	limiter := NewSendLimiter(rdb, "test", time.Second, time.Hour, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx, "k")
		if err != nil {
			t.Fatalf("allow #%d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("send #%d should be allowed", i)
		}
		s.FastForward(2 * time.Second)
	}

	allowed, wait, err := limiter.Allow(ctx, "k")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("send over quota should be rejected")
	}
	if wait <= 0 {
		t.Fatalf("expected positive wait, got %v", wait)
	}

	s.FastForward(time.Hour)
	allowed, _, err = limiter.Allow(ctx, "k")
	if err != nil || !allowed {
		t.Fatalf("send after window should be allowed, allowed=%v err=%v", allowed, err)
	}
}

func TestSendLimiter_NilAllowsAll(t *testing.T) {
	var limiter *SendLimiter
	allowed, _, err := limiter.Allow(context.Background(), "k")
	if err != nil || !allowed {
		t.Fatalf("nil limiter should allow, allowed=%v err=%v", allowed, err)
	}
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return s, rdb
}
