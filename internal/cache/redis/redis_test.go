package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vellum-gemini/vellum/internal/cache/redis"
)

func TestNewFailFastUnreachable(t *testing.T) {
	cfg := &redis.Config{
		Addr:        "localhost:59999",
		DialTimeout: 100 * time.Millisecond,
	}
	if _, err := redis.New(cfg); err == nil {
		t.Fatal("expected error when connecting to unreachable redis, got nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := redis.DefaultConfig()
	if cfg.Addr != "localhost:6379" {
		t.Errorf("expected default addr localhost:6379, got %s", cfg.Addr)
	}
	if cfg.DB != 0 {
		t.Errorf("expected default DB 0, got %d", cfg.DB)
	}
}

func TestSetGetDelete(t *testing.T) {
	s := miniredis.RunT(t)
	cfg := &redis.Config{Addr: s.Addr(), DialTimeout: time.Second}

	c, err := redis.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	if err := c.Set(ctx, "gemini://example.test/", []byte("20 text/gemini\r\nhi"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	val, err := c.Get(ctx, "gemini://example.test/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "20 text/gemini\r\nhi" {
		t.Errorf("unexpected value %q", val)
	}

	if err := c.Delete(ctx, "gemini://example.test/"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "gemini://example.test/"); err == nil {
		t.Error("expected error after delete")
	}
}
