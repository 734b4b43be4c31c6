package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestKey(t *testing.T) {
	got := Key("abc123")
	if got != "feedown:doc:abc123" {
		t.Errorf("Key = %q, want %q", got, "feedown:doc:abc123")
	}
	if !strings.HasPrefix(Key("x"), keyPrefix) {
		t.Error("キーには接頭辞が付与されるべき")
	}
}

func TestNewDocumentCache_DefaultTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	c := newDocumentCache(client, 0)
	if c.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultTTL)
	}

	c = newDocumentCache(client, 5*time.Minute)
	if c.ttl != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m", c.ttl)
	}
}

func TestNewDocumentCache_ConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// 使用されていないポートへの接続は失敗する
	_, err := NewDocumentCache(ctx, "127.0.0.1:1", time.Minute)
	if err == nil {
		t.Fatal("接続できない場合はエラーを返すべき")
	}
}

// TestDocumentCache_RoundTrip はREDIS_ADDRが設定されている場合のみ実行する。
func TestDocumentCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR が未設定のためスキップ")
	}

	ctx := context.Background()
	c, err := NewDocumentCache(ctx, addr, time.Minute)
	if err != nil {
		t.Fatalf("NewDocumentCache returned error: %v", err)
	}
	defer c.Close()

	key := "test-" + time.Now().Format("150405.000000")
	if _, ok, err := c.Get(ctx, key); err != nil || ok {
		t.Fatalf("存在しないキー: ok=%v err=%v", ok, err)
	}

	if err := c.Set(ctx, key, []byte("<rss/>")); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	val, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(val) != "<rss/>" {
		t.Errorf("value = %q, want %q", val, "<rss/>")
	}
}
