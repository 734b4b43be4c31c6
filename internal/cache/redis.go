// Package cache はRedisを使用した取得済みフィード文書のキャッシュを提供する。
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL はフィード文書をキャッシュする既定の期間。
const DefaultTTL = time.Hour

// keyPrefix はフィード文書キャッシュのキー接頭辞。
const keyPrefix = "feedown:doc:"

// DocumentCache はフィード文書のバイト列をRedisにTTL付きで保存する。
type DocumentCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDocumentCache はRedisに接続し、DocumentCacheを生成する。
// ttlが0以下の場合はDefaultTTLを使用する。
func NewDocumentCache(ctx context.Context, addr string, ttl time.Duration) (*DocumentCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗: %w", err)
	}

	return newDocumentCache(client, ttl), nil
}

func newDocumentCache(client *redis.Client, ttl time.Duration) *DocumentCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DocumentCache{client: client, ttl: ttl}
}

// Key はキャッシュキーのハッシュ部分から完全なRedisキーを生成する。
func Key(hash string) string {
	return keyPrefix + hash
}

// Get はキャッシュされた値を返す。存在しない場合は2番目の戻り値がfalseになる。
func (c *DocumentCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("キャッシュの取得に失敗 (key=%s): %w", key, err)
	}
	return val, true, nil
}

// Set は値をTTL付きで保存する。
func (c *DocumentCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.client.Set(ctx, Key(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュの保存に失敗 (key=%s): %w", key, err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (c *DocumentCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close はRedisクライアントを閉じる。
func (c *DocumentCache) Close() error {
	return c.client.Close()
}
