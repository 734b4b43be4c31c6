package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/feedown/internal/article"
	"github.com/hitoshi/feedown/internal/model"
)

const (
	// DefaultTimeout はフェッチ1回あたりの既定のタイムアウト。
	DefaultTimeout = 10 * time.Second
	// DefaultMaxBodySize はレスポンスボディの既定の最大サイズ（5MB）。
	DefaultMaxBodySize int64 = 5 * 1024 * 1024

	userAgent    = "Feedown/1.0 RSS Reader"
	acceptHeader = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// DocumentCache は取得済みフィード文書のキャッシュのインターフェース。
type DocumentCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Document はフェッチ結果のフィード文書。
type Document struct {
	Body         []byte `json:"body"`
	ContentType  string `json:"content_type"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	StatusCode   int    `json:"status_code"`
	// NotModified は条件付きGETで304を受け取ったことを示す。Bodyは空。
	NotModified bool `json:"-"`
	// FromCache はキャッシュから返されたことを示す。
	FromCache bool `json:"-"`
}

// Client はフィード文書をHTTPで取得する。
// SSRF検証済みのHTTPクライアント、ETag/Last-Modifiedによる条件付きGET、
// 送信レート制限、任意の文書キャッシュを組み合わせる。
type Client struct {
	ssrfGuard   SSRFValidator
	httpClient  *http.Client
	limiter     *rate.Limiter
	cache       DocumentCache
	logger      *slog.Logger
	maxBodySize int64
}

// ClientOption はClientの任意設定。
type ClientOption func(*Client)

// WithRateLimiter は送信リクエストのレート制限を設定する。
func WithRateLimiter(limiter *rate.Limiter) ClientOption {
	return func(c *Client) { c.limiter = limiter }
}

// WithDocumentCache は文書キャッシュを設定する。
func WithDocumentCache(cache DocumentCache) ClientOption {
	return func(c *Client) { c.cache = cache }
}

// NewClient はClientの新しいインスタンスを生成する。
// timeoutとmaxBodySizeが0以下の場合は既定値を使用する。
func NewClient(
	ssrfGuard SSRFValidator,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
	opts ...ClientOption,
) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	c := &Client{
		ssrfGuard:   ssrfGuard,
		httpClient:  ssrfGuard.NewSafeClient(timeout, maxBodySize),
		logger:      logger,
		maxBodySize: maxBodySize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch はフィードの文書を取得する。
// 200以外かつ304以外の応答、ネットワークエラー、SSRF検証の失敗は*model.FetchErrorを返す。
// 304の場合はNotModifiedを立てたDocumentを返す。
func (c *Client) Fetch(ctx context.Context, feed model.Feed) (*Document, error) {
	if err := c.ssrfGuard.ValidateURL(feed.URL); err != nil {
		return nil, &model.FetchError{URL: feed.URL, Err: fmt.Errorf("SSRF検証に失敗: %w", err)}
	}

	cacheKey := article.CacheKey("rss", feed.URL)
	if doc, ok := c.cached(ctx, cacheKey); ok {
		return doc, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &model.FetchError{URL: feed.URL, Err: fmt.Errorf("レート制限の待機に失敗: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, &model.FetchError{URL: feed.URL, Err: fmt.Errorf("リクエスト作成に失敗: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	// 条件付きGET
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &model.FetchError{URL: feed.URL, Err: fmt.Errorf("HTTPリクエスト失敗: %w", err)}
	}
	defer resp.Body.Close()

	switch ClassifyHTTPStatus(resp.StatusCode) {
	case FetchResultOK:
	case FetchResultNotModified:
		return &Document{
			StatusCode:   resp.StatusCode,
			ETag:         feed.ETag,
			LastModified: feed.LastModified,
			NotModified:  true,
		}, nil
	default:
		return nil, &model.FetchError{URL: feed.URL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, &model.FetchError{URL: feed.URL, StatusCode: resp.StatusCode, Err: fmt.Errorf("レスポンス読み取り失敗: %w", err)}
	}

	doc := &Document{
		Body:         body,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		StatusCode:   resp.StatusCode,
	}
	if doc.ETag == "" {
		doc.ETag = feed.ETag
	}
	if doc.LastModified == "" {
		doc.LastModified = feed.LastModified
	}

	c.store(ctx, cacheKey, doc)
	return doc, nil
}

// cached はキャッシュから文書を取り出す。キャッシュのエラーはログに記録して無視する。
func (c *Client) cached(ctx context.Context, key string) (*Document, bool) {
	if c.cache == nil {
		return nil, false
	}
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("文書キャッシュの取得に失敗しました",
			slog.String("cache_key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.logger.Warn("文書キャッシュの復元に失敗しました",
			slog.String("cache_key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	doc.FromCache = true
	return &doc, true
}

func (c *Client) store(ctx context.Context, key string, doc *Document) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw); err != nil {
		c.logger.Warn("文書キャッシュの保存に失敗しました",
			slog.String("cache_key", key),
			slog.String("error", err.Error()),
		)
	}
}
