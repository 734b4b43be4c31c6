// Package app は設定に従って依存関係を組み立て、サブコマンドを実行する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/feedown/internal/article"
	"github.com/hitoshi/feedown/internal/cache"
	"github.com/hitoshi/feedown/internal/config"
	"github.com/hitoshi/feedown/internal/database"
	"github.com/hitoshi/feedown/internal/feed"
	"github.com/hitoshi/feedown/internal/metrics"
	"github.com/hitoshi/feedown/internal/middleware"
	"github.com/hitoshi/feedown/internal/model"
	"github.com/hitoshi/feedown/internal/repository"
	"github.com/hitoshi/feedown/internal/security"
	"github.com/hitoshi/feedown/internal/subscription"
	"github.com/hitoshi/feedown/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/feedown/internal/worker/fetch"
)

const dbPingTimeout = 5 * time.Second

// Runtime はプロセス全体で共有する依存関係のハンドル。
// Setupで1回だけ構築し、呼び出し側へ明示的に渡す。
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    repository.Store
	Registry *prometheus.Registry
	Metrics  *metrics.Collector

	Health        *fetchpkg.HealthTracker
	Ingester      *fetchpkg.Ingester
	Scheduler     *fetchpkg.Scheduler
	Cleanup       *cleanup.CleanupJob
	Subscriptions *subscription.Service
	States        *article.StateService

	db      *sql.DB
	docs    *cache.DocumentCache
	closeMu sync.Mutex
	closed  bool
}

var (
	setupOnce    sync.Once
	setupRuntime *Runtime
	setupErr     error
)

// Setup はRuntimeを1回だけ構築する。2回目以降の呼び出しは初回の結果をそのまま返す。
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	setupOnce.Do(func() {
		setupRuntime, setupErr = NewRuntime(ctx, cfg, logger)
	})
	return setupRuntime, setupErr
}

// NewRuntime は設定から全ての依存関係を組み立てる。
// Redisに接続できない場合はキャッシュなしで続行する。
func NewRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	rt.Metrics = metrics.NewCollector(rt.Registry)

	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}

	retention, err := article.NewRetentionPolicy(cfg.RetentionWindowDays)
	if err != nil {
		rt.Close()
		return nil, err
	}
	health, err := fetchpkg.NewHealthTracker(cfg.MaxConsecutiveErrors, cfg.RefreshInterval)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Health = health

	guard := security.NewSSRFGuard(security.WithAllowedPorts(cfg.FetchAllowedPorts...))

	clientOpts := []fetchpkg.ClientOption{fetchpkg.WithRateLimiter(newFetchLimiter(cfg.FetchRatePerSecond))}
	if cfg.RedisAddr != "" {
		docs, err := cache.NewDocumentCache(ctx, cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			logger.Warn("フィード文書キャッシュを無効にして続行します",
				slog.String("redis_addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		} else {
			rt.docs = docs
			clientOpts = append(clientOpts, fetchpkg.WithDocumentCache(docs))
		}
	}
	client := fetchpkg.NewClient(guard, logger, cfg.FetchTimeout, cfg.FetchMaxSize, clientOpts...)

	reconciler := article.NewReconciler(retention, feed.NewDateNormalizer(cfg.ClockSkewTolerance()), health)

	rt.Ingester = fetchpkg.NewIngester(fetchpkg.IngesterDeps{
		Fetcher:     client,
		Parser:      feed.NewParser(logger, cfg.MaxContentLength),
		Reconciler:  reconciler,
		Health:      health,
		Sanitizer:   security.NewContentSanitizer(),
		FeedRepo:    rt.Store,
		ArticleRepo: rt.Store,
		Metrics:     rt.Metrics,
		Logger:      logger,
	})
	rt.Scheduler = fetchpkg.NewScheduler(rt.Store, rt.Ingester, health, rt.Metrics, logger, cfg.FetchMaxConcurrent)
	rt.Cleanup = cleanup.NewCleanupJob(rt.Store, rt.Metrics, logger)
	rt.Subscriptions = subscription.NewService(rt.Store, guard, logger)
	rt.States = article.NewStateService(rt.Store, rt.Store, rt.Store)

	logger.Info("アプリケーションを初期化しました",
		slog.String("store", cfg.Store),
		slog.Bool("document_cache", rt.docs != nil),
		slog.Int("retention_days", retention.WindowDays()),
		slog.Int("max_consecutive_errors", cfg.MaxConsecutiveErrors),
	)
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	switch rt.Config.Store {
	case config.StoreMemory:
		rt.Store = repository.NewMemoryStore()
		return nil
	case config.StorePostgres:
		db, err := database.Open(rt.Config.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			return fmt.Errorf("データベースのオープンに失敗: %w", err)
		}
		if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
			_ = db.Close()
			return fmt.Errorf("データベースへの接続に失敗: %w", err)
		}
		rt.db = db
		rt.Store = repository.NewPostgresStore(db)
		rt.Logger.Info("データベースに接続しました")
		return nil
	default:
		return model.NewConfigError(model.ConfigErrorMissing, "STORE", rt.Config.Store)
	}
}

// newFetchLimiter は秒間リクエスト数のリミッターを生成する。0以下は無制限。
func newFetchLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// CheckHealth は永続化層とキャッシュへの疎通を確認する。/healthで使用される。
func (rt *Runtime) CheckHealth(ctx context.Context) error {
	if rt.db != nil {
		if err := rt.db.PingContext(ctx); err != nil {
			return fmt.Errorf("データベースに接続できません: %w", err)
		}
	}
	if rt.docs != nil {
		if err := rt.docs.Ping(ctx); err != nil {
			return fmt.Errorf("キャッシュに接続できません: %w", err)
		}
	}
	return nil
}

// OpsHandler は/metricsと/healthを提供するハンドラーにミドルウェアを適用して返す。
func (rt *Runtime) OpsHandler() http.Handler {
	return middleware.Chain(
		metrics.NewOpsRouter(rt.Registry, rt.CheckHealth),
		middleware.NewRecoveryMiddleware(rt.Logger, rt.Metrics),
		middleware.NewLoggingMiddleware(rt.Logger),
		middleware.NewOpsHeadersMiddleware(),
	)
}

// Close はデータベースとキャッシュの接続を閉じる。複数回呼び出してもよい。
func (rt *Runtime) Close() error {
	rt.closeMu.Lock()
	defer rt.closeMu.Unlock()
	if rt.closed {
		return nil
	}
	rt.closed = true

	var errs []error
	if rt.docs != nil {
		if err := rt.docs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("キャッシュのクローズに失敗: %w", err))
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("データベースのクローズに失敗: %w", err))
		}
	}
	return errors.Join(errs...)
}
