// Package fetch はフィードのバックグラウンド取り込み処理を提供する。
// スケジューラ、取り込み処理、HTTPクライアント、フィードの健全性管理を含む。
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedown/internal/metrics"
	"github.com/hitoshi/feedown/internal/model"
	"github.com/hitoshi/feedown/internal/repository"
)

// FeedIngester は1フィードの取り込みを実行するインターフェース。
type FeedIngester interface {
	Ingest(ctx context.Context, feed model.Feed) (IngestResult, error)
}

// DefaultSchedulerInterval はスケジューラの実行間隔の既定値。
const DefaultSchedulerInterval = 5 * time.Minute

// RefreshStats は1回のフェッチサイクルの集計結果。
// Suspendedはこのサイクルで取り込んだフィードのうち停止状態のものの数。
// Removedは取り込み中に購読解除されたフィードの数。
type RefreshStats struct {
	Total       int
	Successful  int
	NotModified int
	Failed      int
	Removed     int
	NewArticles int
	Suspended   int
}

// Scheduler はフィード取り込みのスケジューリングと並列制御を行う。
// 一定間隔のティッカーでnext_fetch_atを過ぎたフィードを取得し、
// semaphoreパターンで最大並列数を制御しながら取り込みを実行する。
// フィードごとの処理は互いに独立しており、共有する可変状態は集計値のみ。
type Scheduler struct {
	feedRepo       repository.FeedRepository
	ingester       FeedIngester
	health         *HealthTracker
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	now            func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	feedRepo repository.FeedRepository,
	ingester FeedIngester,
	health *HealthTracker,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Scheduler{
		feedRepo:       feedRepo,
		ingester:       ingester,
		health:         health,
		metrics:        collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。intervalが0以下の場合はDefaultSchedulerIntervalを使用する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSchedulerInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("フェッチスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("フェッチスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("フェッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はフェッチ対象フィードを1回取得し、並列で取り込みを実行する。
// 個々のフィードの失敗は集計に含め、サイクル全体のエラーにはしない。
func (s *Scheduler) RunOnce(ctx context.Context) (RefreshStats, error) {
	start := time.Now()

	feeds, err := s.feedRepo.ListDueFeeds(ctx, s.now().UTC())
	if err != nil {
		return RefreshStats{}, err
	}

	var stats RefreshStats
	if len(feeds) == 0 {
		s.logger.Info("フェッチ対象のフィードはありません")
		s.updateSuspendedGauge(ctx)
		return stats, nil
	}

	s.logger.Info("フェッチサイクルを開始します",
		slog.Int("feed_count", len(feeds)),
	)

	var mu sync.Mutex
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, f := range feeds {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(f model.Feed) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			result, err := s.ingester.Ingest(ctx, f)

			mu.Lock()
			defer mu.Unlock()
			stats.Total++

			if err != nil {
				stats.Failed++
				s.logger.Error("フィードの取り込みに失敗しました",
					slog.String("feed_id", f.ID),
					slog.String("feed_url", f.URL),
					slog.String("error", err.Error()),
				)
				return
			}

			switch result.Outcome {
			case OutcomeSuccess:
				stats.Successful++
				stats.NewArticles += result.NewArticles
			case OutcomeNotModified:
				stats.NotModified++
			case OutcomeRemoved:
				stats.Removed++
				return
			default:
				stats.Failed++
			}
			if s.health.Suspended(result.Feed) {
				stats.Suspended++
			}
		}(*f)
	}

	wg.Wait()

	s.updateSuspendedGauge(ctx)

	s.logger.Info("フェッチサイクルが完了しました",
		slog.Int("feed_count", stats.Total),
		slog.Int("successful", stats.Successful),
		slog.Int("not_modified", stats.NotModified),
		slog.Int("failed", stats.Failed),
		slog.Int("removed", stats.Removed),
		slog.Int("articles_new", stats.NewArticles),
		slog.Int("suspended", stats.Suspended),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return stats, nil
}

// updateSuspendedGauge はストア全体の停止中フィード数をゲージに反映する。
// バックオフ中で今回のサイクルに含まれなかったフィードも数える。
func (s *Scheduler) updateSuspendedGauge(ctx context.Context) {
	count, err := s.feedRepo.CountSuspendedFeeds(ctx, s.health.MaxConsecutiveErrors())
	if err != nil {
		s.logger.Warn("停止中フィード数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.SetSuspendedFeeds(count)
}
