// Package cleanup は期限切れ記事の自動削除ジョブを提供する。
// expires_atを過ぎた記事と関連する既読マーカーを日次バッチで削除する。
// お気に入りは記事のコピーを保持するため削除対象にしない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feedown/internal/metrics"
)

// DefaultInterval はクリーンアップジョブの既定の実行間隔。
const DefaultInterval = 24 * time.Hour

// ExpiredArticleDeleter は期限切れ記事を削除するインターフェース。
// repository.ArticleRepositoryが満たす。
type ExpiredArticleDeleter interface {
	DeleteExpiredArticles(ctx context.Context, now time.Time) (int64, error)
}

// CleanupJob は期限切れ記事の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	articles ExpiredArticleDeleter
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(articles ExpiredArticleDeleter, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		articles: articles,
		metrics:  collector,
		logger:   logger,
		now:      time.Now,
	}
}

// Run はexpires_atが現在時刻以前の記事を削除し、削除件数を返す。
// 既読マーカーは記事とともに削除される。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()
	now := j.now().UTC()

	deletedCount, err := j.articles.DeleteExpiredArticles(ctx, now)
	if err != nil {
		j.logger.Error("記事クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Time("now", now),
		)
		return 0, fmt.Errorf("記事クリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordExpiredArticles(deletedCount)

	duration := time.Since(start)
	j.logger.Info("記事クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Time("now", now),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return deletedCount, nil
}

// Start は起動直後に1回実行し、その後interval間隔でジョブを実行する。
// コンテキストがキャンセルされるまで実行を継続する。個々の実行の失敗では停止しない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("記事クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	_, _ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("記事クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_, _ = j.Run(ctx)
		}
	}
}
