package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedown/internal/article"
	"github.com/hitoshi/feedown/internal/feed"
	"github.com/hitoshi/feedown/internal/metrics"
	"github.com/hitoshi/feedown/internal/model"
	"github.com/hitoshi/feedown/internal/repository"
)

// Outcome は1回の取り込みの結果分類。
type Outcome int

const (
	// OutcomeSuccess は文書のパースに成功し、突き合わせを行ったことを示す。
	OutcomeSuccess Outcome = iota
	// OutcomeNotModified は条件付きGETで未変更だったことを示す。
	OutcomeNotModified
	// OutcomeMalformed は文書が認識できなかったことを示す。
	OutcomeMalformed
	// OutcomeFetchFailed はネットワーク取得に失敗したことを示す。
	OutcomeFetchFailed
	// OutcomeRemoved は取り込み中にフィードが購読解除され、結果を破棄したことを示す。
	OutcomeRemoved
)

// String はOutcomeの文字列表現を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotModified:
		return "not_modified"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeFetchFailed:
		return "fetch_failed"
	case OutcomeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// IngestResult は1フィードの取り込み結果。
type IngestResult struct {
	Outcome     Outcome
	Feed        model.Feed
	NewArticles int
	Skipped     int
	Duplicates  int
}

// Fetcher はフィード文書を取得するインターフェース。
type Fetcher interface {
	Fetch(ctx context.Context, feed model.Feed) (*Document, error)
}

// DocumentParser はフィード文書をパースするインターフェース。
type DocumentParser interface {
	Parse(raw []byte, contentHint string) (feed.ParsedDocument, error)
}

// ContentSanitizer は記事本文のHTMLをサニタイズするインターフェース。
type ContentSanitizer interface {
	Sanitize(rawHTML string) string
}

// Ingester は1フィード分の取得、パース、突き合わせ、保存を行う。
// 同一フィードの取り込みはフィード単位のロックで直列化する。
type Ingester struct {
	fetcher     Fetcher
	parser      DocumentParser
	reconciler  *article.Reconciler
	health      *HealthTracker
	sanitizer   ContentSanitizer
	feedRepo    repository.FeedRepository
	articleRepo repository.ArticleRepository
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	now         func() time.Time

	locks sync.Map // feedID -> *sync.Mutex
}

// IngesterDeps はNewIngesterに必要な依存関係をまとめた構造体。
type IngesterDeps struct {
	Fetcher     Fetcher
	Parser      DocumentParser
	Reconciler  *article.Reconciler
	Health      *HealthTracker
	Sanitizer   ContentSanitizer
	FeedRepo    repository.FeedRepository
	ArticleRepo repository.ArticleRepository
	Metrics     metrics.MetricsCollector
	Logger      *slog.Logger
}

// NewIngester はIngesterの新しいインスタンスを生成する。
func NewIngester(deps IngesterDeps) *Ingester {
	return &Ingester{
		fetcher:     deps.Fetcher,
		parser:      deps.Parser,
		reconciler:  deps.Reconciler,
		health:      deps.Health,
		sanitizer:   deps.Sanitizer,
		feedRepo:    deps.FeedRepo,
		articleRepo: deps.ArticleRepo,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// Ingest はフィードを1回取り込む。
// フェッチ・パースの失敗は結果のOutcomeで表し、エラーとしては返さない。
// エラーを返すのは永続化層の失敗とコンテキストのキャンセルのみ。
// 失敗時も既存の記事は削除しない。フィードの状態は更新のみ行い、
// 取り込み中に購読解除されたフィードは再作成せずOutcomeRemovedを返す。
func (i *Ingester) Ingest(ctx context.Context, f model.Feed) (IngestResult, error) {
	unlock := i.lock(f.ID)
	defer unlock()

	start := time.Now()
	doc, err := i.fetcher.Fetch(ctx, f)
	i.metrics.RecordFetchLatency(time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return IngestResult{}, ctx.Err()
		}
		var fetchErr *model.FetchError
		if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
			i.metrics.RecordHTTPStatus(fetchErr.StatusCode)
		}
		return i.fail(ctx, f, OutcomeFetchFailed, failureReason(err), err)
	}
	if !doc.FromCache {
		i.metrics.RecordHTTPStatus(doc.StatusCode)
	}

	if doc.NotModified {
		updated := i.health.OnNotModified(f, i.now().UTC())
		exists, err := i.updateFeedState(ctx, &updated)
		if err != nil {
			return IngestResult{}, err
		}
		if !exists {
			return i.removed(f), nil
		}
		i.metrics.RecordNotModified(f.ID)
		i.logger.Info("フィードは未変更です（304）",
			slog.String("feed_id", f.ID),
			slog.String("feed_url", f.URL),
			slog.Int("http_status", doc.StatusCode),
		)
		return IngestResult{Outcome: OutcomeNotModified, Feed: updated}, nil
	}

	parsed, err := i.parser.Parse(doc.Body, doc.ContentType)
	if err != nil {
		i.metrics.RecordParseFailure(f.ID)
		return i.fail(ctx, f, OutcomeMalformed, "malformed", err)
	}

	known, err := i.articleRepo.KnownArticleIDs(ctx, f.ID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("既知の記事IDの取得に失敗: %w", err)
	}

	result := i.reconciler.Reconcile(f, parsed, known)
	updated := result.UpdatedFeed
	updated.ETag = doc.ETag
	updated.LastModified = doc.LastModified

	for idx := range result.NewArticles {
		result.NewArticles[idx].Content = i.sanitizer.Sanitize(result.NewArticles[idx].Content)
	}

	// 記事、フィードの順に保存する。削除済みフィードの記事はストアが保存しない
	if len(result.NewArticles) > 0 {
		if err := i.articleRepo.SaveArticles(ctx, result.NewArticles); err != nil {
			return IngestResult{}, fmt.Errorf("記事の保存に失敗: %w", err)
		}
	}
	exists, err := i.updateFeedState(ctx, &updated)
	if err != nil {
		return IngestResult{}, err
	}
	if !exists {
		return i.removed(f), nil
	}

	i.metrics.RecordFetchSuccess(f.ID)
	i.metrics.RecordNewArticles(len(result.NewArticles))
	i.metrics.RecordSkippedEntries(result.Skipped)

	i.logger.Info("フィードの取り込みが完了しました",
		slog.String("feed_id", f.ID),
		slog.String("feed_url", f.URL),
		slog.Int("http_status", doc.StatusCode),
		slog.Bool("from_cache", doc.FromCache),
		slog.Int("articles_new", len(result.NewArticles)),
		slog.Int("entries_duplicate", result.Duplicates),
		slog.Int("entries_skipped", result.Skipped),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return IngestResult{
		Outcome:     OutcomeSuccess,
		Feed:        updated,
		NewArticles: len(result.NewArticles),
		Skipped:     result.Skipped,
		Duplicates:  result.Duplicates,
	}, nil
}

// fail は文書レベルの失敗をフィードに記録する。
func (i *Ingester) fail(ctx context.Context, f model.Feed, outcome Outcome, reason string, cause error) (IngestResult, error) {
	updated := i.reconciler.ReconcileFailure(f)
	exists, err := i.updateFeedState(ctx, &updated)
	if err != nil {
		return IngestResult{}, err
	}
	if !exists {
		return i.removed(f), nil
	}

	i.metrics.RecordFetchFailure(f.ID, reason)
	i.logger.Warn("フィードの取り込みに失敗しました",
		slog.String("feed_id", f.ID),
		slog.String("feed_url", f.URL),
		slog.String("outcome", outcome.String()),
		slog.String("reason", reason),
		slog.Int("error_count", updated.ErrorCount),
		slog.Bool("suspended", i.health.Suspended(updated)),
		slog.Time("next_fetch_at", updated.NextFetchAt),
		slog.String("error", cause.Error()),
	)

	return IngestResult{Outcome: outcome, Feed: updated}, nil
}

func (i *Ingester) updateFeedState(ctx context.Context, updated *model.Feed) (bool, error) {
	exists, err := i.feedRepo.UpdateFeedState(ctx, updated)
	if err != nil {
		return false, fmt.Errorf("フィード状態の保存に失敗: %w", err)
	}
	return exists, nil
}

// removed は購読解除済みのフィードの取り込み結果を破棄する。
func (i *Ingester) removed(f model.Feed) IngestResult {
	i.logger.Info("取り込み中に購読解除されたため結果を破棄しました",
		slog.String("feed_id", f.ID),
		slog.String("feed_url", f.URL),
	)
	return IngestResult{Outcome: OutcomeRemoved, Feed: f}
}

// lock はフィード単位のロックを取得し、解放関数を返す。
func (i *Ingester) lock(feedID string) func() {
	v, _ := i.locks.LoadOrStore(feedID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// failureReason はフェッチエラーをメトリクス用の理由に分類する。
func failureReason(err error) string {
	var fetchErr *model.FetchError
	if !errors.As(err, &fetchErr) || fetchErr.StatusCode == 0 {
		return "network"
	}
	switch ClassifyHTTPStatus(fetchErr.StatusCode) {
	case FetchResultGone:
		return "gone"
	case FetchResultBackoff:
		return "backoff"
	default:
		return "http_status"
	}
}
