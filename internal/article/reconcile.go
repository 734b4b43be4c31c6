package article

import (
	"strings"
	"time"

	"github.com/hitoshi/feedown/internal/model"
)

// Document はパース済みフィード文書のうち、突き合わせに必要な部分。
type Document interface {
	Meta() model.FeedMeta
	Entries() []model.RawEntry
	Skipped() int
}

// DateNormalizer はエントリの日付文字列を絶対時刻に変換する。
type DateNormalizer interface {
	Normalize(raw string, now time.Time) (time.Time, bool)
}

// HealthTracker はフェッチ結果に応じてフィードの健全性を更新する。
type HealthTracker interface {
	OnFetchSuccess(feed model.Feed, now time.Time) model.Feed
	OnFetchFailure(feed model.Feed, now time.Time) model.Feed
}

// Result は1回の取り込みの突き合わせ結果。
type Result struct {
	// NewArticles は既知でない記事を文書内の順序で保持する。
	NewArticles []model.Article
	UpdatedFeed model.Feed
	// Skipped はパーサーおよび突き合わせで識別できなかったエントリ数。
	Skipped int
	// Duplicates は既知の記事、または同一文書内で重複したエントリの数。
	Duplicates int
}

// Reconciler はパース済み文書と保存済み記事IDを突き合わせ、新規記事とフィードの更新内容を決定する。
// 永続化は行わず、入力のフィードと既知IDの集合は変更しない。
type Reconciler struct {
	retention RetentionPolicy
	dates     DateNormalizer
	health    HealthTracker
	now       func() time.Time
}

// NewReconciler はReconcilerの新しいインスタンスを生成する。
func NewReconciler(retention RetentionPolicy, dates DateNormalizer, health HealthTracker) *Reconciler {
	return &Reconciler{
		retention: retention,
		dates:     dates,
		health:    health,
		now:       time.Now,
	}
}

// Reconcile は文書のエントリを既知IDと突き合わせる。
// 既知のIDを持つエントリは上書きせずに読み飛ばす。
// フィードのタイトル・説明・サイトURLが未設定の場合は文書のメタデータで補完する。
func (r *Reconciler) Reconcile(feed model.Feed, doc Document, known model.IDSet) Result {
	now := r.now().UTC()

	updated := r.health.OnFetchSuccess(feed, now)
	meta := doc.Meta()
	if updated.Title == "" {
		updated.Title = meta.Title
	}
	if updated.Description == "" {
		updated.Description = meta.Description
	}
	if updated.SiteURL == "" {
		updated.SiteURL = meta.Link
	}

	entries := doc.Entries()
	result := Result{
		NewArticles: make([]model.Article, 0, len(entries)),
		UpdatedFeed: updated,
		Skipped:     doc.Skipped(),
	}

	expiresAt := r.retention.ExpirationFor(now)
	seen := make(model.IDSet, len(entries))
	for _, entry := range entries {
		if strings.TrimSpace(entry.GUID) == "" && strings.TrimSpace(entry.Link) == "" {
			result.Skipped++
			continue
		}

		id := Identify(feed.ID, entry.GUID, entry.Link)
		if known.Has(id) || seen.Has(id) {
			result.Duplicates++
			continue
		}
		seen.Add(id)

		publishedAt, estimated := r.dates.Normalize(entry.RawPublishedDate, now)
		result.NewArticles = append(result.NewArticles, model.Article{
			ID:              id,
			FeedID:          feed.ID,
			FeedTitle:       updated.Title,
			Title:           entry.Title,
			URL:             entry.Link,
			Content:         entry.SummaryOrContent,
			Author:          entry.Author,
			ImageURL:        entry.ImageURL,
			PublishedAt:     publishedAt,
			IsDateEstimated: estimated,
			FetchedAt:       now,
			ExpiresAt:       expiresAt,
		})
	}

	return result
}

// ReconcileFailure は文書レベルの失敗（フェッチ失敗・パース不能）時のフィードを返す。
// 記事は変更しない。
func (r *Reconciler) ReconcileFailure(feed model.Feed) model.Feed {
	return r.health.OnFetchFailure(feed, r.now().UTC())
}
