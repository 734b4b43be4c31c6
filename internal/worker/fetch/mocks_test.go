package fetch

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/feedown/internal/metrics"
	"github.com/hitoshi/feedown/internal/model"
	"github.com/hitoshi/feedown/internal/repository"
)

// --- モック定義 ---

// mockFeedRepo はFeedRepositoryのテスト用モック。
type mockFeedRepo struct {
	mu           sync.Mutex
	saved        []model.Feed
	removed      bool // trueの場合、UpdateFeedStateはフィードが削除済みとして振る舞う
	listDueFunc  func(ctx context.Context, now time.Time) ([]*model.Feed, error)
	saveFeedFunc func(ctx context.Context, feed *model.Feed) error
	countFunc    func(ctx context.Context, maxConsecutiveErrors int) (int, error)
}

func (m *mockFeedRepo) FindFeed(_ context.Context, _ string) (*model.Feed, error) {
	return nil, nil
}

func (m *mockFeedRepo) FindFeedByURL(_ context.Context, _ string) (*model.Feed, error) {
	return nil, nil
}

func (m *mockFeedRepo) SaveFeed(ctx context.Context, feed *model.Feed) error {
	if m.saveFeedFunc != nil {
		if err := m.saveFeedFunc(ctx, feed); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *feed)
	return nil
}

func (m *mockFeedRepo) UpdateFeedState(ctx context.Context, feed *model.Feed) (bool, error) {
	if m.saveFeedFunc != nil {
		if err := m.saveFeedFunc(ctx, feed); err != nil {
			return false, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed {
		return false, nil
	}
	m.saved = append(m.saved, *feed)
	return true, nil
}

func (m *mockFeedRepo) DeleteFeed(_ context.Context, _ string) error {
	return nil
}

func (m *mockFeedRepo) CountSuspendedFeeds(ctx context.Context, maxConsecutiveErrors int) (int, error) {
	if m.countFunc != nil {
		return m.countFunc(ctx, maxConsecutiveErrors)
	}
	return 0, nil
}

func (m *mockFeedRepo) ListDueFeeds(ctx context.Context, now time.Time) ([]*model.Feed, error) {
	if m.listDueFunc != nil {
		return m.listDueFunc(ctx, now)
	}
	return nil, nil
}

func (m *mockFeedRepo) lastSaved() model.Feed {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return model.Feed{}
	}
	return m.saved[len(m.saved)-1]
}

// mockArticleRepo はArticleRepositoryのテスト用モック。
type mockArticleRepo struct {
	mu       sync.Mutex
	articles map[string]model.Article
	saveErr  error
	knownErr error
}

func newMockArticleRepo() *mockArticleRepo {
	return &mockArticleRepo{articles: make(map[string]model.Article)}
}

func (m *mockArticleRepo) FindArticle(_ context.Context, id string) (*model.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *mockArticleRepo) KnownArticleIDs(_ context.Context, feedID string) (model.IDSet, error) {
	if m.knownErr != nil {
		return nil, m.knownErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := model.NewIDSet()
	for id, a := range m.articles {
		if a.FeedID == feedID {
			ids.Add(id)
		}
	}
	return ids, nil
}

func (m *mockArticleRepo) SaveArticles(_ context.Context, articles []model.Article) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range articles {
		if _, ok := m.articles[a.ID]; !ok {
			m.articles[a.ID] = a
		}
	}
	return nil
}

func (m *mockArticleRepo) DeleteExpiredArticles(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *mockArticleRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.articles)
}

// mockMetrics はMetricsCollectorのテスト用モック。
type mockMetrics struct {
	mu          sync.Mutex
	success     int
	failures    map[string]int
	parseFail   int
	notModified int
	newArticles int
	skipped     int
	suspended   int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{failures: make(map[string]int)}
}

func (m *mockMetrics) RecordFetchSuccess(_ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.success++
}

func (m *mockMetrics) RecordFetchFailure(_ string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[reason]++
}

func (m *mockMetrics) RecordParseFailure(_ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parseFail++
}

func (m *mockMetrics) RecordNotModified(_ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notModified++
}

func (m *mockMetrics) RecordHTTPStatus(_ int)             {}
func (m *mockMetrics) RecordFetchLatency(_ time.Duration) {}
func (m *mockMetrics) RecordExpiredArticles(_ int64)      {}

func (m *mockMetrics) RecordNewArticles(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newArticles += count
}

func (m *mockMetrics) RecordSkippedEntries(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped += count
}

func (m *mockMetrics) SetSuspendedFeeds(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suspended = count
}

// mockSSRFGuard はSSRFValidatorのテスト用モック。
// httptestのループバックアドレスに接続できるよう通常のクライアントを返す。
type mockSSRFGuard struct {
	validateErr error
}

func (m *mockSSRFGuard) NewSafeClient(timeout time.Duration, _ int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (m *mockSSRFGuard) ValidateURL(_ string) error {
	return m.validateErr
}

// passthroughSanitizer は入力をそのまま返すContentSanitizer。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(s string) string { return s }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

var (
	_ repository.FeedRepository    = (*mockFeedRepo)(nil)
	_ repository.ArticleRepository = (*mockArticleRepo)(nil)
	_ metrics.MetricsCollector     = (*mockMetrics)(nil)
	_ SSRFValidator                = (*mockSSRFGuard)(nil)
)
