package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/hitoshi/feedown/internal/database"
	"github.com/hitoshi/feedown/internal/model"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// storeFactory は各テストで空のStoreを返す。
type storeFactory func(t *testing.T) Store

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(*testing.T) Store { return NewMemoryStore() })
}

// TestPostgresStore は TEST_DATABASE_URL のPostgreSQLに対して同じ振る舞いを検証する。
// 接続できない場合はスキップする。
func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	runStoreTests(t, func(t *testing.T) Store {
		t.Helper()
		if _, err := db.Exec(`TRUNCATE favorites, read_articles, articles, feeds CASCADE`); err != nil {
			t.Fatalf("テーブルの初期化に失敗: %v", err)
		}
		return NewPostgresStore(db)
	})
}

func runStoreTests(t *testing.T, newStore storeFactory) {
	t.Run("SaveFeed_FindFeed", func(t *testing.T) { testSaveAndFindFeed(t, newStore(t)) })
	t.Run("SaveFeed_KeepsAddedAt", func(t *testing.T) { testSaveFeedKeepsAddedAt(t, newStore(t)) })
	t.Run("UpdateFeedState", func(t *testing.T) { testUpdateFeedState(t, newStore(t)) })
	t.Run("ListDueFeeds", func(t *testing.T) { testListDueFeeds(t, newStore(t)) })
	t.Run("CountSuspendedFeeds", func(t *testing.T) { testCountSuspendedFeeds(t, newStore(t)) })
	t.Run("SaveArticles_SkipsDeletedFeed", func(t *testing.T) { testSaveArticlesSkipsDeletedFeed(t, newStore(t)) })
	t.Run("SaveArticles_Idempotent", func(t *testing.T) { testSaveArticlesIdempotent(t, newStore(t)) })
	t.Run("DeleteExpiredArticles", func(t *testing.T) { testDeleteExpiredArticles(t, newStore(t)) })
	t.Run("DeleteFeed_Cascades", func(t *testing.T) { testDeleteFeedCascades(t, newStore(t)) })
	t.Run("MarkRead", func(t *testing.T) { testMarkRead(t, newStore(t)) })
	t.Run("Favorites", func(t *testing.T) { testFavorites(t, newStore(t)) })
}

func newFeed(id string, nextFetchAt time.Time) *model.Feed {
	return &model.Feed{
		ID:          id,
		URL:         "https://example.com/" + id + ".xml",
		Title:       "Feed " + id,
		NextFetchAt: nextFetchAt,
		AddedAt:     baseTime,
	}
}

func newArticle(id, feedID string, fetchedAt time.Time, days int) model.Article {
	return model.Article{
		ID:          id,
		FeedID:      feedID,
		FeedTitle:   "Feed " + feedID,
		Title:       "Article " + id,
		URL:         "https://example.com/articles/" + id,
		Content:     "<p>" + id + "</p>",
		PublishedAt: fetchedAt,
		FetchedAt:   fetchedAt,
		ExpiresAt:   fetchedAt.AddDate(0, 0, days),
	}
}

func mustSaveFeed(t *testing.T, s Store, f *model.Feed) {
	t.Helper()
	if err := s.SaveFeed(context.Background(), f); err != nil {
		t.Fatalf("SaveFeed returned error: %v", err)
	}
}

func mustSaveArticles(t *testing.T, s Store, articles ...model.Article) {
	t.Helper()
	if err := s.SaveArticles(context.Background(), articles); err != nil {
		t.Fatalf("SaveArticles returned error: %v", err)
	}
}

func testSaveAndFindFeed(t *testing.T, s Store) {
	ctx := context.Background()

	got, err := s.FindFeed(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("存在しないフィードは (nil, nil) を返すべき: %v, %v", got, err)
	}

	f := newFeed("f1", baseTime)
	f.ETag = `"v1"`
	f.LastFetchedAt = baseTime
	f.LastSuccessAt = baseTime
	f.ErrorCount = 2
	mustSaveFeed(t, s, f)

	got, err = s.FindFeed(ctx, "f1")
	if err != nil {
		t.Fatalf("FindFeed returned error: %v", err)
	}
	if got == nil {
		t.Fatal("保存したフィードが見つかりません")
	}
	if got.URL != f.URL || got.ETag != `"v1"` || got.ErrorCount != 2 {
		t.Errorf("フィードが一致しません: %+v", got)
	}
	if !got.LastSuccessAt.Equal(baseTime) || got.SiteURL != "" {
		t.Errorf("LastSuccessAt/SiteURL = %v/%q", got.LastSuccessAt, got.SiteURL)
	}

	byURL, err := s.FindFeedByURL(ctx, f.URL)
	if err != nil || byURL == nil || byURL.ID != "f1" {
		t.Errorf("FindFeedByURL = %v, %v", byURL, err)
	}
}

func testSaveFeedKeepsAddedAt(t *testing.T, s Store) {
	ctx := context.Background()
	f := newFeed("f1", baseTime)
	mustSaveFeed(t, s, f)

	updated := *f
	updated.AddedAt = baseTime.Add(48 * time.Hour)
	updated.Title = "Renamed"
	mustSaveFeed(t, s, &updated)

	got, _ := s.FindFeed(ctx, "f1")
	if got.Title != "Renamed" {
		t.Errorf("Title = %q, want %q", got.Title, "Renamed")
	}
	if !got.AddedAt.Equal(baseTime) {
		t.Errorf("AddedAtは変更されないべき: got %v, want %v", got.AddedAt, baseTime)
	}
}

func testUpdateFeedState(t *testing.T, s Store) {
	ctx := context.Background()

	ok, err := s.UpdateFeedState(ctx, newFeed("missing", baseTime))
	if err != nil {
		t.Fatalf("UpdateFeedState returned error: %v", err)
	}
	if ok {
		t.Error("存在しないフィードの更新はfalseを返すべき")
	}
	if got, _ := s.FindFeed(ctx, "missing"); got != nil {
		t.Fatalf("UpdateFeedStateはフィードを作成すべきでない: %+v", got)
	}

	f := newFeed("f1", baseTime)
	mustSaveFeed(t, s, f)

	updated := *f
	updated.ErrorCount = 3
	updated.ETag = `"v2"`
	updated.AddedAt = baseTime.Add(24 * time.Hour)
	ok, err = s.UpdateFeedState(ctx, &updated)
	if err != nil || !ok {
		t.Fatalf("UpdateFeedState = (%v, %v), want (true, nil)", ok, err)
	}

	got, _ := s.FindFeed(ctx, "f1")
	if got.ErrorCount != 3 || got.ETag != `"v2"` {
		t.Errorf("状態が更新されていない: %+v", got)
	}
	if !got.AddedAt.Equal(baseTime) {
		t.Errorf("AddedAtは変更されないべき: got %v, want %v", got.AddedAt, baseTime)
	}
}

func testCountSuspendedFeeds(t *testing.T, s Store) {
	for i, count := range []int{0, 5, 6, 12} {
		f := newFeed(fmt.Sprintf("f%d", i), baseTime)
		f.ErrorCount = count
		mustSaveFeed(t, s, f)
	}

	got, err := s.CountSuspendedFeeds(context.Background(), 5)
	if err != nil {
		t.Fatalf("CountSuspendedFeeds returned error: %v", err)
	}
	if got != 2 {
		t.Errorf("CountSuspendedFeeds = %d, want 2", got)
	}
}

func testSaveArticlesSkipsDeletedFeed(t *testing.T, s Store) {
	ctx := context.Background()
	mustSaveFeed(t, s, newFeed("f1", baseTime))
	if err := s.DeleteFeed(ctx, "f1"); err != nil {
		t.Fatalf("DeleteFeed returned error: %v", err)
	}

	mustSaveArticles(t, s, newArticle("a1", "f1", baseTime, 7))

	if got, _ := s.FindArticle(ctx, "a1"); got != nil {
		t.Errorf("削除済みフィードの記事は保存されないべき: %+v", got)
	}
}

func testListDueFeeds(t *testing.T, s Store) {
	mustSaveFeed(t, s, newFeed("later", baseTime.Add(time.Hour)))
	mustSaveFeed(t, s, newFeed("second", baseTime.Add(-time.Minute)))
	mustSaveFeed(t, s, newFeed("first", baseTime.Add(-time.Hour)))
	mustSaveFeed(t, s, newFeed("exact", baseTime))

	feeds, err := s.ListDueFeeds(context.Background(), baseTime)
	if err != nil {
		t.Fatalf("ListDueFeeds returned error: %v", err)
	}

	want := []string{"first", "second", "exact"}
	if len(feeds) != len(want) {
		t.Fatalf("フェッチ対象数 = %d, want %d", len(feeds), len(want))
	}
	for i, id := range want {
		if feeds[i].ID != id {
			t.Errorf("feeds[%d].ID = %q, want %q", i, feeds[i].ID, id)
		}
	}
}

func testSaveArticlesIdempotent(t *testing.T, s Store) {
	ctx := context.Background()
	mustSaveFeed(t, s, newFeed("f1", baseTime))

	original := newArticle("a1", "f1", baseTime, 7)
	mustSaveArticles(t, s, original, newArticle("a2", "f1", baseTime, 7))

	changed := original
	changed.Title = "Changed"
	mustSaveArticles(t, s, changed)

	got, err := s.FindArticle(ctx, "a1")
	if err != nil || got == nil {
		t.Fatalf("FindArticle = %v, %v", got, err)
	}
	if got.Title != original.Title {
		t.Errorf("既存の記事を上書きすべきでない: Title = %q", got.Title)
	}
	if !got.ExpiresAt.Equal(original.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, original.ExpiresAt)
	}

	known, err := s.KnownArticleIDs(ctx, "f1")
	if err != nil {
		t.Fatalf("KnownArticleIDs returned error: %v", err)
	}
	if len(known) != 2 || !known.Has("a1") || !known.Has("a2") {
		t.Errorf("KnownArticleIDs = %v", known)
	}

	if err := s.SaveArticles(ctx, nil); err != nil {
		t.Errorf("空の保存はエラーにならないべき: %v", err)
	}
}

func testDeleteExpiredArticles(t *testing.T, s Store) {
	ctx := context.Background()
	mustSaveFeed(t, s, newFeed("f1", baseTime))

	old := baseTime.AddDate(0, 0, -8)
	mustSaveArticles(t, s,
		newArticle("expired", "f1", old, 7),
		newArticle("boundary", "f1", baseTime.AddDate(0, 0, -7), 7),
		newArticle("fresh", "f1", baseTime, 7),
	)
	if _, err := s.MarkRead(ctx, "u1", []model.ReadArticle{
		{ID: "expired", ReadAt: baseTime},
		{ID: "fresh", ReadAt: baseTime},
	}); err != nil {
		t.Fatalf("MarkRead returned error: %v", err)
	}
	if err := s.SaveFavorite(ctx, &model.Favorite{ID: "expired", UserID: "u1", Title: "keep", SavedAt: baseTime}); err != nil {
		t.Fatalf("SaveFavorite returned error: %v", err)
	}

	deleted, err := s.DeleteExpiredArticles(ctx, baseTime)
	if err != nil {
		t.Fatalf("DeleteExpiredArticles returned error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("削除件数 = %d, want 2", deleted)
	}

	known, _ := s.KnownArticleIDs(ctx, "f1")
	if known.Has("expired") || known.Has("boundary") || !known.Has("fresh") {
		t.Errorf("期限切れ削除後の記事 = %v", known)
	}

	reads, _ := s.ListReadIDs(ctx, "u1")
	if reads.Has("expired") || !reads.Has("fresh") {
		t.Errorf("期限切れ記事の既読マーカーは削除されるべき: %v", reads)
	}

	favs, _ := s.ListFavorites(ctx, "u1")
	if len(favs) != 1 || favs[0].Title != "keep" {
		t.Errorf("お気に入りは期限切れ後も残るべき: %v", favs)
	}
}

func testDeleteFeedCascades(t *testing.T, s Store) {
	ctx := context.Background()
	mustSaveFeed(t, s, newFeed("f1", baseTime))
	mustSaveFeed(t, s, newFeed("f2", baseTime))
	mustSaveArticles(t, s, newArticle("a1", "f1", baseTime, 7), newArticle("b1", "f2", baseTime, 7))
	if _, err := s.MarkRead(ctx, "u1", []model.ReadArticle{{ID: "a1", ReadAt: baseTime}, {ID: "b1", ReadAt: baseTime}}); err != nil {
		t.Fatalf("MarkRead returned error: %v", err)
	}

	if err := s.DeleteFeed(ctx, "f1"); err != nil {
		t.Fatalf("DeleteFeed returned error: %v", err)
	}

	if f, _ := s.FindFeed(ctx, "f1"); f != nil {
		t.Error("フィードが削除されていません")
	}
	if a, _ := s.FindArticle(ctx, "a1"); a != nil {
		t.Error("フィードの記事が削除されていません")
	}
	if a, _ := s.FindArticle(ctx, "b1"); a == nil {
		t.Error("他のフィードの記事を削除すべきでない")
	}
	reads, _ := s.ListReadIDs(ctx, "u1")
	if reads.Has("a1") || !reads.Has("b1") {
		t.Errorf("既読マーカー = %v", reads)
	}
}

func testMarkRead(t *testing.T, s Store) {
	ctx := context.Background()
	mustSaveFeed(t, s, newFeed("f1", baseTime))
	mustSaveArticles(t, s, newArticle("a1", "f1", baseTime, 7), newArticle("a2", "f1", baseTime, 7))

	added, err := s.MarkRead(ctx, "u1", []model.ReadArticle{
		{ID: "a1", ReadAt: baseTime},
		{ID: "missing", ReadAt: baseTime},
	})
	if err != nil {
		t.Fatalf("MarkRead returned error: %v", err)
	}
	if added != 1 {
		t.Errorf("追加件数 = %d, want 1", added)
	}

	added, err = s.MarkRead(ctx, "u1", []model.ReadArticle{
		{ID: "a1", ReadAt: baseTime.Add(time.Hour)},
		{ID: "a2", ReadAt: baseTime.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("2回目のMarkRead returned error: %v", err)
	}
	if added != 1 {
		t.Errorf("2回目の追加件数 = %d, want 1（a1は既読済み）", added)
	}

	reads, _ := s.ListReadIDs(ctx, "u1")
	if len(reads) != 2 {
		t.Errorf("u1の既読 = %v", reads)
	}
	other, _ := s.ListReadIDs(ctx, "u2")
	if len(other) != 0 {
		t.Errorf("既読状態はユーザーごとに独立しているべき: %v", other)
	}
}

func testFavorites(t *testing.T, s Store) {
	ctx := context.Background()

	for i, id := range []string{"a1", "a2", "a3"} {
		fav := &model.Favorite{ID: id, UserID: "u1", Title: id, SavedAt: baseTime.Add(time.Duration(i) * time.Hour)}
		if err := s.SaveFavorite(ctx, fav); err != nil {
			t.Fatalf("SaveFavorite returned error: %v", err)
		}
	}
	// 同じIDは上書き
	if err := s.SaveFavorite(ctx, &model.Favorite{ID: "a1", UserID: "u1", Title: "updated", SavedAt: baseTime.Add(5 * time.Hour)}); err != nil {
		t.Fatalf("SaveFavorite returned error: %v", err)
	}

	favs, err := s.ListFavorites(ctx, "u1")
	if err != nil {
		t.Fatalf("ListFavorites returned error: %v", err)
	}
	want := []string{"a1", "a3", "a2"}
	if len(favs) != len(want) {
		t.Fatalf("お気に入り数 = %d, want %d", len(favs), len(want))
	}
	for i, id := range want {
		if favs[i].ID != id {
			t.Errorf("favs[%d].ID = %q, want %q", i, favs[i].ID, id)
		}
	}
	if favs[0].Title != "updated" {
		t.Errorf("Title = %q, want %q", favs[0].Title, "updated")
	}

	removed, err := s.DeleteFavorite(ctx, "u1", "a2")
	if err != nil || !removed {
		t.Errorf("DeleteFavorite = %v, %v", removed, err)
	}
	removed, err = s.DeleteFavorite(ctx, "u1", "a2")
	if err != nil || removed {
		t.Errorf("存在しないお気に入りの削除は false を返すべき: %v, %v", removed, err)
	}
	removed, _ = s.DeleteFavorite(ctx, "u2", "a1")
	if removed {
		t.Error("他のユーザーのお気に入りを削除すべきでない")
	}
}
