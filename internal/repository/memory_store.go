package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/feedown/internal/model"
)

// MemoryStore はプロセス内のメモリに保持するStore。
// テストとデータベースなしでの実行に使用する。PostgresStoreと同じ削除規則に従う。
type MemoryStore struct {
	mu        sync.RWMutex
	feeds     map[string]model.Feed
	articles  map[string]model.Article
	reads     map[string]map[string]model.ReadArticle // userID -> articleID
	favorites map[string]map[string]model.Favorite    // userID -> articleID
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		feeds:     make(map[string]model.Feed),
		articles:  make(map[string]model.Article),
		reads:     make(map[string]map[string]model.ReadArticle),
		favorites: make(map[string]map[string]model.Favorite),
	}
}

// FindFeed は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (s *MemoryStore) FindFeed(_ context.Context, id string) (*model.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.feeds[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

// FindFeedByURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
func (s *MemoryStore) FindFeedByURL(_ context.Context, feedURL string) (*model.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range s.feeds {
		if f.URL == feedURL {
			return &f, nil
		}
	}
	return nil, nil
}

// SaveFeed はフィードをIDでUPSERTする。AddedAtは初回作成時の値を維持する。
func (s *MemoryStore) SaveFeed(_ context.Context, feed *model.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := *feed
	if existing, ok := s.feeds[feed.ID]; ok {
		saved.AddedAt = existing.AddedAt
	}
	s.feeds[feed.ID] = saved
	return nil
}

// UpdateFeedState は既存のフィードのみを更新する。フィードがない場合はfalseを返す。
func (s *MemoryStore) UpdateFeedState(_ context.Context, feed *model.Feed) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.feeds[feed.ID]
	if !ok {
		return false, nil
	}
	saved := *feed
	saved.URL = existing.URL
	saved.AddedAt = existing.AddedAt
	s.feeds[feed.ID] = saved
	return true, nil
}

// DeleteFeed はフィードと、その記事および既読マーカーを削除する。お気に入りは残す。
func (s *MemoryStore) DeleteFeed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.feeds, id)
	for articleID, a := range s.articles {
		if a.FeedID == id {
			s.deleteArticleLocked(articleID)
		}
	}
	return nil
}

// ListDueFeeds はNextFetchAt <= now のフィードをNextFetchAt昇順で取得する。
func (s *MemoryStore) ListDueFeeds(_ context.Context, now time.Time) ([]*model.Feed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var feeds []*model.Feed
	for _, f := range s.feeds {
		if !f.NextFetchAt.After(now) {
			f := f
			feeds = append(feeds, &f)
		}
	}
	sort.Slice(feeds, func(i, j int) bool {
		if feeds[i].NextFetchAt.Equal(feeds[j].NextFetchAt) {
			return feeds[i].ID < feeds[j].ID
		}
		return feeds[i].NextFetchAt.Before(feeds[j].NextFetchAt)
	})
	return feeds, nil
}

// CountSuspendedFeeds はErrorCount > maxConsecutiveErrors のフィード数を返す。
func (s *MemoryStore) CountSuspendedFeeds(_ context.Context, maxConsecutiveErrors int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, f := range s.feeds {
		if f.ErrorCount > maxConsecutiveErrors {
			n++
		}
	}
	return n, nil
}

// FindArticle は指定IDの記事を取得する。見つからない場合はnilを返す。
func (s *MemoryStore) FindArticle(_ context.Context, id string) (*model.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.articles[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// KnownArticleIDs はフィードに保存済みの記事IDの集合を返す。
func (s *MemoryStore) KnownArticleIDs(_ context.Context, feedID string) (model.IDSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := model.NewIDSet()
	for id, a := range s.articles {
		if a.FeedID == feedID {
			ids.Add(id)
		}
	}
	return ids, nil
}

// SaveArticles は記事をIDで冪等に挿入する。既存の記事は上書きせず、所属フィードがない記事は保存しない。
func (s *MemoryStore) SaveArticles(_ context.Context, articles []model.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range articles {
		if _, ok := s.articles[a.ID]; ok {
			continue
		}
		if _, ok := s.feeds[a.FeedID]; !ok {
			continue
		}
		s.articles[a.ID] = a
	}
	return nil
}

// DeleteExpiredArticles はExpiresAt <= now の記事と、その既読マーカーを削除する。
func (s *MemoryStore) DeleteExpiredArticles(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, a := range s.articles {
		if !a.ExpiresAt.After(now) {
			s.deleteArticleLocked(id)
			deleted++
		}
	}
	return deleted, nil
}

// deleteArticleLocked は記事と既読マーカーを削除する。呼び出し側でロックを保持すること。
func (s *MemoryStore) deleteArticleLocked(id string) {
	delete(s.articles, id)
	for _, marks := range s.reads {
		delete(marks, id)
	}
}

// MarkRead は既読マーカーを冪等に作成し、新規に追加された件数を返す。
// 存在しない記事のマーカーは作成しない。
func (s *MemoryStore) MarkRead(_ context.Context, userID string, marks []model.ReadArticle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userReads, ok := s.reads[userID]
	if !ok {
		userReads = make(map[string]model.ReadArticle)
		s.reads[userID] = userReads
	}

	added := 0
	for _, m := range marks {
		if _, ok := s.articles[m.ID]; !ok {
			continue
		}
		if _, ok := userReads[m.ID]; ok {
			continue
		}
		m.UserID = userID
		userReads[m.ID] = m
		added++
	}
	return added, nil
}

// ListReadIDs はユーザーの既読記事IDの集合を返す。
func (s *MemoryStore) ListReadIDs(_ context.Context, userID string) (model.IDSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := model.NewIDSet()
	for id := range s.reads[userID] {
		ids.Add(id)
	}
	return ids, nil
}

// SaveFavorite はお気に入りを(UserID, ID)でUPSERTする。
func (s *MemoryStore) SaveFavorite(_ context.Context, favorite *model.Favorite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userFavs, ok := s.favorites[favorite.UserID]
	if !ok {
		userFavs = make(map[string]model.Favorite)
		s.favorites[favorite.UserID] = userFavs
	}
	userFavs[favorite.ID] = *favorite
	return nil
}

// DeleteFavorite はお気に入りを削除する。削除対象が存在しなかった場合はfalseを返す。
func (s *MemoryStore) DeleteFavorite(_ context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.favorites[userID][id]; !ok {
		return false, nil
	}
	delete(s.favorites[userID], id)
	return true, nil
}

// ListFavorites はユーザーのお気に入りをSavedAt降順で返す。
func (s *MemoryStore) ListFavorites(_ context.Context, userID string) ([]*model.Favorite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	favorites := make([]*model.Favorite, 0, len(s.favorites[userID]))
	for _, f := range s.favorites[userID] {
		f := f
		favorites = append(favorites, &f)
	}
	sort.Slice(favorites, func(i, j int) bool {
		if favorites[i].SavedAt.Equal(favorites[j].SavedAt) {
			return favorites[i].ID < favorites[j].ID
		}
		return favorites[i].SavedAt.After(favorites[j].SavedAt)
	})
	return favorites, nil
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
