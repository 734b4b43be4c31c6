package article

import (
	"context"
	"strings"
	"time"

	"github.com/hitoshi/feedown/internal/model"
	"github.com/hitoshi/feedown/internal/repository"
)

// StateService はユーザーごとの既読・お気に入り状態の管理サービス。
// 既読の付与は冪等で、一度付けた既読は記事の期限切れまで残る。
type StateService struct {
	articleRepo  repository.ArticleRepository
	readRepo     repository.ReadStateRepository
	favoriteRepo repository.FavoriteRepository
	now          func() time.Time
}

// NewStateService はStateServiceの新しいインスタンスを生成する。
func NewStateService(
	articleRepo repository.ArticleRepository,
	readRepo repository.ReadStateRepository,
	favoriteRepo repository.FavoriteRepository,
) *StateService {
	return &StateService{
		articleRepo:  articleRepo,
		readRepo:     readRepo,
		favoriteRepo: favoriteRepo,
		now:          time.Now,
	}
}

// MarkRead は記事を既読にする。既に既読の場合は何もしない。
// 記事が存在しない場合はARTICLE_NOT_FOUNDエラーを返す。
func (s *StateService) MarkRead(ctx context.Context, userID, articleID string) error {
	article, err := s.articleRepo.FindArticle(ctx, articleID)
	if err != nil {
		return err
	}
	if article == nil {
		return model.NewArticleNotFoundError(articleID)
	}

	_, err = s.readRepo.MarkRead(ctx, userID, []model.ReadArticle{{
		ID:     articleID,
		UserID: userID,
		ReadAt: s.now().UTC(),
	}})
	return err
}

// MarkReadBatch は複数の記事をまとめて既読にし、新たに既読になった件数を返す。
// 重複したIDや既読済み・存在しない記事は件数に含めない。
func (s *StateService) MarkReadBatch(ctx context.Context, userID string, articleIDs []string) (int, error) {
	now := s.now().UTC()
	seen := make(model.IDSet, len(articleIDs))
	marks := make([]model.ReadArticle, 0, len(articleIDs))
	for _, id := range articleIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen.Has(id) {
			continue
		}
		seen.Add(id)
		marks = append(marks, model.ReadArticle{ID: id, UserID: userID, ReadAt: now})
	}
	if len(marks) == 0 {
		return 0, nil
	}

	return s.readRepo.MarkRead(ctx, userID, marks)
}

// ReadIDs はユーザーの既読記事IDの集合を返す。
func (s *StateService) ReadIDs(ctx context.Context, userID string) (model.IDSet, error) {
	return s.readRepo.ListReadIDs(ctx, userID)
}

// AddFavorite は記事をお気に入りに登録する。
// 記事のタイトル・URL・本文などをコピーして保存するため、記事が期限切れで削除されても残る。
// 既に登録済みの場合は内容を最新の記事で上書きする。
func (s *StateService) AddFavorite(ctx context.Context, userID, articleID string) (*model.Favorite, error) {
	article, err := s.articleRepo.FindArticle(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if article == nil {
		return nil, model.NewArticleNotFoundError(articleID)
	}

	favorite := &model.Favorite{
		ID:        article.ID,
		UserID:    userID,
		Title:     article.Title,
		URL:       article.URL,
		Content:   article.Content,
		FeedTitle: article.FeedTitle,
		ImageURL:  article.ImageURL,
		SavedAt:   s.now().UTC(),
	}
	if err := s.favoriteRepo.SaveFavorite(ctx, favorite); err != nil {
		return nil, err
	}
	return favorite, nil
}

// RemoveFavorite はお気に入りを削除する。
// 登録されていない場合はFAVORITE_NOT_FOUNDエラーを返す。
func (s *StateService) RemoveFavorite(ctx context.Context, userID, articleID string) error {
	deleted, err := s.favoriteRepo.DeleteFavorite(ctx, userID, articleID)
	if err != nil {
		return err
	}
	if !deleted {
		return model.NewFavoriteNotFoundError(articleID)
	}
	return nil
}

// ListFavorites はユーザーのお気に入りを新しい順に返す。
func (s *StateService) ListFavorites(ctx context.Context, userID string) ([]*model.Favorite, error) {
	return s.favoriteRepo.ListFavorites(ctx, userID)
}
