// Package subscription はフィード購読の登録と解除を提供する。
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/feedown/internal/model"
	"github.com/hitoshi/feedown/internal/repository"
)

// URLValidator は購読URLの静的な安全性検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Service は購読管理のサービス層。
type Service struct {
	feedRepo  repository.FeedRepository
	validator URLValidator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(feedRepo repository.FeedRepository, validator URLValidator, logger *slog.Logger) *Service {
	return &Service{
		feedRepo:  feedRepo,
		validator: validator,
		logger:    logger,
		now:       time.Now,
	}
}

// Subscribe はフィードURLを購読する。
// 登録直後のスケジューラ実行で取得されるよう、NextFetchAtは現在時刻に設定する。
func (s *Service) Subscribe(ctx context.Context, rawURL string) (*model.Feed, error) {
	feedURL := strings.TrimSpace(rawURL)
	if err := s.validator.ValidateURL(feedURL); err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}

	existing, err := s.feedRepo.FindFeedByURL(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("フィードの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateFeedError(feedURL)
	}

	now := s.now().UTC()
	feed := &model.Feed{
		ID:          uuid.NewString(),
		URL:         feedURL,
		NextFetchAt: now,
		AddedAt:     now,
	}
	if err := s.feedRepo.SaveFeed(ctx, feed); err != nil {
		return nil, fmt.Errorf("フィードの登録に失敗しました: %w", err)
	}

	s.logger.Info("フィードを購読しました",
		slog.String("feed_id", feed.ID),
		slog.String("url", feed.URL),
	)
	return feed, nil
}

// Unsubscribe は購読を解除する。フィードの記事と既読マーカーも削除される。
func (s *Service) Unsubscribe(ctx context.Context, feedID string) error {
	feed, err := s.feedRepo.FindFeed(ctx, feedID)
	if err != nil {
		return fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil {
		return model.NewFeedNotFoundError(feedID)
	}

	if err := s.feedRepo.DeleteFeed(ctx, feedID); err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}

	s.logger.Info("フィードの購読を解除しました",
		slog.String("feed_id", feedID),
		slog.String("url", feed.URL),
	)
	return nil
}

// ResumeFetch は停止中のフィードのエラー回数をリセットし、次回のスケジューラ実行で取得させる。
func (s *Service) ResumeFetch(ctx context.Context, feedID string) (*model.Feed, error) {
	feed, err := s.feedRepo.FindFeed(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil {
		return nil, model.NewFeedNotFoundError(feedID)
	}

	feed.ErrorCount = 0
	feed.NextFetchAt = s.now().UTC()

	exists, err := s.feedRepo.UpdateFeedState(ctx, feed)
	if err != nil {
		return nil, fmt.Errorf("フィード状態の更新に失敗しました: %w", err)
	}
	if !exists {
		return nil, model.NewFeedNotFoundError(feedID)
	}
	return feed, nil
}
