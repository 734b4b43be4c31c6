// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/feedown/internal/model"
)

// FeedRepository はフィードデータの永続化インターフェース。
type FeedRepository interface {
	// FindFeed は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindFeed(ctx context.Context, id string) (*model.Feed, error)

	// FindFeedByURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
	FindFeedByURL(ctx context.Context, feedURL string) (*model.Feed, error)

	// SaveFeed はフィードをIDでUPSERTする。AddedAtは初回作成時の値が維持される。
	SaveFeed(ctx context.Context, feed *model.Feed) error

	// UpdateFeedState は既存のフィードのみを更新し、行を作成しない。
	// フィードが削除済みの場合はfalseを返す。AddedAtは変更しない。
	UpdateFeedState(ctx context.Context, feed *model.Feed) (bool, error)

	// DeleteFeed は指定IDのフィードを削除する。
	// 関連する記事と既読マーカーはCASCADE削除される。お気に入りは残る。
	DeleteFeed(ctx context.Context, id string) error

	// ListDueFeeds はnext_fetch_at <= now のフィードをnext_fetch_at昇順で取得する。
	ListDueFeeds(ctx context.Context, now time.Time) ([]*model.Feed, error)

	// CountSuspendedFeeds はerror_count > maxConsecutiveErrors のフィード数を返す。
	CountSuspendedFeeds(ctx context.Context, maxConsecutiveErrors int) (int, error)
}

// ArticleRepository は記事データの永続化インターフェース。
type ArticleRepository interface {
	// FindArticle は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindArticle(ctx context.Context, id string) (*model.Article, error)

	// KnownArticleIDs はフィードに保存済みの記事IDの集合を返す。
	// 期限切れで削除された記事は含まれない。
	KnownArticleIDs(ctx context.Context, feedID string) (model.IDSet, error)

	// SaveArticles は記事をIDで冪等に挿入する。既存の記事は上書きしない。
	// 所属フィードが存在しない記事は保存しない。
	SaveArticles(ctx context.Context, articles []model.Article) error

	// DeleteExpiredArticles はexpires_at <= now の記事を削除し、削除件数を返す。
	// 関連する既読マーカーも削除される。
	DeleteExpiredArticles(ctx context.Context, now time.Time) (int64, error)
}

// ReadStateRepository はユーザーごとの既読マーカーの永続化インターフェース。
// 全ての操作はuser_idを条件に含める。
type ReadStateRepository interface {
	// MarkRead は既読マーカーを冪等に作成し、新規に追加された件数を返す。
	// 既存のマーカーのReadAtは変更しない。
	MarkRead(ctx context.Context, userID string, marks []model.ReadArticle) (int, error)

	// ListReadIDs はユーザーの既読記事IDの集合を返す。
	ListReadIDs(ctx context.Context, userID string) (model.IDSet, error)
}

// FavoriteRepository はお気に入りの永続化インターフェース。
type FavoriteRepository interface {
	// SaveFavorite はお気に入りを(user_id, id)でUPSERTする。
	SaveFavorite(ctx context.Context, favorite *model.Favorite) error

	// DeleteFavorite はお気に入りを削除する。削除対象が存在しなかった場合はfalseを返す。
	DeleteFavorite(ctx context.Context, userID, id string) (bool, error)

	// ListFavorites はユーザーのお気に入りをsaved_at降順で返す。
	ListFavorites(ctx context.Context, userID string) ([]*model.Favorite, error)
}

// Store は取り込みパイプラインとユーザー状態が使用する永続化層全体。
type Store interface {
	FeedRepository
	ArticleRepository
	ReadStateRepository
	FavoriteRepository
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
