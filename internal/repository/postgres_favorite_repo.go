package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/feedown/internal/model"
)

// PostgresFavoriteRepo はPostgreSQLを使用したお気に入りリポジトリ。
// お気に入りは記事のコピーを保持し、記事の期限切れ後も残る。
type PostgresFavoriteRepo struct {
	db *sql.DB
}

// NewPostgresFavoriteRepo はPostgresFavoriteRepoを生成する。
func NewPostgresFavoriteRepo(db *sql.DB) *PostgresFavoriteRepo {
	return &PostgresFavoriteRepo{db: db}
}

// SaveFavorite はお気に入りを(user_id, id)でUPSERTする。
func (r *PostgresFavoriteRepo) SaveFavorite(ctx context.Context, f *model.Favorite) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO favorites (id, user_id, title, url, content, feed_title, image_url, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, id) DO UPDATE SET
		    title = EXCLUDED.title,
		    url = EXCLUDED.url,
		    content = EXCLUDED.content,
		    feed_title = EXCLUDED.feed_title,
		    image_url = EXCLUDED.image_url,
		    saved_at = EXCLUDED.saved_at`,
		f.ID, f.UserID, f.Title, nullString(f.URL), nullString(f.Content),
		nullString(f.FeedTitle), nullString(f.ImageURL), f.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("お気に入りの保存に失敗しました: %w", err)
	}
	return nil
}

// DeleteFavorite はお気に入りを削除する。削除対象が存在しなかった場合はfalseを返す。
func (r *PostgresFavoriteRepo) DeleteFavorite(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = $1 AND id = $2`,
		userID, id,
	)
	if err != nil {
		return false, fmt.Errorf("お気に入りの削除に失敗しました: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// ListFavorites はユーザーのお気に入りをsaved_at降順で返す。
func (r *PostgresFavoriteRepo) ListFavorites(ctx context.Context, userID string) ([]*model.Favorite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, url, content, feed_title, image_url, saved_at
		 FROM favorites
		 WHERE user_id = $1
		 ORDER BY saved_at DESC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("お気に入り一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var favorites []*model.Favorite
	for rows.Next() {
		f := &model.Favorite{}
		var url, content, feedTitle, imageURL sql.NullString

		if err := rows.Scan(
			&f.ID, &f.UserID, &f.Title, &url, &content, &feedTitle, &imageURL, &f.SavedAt,
		); err != nil {
			return nil, fmt.Errorf("お気に入り行の読み取りに失敗しました: %w", err)
		}

		f.URL = nullStringValue(url)
		f.Content = nullStringValue(content)
		f.FeedTitle = nullStringValue(feedTitle)
		f.ImageURL = nullStringValue(imageURL)
		f.SavedAt = f.SavedAt.UTC()

		favorites = append(favorites, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("お気に入り一覧の走査に失敗しました: %w", err)
	}

	return favorites, nil
}

// compile-time interface check
var _ FavoriteRepository = (*PostgresFavoriteRepo)(nil)
