package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/feedown/internal/model"
)

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

// FindArticle は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindArticle(ctx context.Context, id string) (*model.Article, error) {
	a := &model.Article{}
	var feedTitle, url, content, author, imageURL sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, feed_id, feed_title, title, url, content, author, image_url,
		        published_at, is_date_estimated, fetched_at, expires_at
		 FROM articles WHERE id = $1`,
		id,
	).Scan(
		&a.ID, &a.FeedID, &feedTitle, &a.Title, &url, &content, &author, &imageURL,
		&a.PublishedAt, &a.IsDateEstimated, &a.FetchedAt, &a.ExpiresAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}

	a.FeedTitle = nullStringValue(feedTitle)
	a.URL = nullStringValue(url)
	a.Content = nullStringValue(content)
	a.Author = nullStringValue(author)
	a.ImageURL = nullStringValue(imageURL)
	a.PublishedAt = a.PublishedAt.UTC()
	a.FetchedAt = a.FetchedAt.UTC()
	a.ExpiresAt = a.ExpiresAt.UTC()

	return a, nil
}

// KnownArticleIDs はフィードに保存済みの記事IDの集合を返す。
func (r *PostgresArticleRepo) KnownArticleIDs(ctx context.Context, feedID string) (model.IDSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM articles WHERE feed_id = $1`,
		feedID,
	)
	if err != nil {
		return nil, fmt.Errorf("既知の記事IDの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := model.NewIDSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("記事IDの読み取りに失敗しました: %w", err)
		}
		ids.Add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事IDの走査に失敗しました: %w", err)
	}

	return ids, nil
}

// SaveArticles は記事を1トランザクションで冪等に挿入する。
// 同じIDの記事が既に存在する場合と、所属フィードが削除済みの場合は何もしない。
func (r *PostgresArticleRepo) SaveArticles(ctx context.Context, articles []model.Article) error {
	if len(articles) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO articles (id, feed_id, feed_title, title, url, content, author, image_url,
		                       published_at, is_date_estimated, fetched_at, expires_at)
		 SELECT $1::varchar, $2::text, $3::text, $4::text, $5::text, $6::text, $7::text, $8::text,
		        $9::timestamptz, $10::boolean, $11::timestamptz, $12::timestamptz
		 WHERE EXISTS (SELECT 1 FROM feeds WHERE id = $2::text)
		 ON CONFLICT (id) DO NOTHING`,
	)
	if err != nil {
		return fmt.Errorf("記事挿入文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	for _, a := range articles {
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.FeedID, nullString(a.FeedTitle), a.Title,
			nullString(a.URL), nullString(a.Content), nullString(a.Author), nullString(a.ImageURL),
			a.PublishedAt, a.IsDateEstimated, a.FetchedAt, a.ExpiresAt,
		); err != nil {
			return fmt.Errorf("記事の保存に失敗しました (id=%s): %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// DeleteExpiredArticles はexpires_at <= now の記事を削除し、削除件数を返す。
// 既読マーカーは外部キーでCASCADE削除される。
func (r *PostgresArticleRepo) DeleteExpiredArticles(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM articles WHERE expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れ記事の削除に失敗しました: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
