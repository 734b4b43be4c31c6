package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/feedown/internal/model"
)

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

const feedColumns = `id, url, site_url, title, description, etag, last_modified,
		        last_fetched_at, last_success_at, error_count, next_fetch_at, added_at`

// rowScanner は*sql.Rowと*sql.Rowsに共通するScanを表す。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var siteURL, description, etag, lastModified sql.NullString
	var lastFetchedAt, lastSuccessAt sql.NullTime

	if err := row.Scan(
		&feed.ID, &feed.URL, &siteURL, &feed.Title, &description,
		&etag, &lastModified,
		&lastFetchedAt, &lastSuccessAt, &feed.ErrorCount,
		&feed.NextFetchAt, &feed.AddedAt,
	); err != nil {
		return nil, err
	}

	feed.SiteURL = nullStringValue(siteURL)
	feed.Description = nullStringValue(description)
	feed.ETag = nullStringValue(etag)
	feed.LastModified = nullStringValue(lastModified)
	feed.LastFetchedAt = nullTimeValue(lastFetchedAt)
	feed.LastSuccessAt = nullTimeValue(lastSuccessAt)
	feed.NextFetchAt = feed.NextFetchAt.UTC()
	feed.AddedAt = feed.AddedAt.UTC()
	return feed, nil
}

// FindFeed は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindFeed(ctx context.Context, id string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// FindFeedByURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindFeedByURL(ctx context.Context, feedURL string) (*model.Feed, error) {
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE url = $1`, feedURL,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードURLによるフィードの検索に失敗しました: %w", err)
	}
	return feed, nil
}

// SaveFeed はフィードをIDでUPSERTする。added_atは初回作成時の値を維持する。
func (r *PostgresFeedRepo) SaveFeed(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, url, site_url, title, description, etag, last_modified,
		                    last_fetched_at, last_success_at, error_count, next_fetch_at, added_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		    url = EXCLUDED.url,
		    site_url = EXCLUDED.site_url,
		    title = EXCLUDED.title,
		    description = EXCLUDED.description,
		    etag = EXCLUDED.etag,
		    last_modified = EXCLUDED.last_modified,
		    last_fetched_at = EXCLUDED.last_fetched_at,
		    last_success_at = EXCLUDED.last_success_at,
		    error_count = EXCLUDED.error_count,
		    next_fetch_at = EXCLUDED.next_fetch_at`,
		feed.ID, feed.URL, nullString(feed.SiteURL), feed.Title,
		nullString(feed.Description), nullString(feed.ETag), nullString(feed.LastModified),
		nullTime(feed.LastFetchedAt), nullTime(feed.LastSuccessAt), feed.ErrorCount,
		feed.NextFetchAt, feed.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの保存に失敗しました: %w", err)
	}
	return nil
}

// UpdateFeedState は既存のフィードの取得状態とメタデータを更新する。
// 対象行がない場合はfalseを返し、行は作成しない。
func (r *PostgresFeedRepo) UpdateFeedState(ctx context.Context, feed *model.Feed) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    site_url = $2,
		    title = $3,
		    description = $4,
		    etag = $5,
		    last_modified = $6,
		    last_fetched_at = $7,
		    last_success_at = $8,
		    error_count = $9,
		    next_fetch_at = $10
		 WHERE id = $1`,
		feed.ID, nullString(feed.SiteURL), feed.Title,
		nullString(feed.Description), nullString(feed.ETag), nullString(feed.LastModified),
		nullTime(feed.LastFetchedAt), nullTime(feed.LastSuccessAt), feed.ErrorCount,
		feed.NextFetchAt,
	)
	if err != nil {
		return false, fmt.Errorf("フィード状態の更新に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// DeleteFeed は指定IDのフィードを削除する。記事と既読マーカーは外部キーでCASCADE削除される。
func (r *PostgresFeedRepo) DeleteFeed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}
	return nil
}

// ListDueFeeds はnext_fetch_at <= now のフィードをnext_fetch_at昇順で取得する。
func (r *PostgresFeedRepo) ListDueFeeds(ctx context.Context, now time.Time) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+feedColumns+`
		 FROM feeds
		 WHERE next_fetch_at <= $1
		 ORDER BY next_fetch_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("フェッチ対象フィードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フェッチ対象フィードの読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フェッチ対象フィードの走査に失敗しました: %w", err)
	}

	return feeds, nil
}

// CountSuspendedFeeds はerror_countが閾値を超えたフィード数を返す。
func (r *PostgresFeedRepo) CountSuspendedFeeds(ctx context.Context, maxConsecutiveErrors int) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feeds WHERE error_count > $1`, maxConsecutiveErrors,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("停止中フィード数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// nullTime はゼロ値の時刻をsql.NullTimeに変換する。
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// nullTimeValue はsql.NullTimeからUTCの時刻を取得する。
func nullTimeValue(nt sql.NullTime) time.Time {
	if nt.Valid {
		return nt.Time.UTC()
	}
	return time.Time{}
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
