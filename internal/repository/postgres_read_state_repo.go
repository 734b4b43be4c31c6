package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/feedown/internal/model"
)

// PostgresReadStateRepo はPostgreSQLを使用した既読マーカーリポジトリ。
type PostgresReadStateRepo struct {
	db *sql.DB
}

// NewPostgresReadStateRepo はPostgresReadStateRepoを生成する。
func NewPostgresReadStateRepo(db *sql.DB) *PostgresReadStateRepo {
	return &PostgresReadStateRepo{db: db}
}

// MarkRead は既読マーカーを冪等に作成し、新規に追加された件数を返す。
// 記事が存在しないマーカーは挿入しない。既存のマーカーのread_atは変更しない。
func (r *PostgresReadStateRepo) MarkRead(ctx context.Context, userID string, marks []model.ReadArticle) (int, error) {
	if len(marks) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO read_articles (id, user_id, read_at)
		 SELECT $1::text, $2::text, $3::timestamptz
		 WHERE EXISTS (SELECT 1 FROM articles WHERE id = $1)
		 ON CONFLICT (user_id, id) DO NOTHING`,
	)
	if err != nil {
		return 0, fmt.Errorf("既読挿入文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, m := range marks {
		result, err := stmt.ExecContext(ctx, m.ID, userID, m.ReadAt)
		if err != nil {
			return 0, fmt.Errorf("既読状態の保存に失敗しました (id=%s): %w", m.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("挿入件数の取得に失敗しました: %w", err)
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return added, nil
}

// ListReadIDs はユーザーの既読記事IDの集合を返す。
func (r *PostgresReadStateRepo) ListReadIDs(ctx context.Context, userID string) (model.IDSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM read_articles WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("既読記事IDの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	ids := model.NewIDSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("既読記事IDの読み取りに失敗しました: %w", err)
		}
		ids.Add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("既読記事IDの走査に失敗しました: %w", err)
	}

	return ids, nil
}

// compile-time interface check
var _ ReadStateRepository = (*PostgresReadStateRepo)(nil)
