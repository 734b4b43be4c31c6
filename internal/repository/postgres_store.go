package repository

import "database/sql"

// PostgresStore はPostgreSQLの各リポジトリをまとめたStore。
type PostgresStore struct {
	*PostgresFeedRepo
	*PostgresArticleRepo
	*PostgresReadStateRepo
	*PostgresFavoriteRepo
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		PostgresFeedRepo:      NewPostgresFeedRepo(db),
		PostgresArticleRepo:   NewPostgresArticleRepo(db),
		PostgresReadStateRepo: NewPostgresReadStateRepo(db),
		PostgresFavoriteRepo:  NewPostgresFavoriteRepo(db),
	}
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
