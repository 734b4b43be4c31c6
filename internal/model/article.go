package model

import "time"

// Article はフィードから取り込んだ記事を表す。
// IDはfeed_idとGUID（またはリンク）から決定的に導出される。
// ExpiresAt > FetchedAt を常に満たす。
type Article struct {
	ID              string
	FeedID          string
	FeedTitle       string
	Title           string
	URL             string
	Content         string // サニタイズ済みHTML
	Author          string
	ImageURL        string
	PublishedAt     time.Time
	IsDateEstimated bool
	FetchedAt       time.Time
	ExpiresAt       time.Time
}

// ReadArticle はユーザーごとの既読マーカー。
// 作成後は変更されず、参照先の記事の期限切れとともに削除される。
type ReadArticle struct {
	ID     string // = Article.ID
	UserID string
	ReadAt time.Time
}

// Favorite はお気に入り登録された記事のコピー。
// 記事の期限切れ後も残るよう、意図的に非正規化している。
type Favorite struct {
	ID        string
	UserID    string
	Title     string
	URL       string
	Content   string
	FeedTitle string
	ImageURL  string
	SavedAt   time.Time
}

// IDSet は記事IDの集合。
type IDSet map[string]struct{}

// NewIDSet は指定IDを含むIDSetを生成する。
func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has はidが集合に含まれるかを返す。nilの集合は空として扱う。
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add はidを集合に追加する。
func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}
