// Package model はドメインモデルを定義する。
package model

import "time"

// Feed は購読中のRSS/Atomフィードを表す。
// LastSuccessAt <= LastFetchedAt を常に満たす。
type Feed struct {
	ID            string
	URL           string
	SiteURL       string
	Title         string
	Description   string
	ETag          string
	LastModified  string
	LastFetchedAt time.Time // フェッチ試行ごとに更新
	LastSuccessAt time.Time // パース成功時のみ更新
	ErrorCount    int       // 失敗でインクリメント、成功で0にリセット
	NextFetchAt   time.Time
	AddedAt       time.Time // 購読時に設定、以後不変
}

// Suspended は連続エラー回数が閾値を超えているかを返す。
// 保存されるフィールドではなく、ErrorCountから導出される。
func (f Feed) Suspended(maxConsecutiveErrors int) bool {
	return f.ErrorCount > maxConsecutiveErrors
}

// FeedMeta はフィード文書から取得したフィードレベルのメタデータ。
type FeedMeta struct {
	Title       string
	Description string
	Link        string
}

// RawEntry はパーサーが抽出した未正規化のエントリ。
// 日付は文字列のまま保持し、DateNormalizerで解釈する。
type RawEntry struct {
	GUID             string
	Link             string
	Title            string
	RawPublishedDate string
	SummaryOrContent string
	Author           string
	ImageURL         string
}
