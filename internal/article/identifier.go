// Package article は記事の識別、保持期間、取り込み時の突き合わせ、
// およびユーザーごとの既読・お気に入り状態を扱う。
package article

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// IDLength は記事IDの長さ（16進数の文字数）。
const IDLength = 32

// Identify はフィードIDとエントリのGUID（なければリンク）から記事IDを導出する。
// sha256(feedID + ":" + key) の先頭32文字を返す。
// 空白のみのGUIDは存在しないものとして扱う。
func Identify(feedID, guid, link string) string {
	key := strings.TrimSpace(guid)
	if key == "" {
		key = strings.TrimSpace(link)
	}
	sum := sha256.Sum256([]byte(feedID + ":" + key))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// CacheKey は一時的なキャッシュ用の高速なキーを生成する。
// 衝突耐性がないため、永続化される記事IDには使用しない。
func CacheKey(parts ...string) string {
	return strconv.FormatUint(xxhash.Sum64String(strings.Join(parts, "\x00")), 16)
}
