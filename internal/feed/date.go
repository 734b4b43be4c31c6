package feed

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// dateLayouts はRFC 822系およびISO 8601系の既知レイアウト。
// 上から順に試行し、最初に成功したものを採用する。
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 2006 15:04 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	time.RFC822Z,
	time.RFC822,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// rfc822Zones はRFC 822で定義された北米の略称とJSTのオフセット（秒）。
// time.Parseは未知の略称をオフセット0として扱うため、ここで補正する。
var rfc822Zones = map[string]int{
	"EST": -5 * 3600,
	"EDT": -4 * 3600,
	"CST": -6 * 3600,
	"CDT": -5 * 3600,
	"MST": -7 * 3600,
	"MDT": -6 * 3600,
	"PST": -8 * 3600,
	"PDT": -7 * 3600,
	"JST": 9 * 3600,
}

// DateNormalizer はフィードの日付文字列を絶対時刻に変換する。
// 解釈できない日付や、許容範囲を超えて未来の日付は取り込み時刻で代用する。
type DateNormalizer struct {
	tolerance time.Duration
}

// NewDateNormalizer はDateNormalizerの新しいインスタンスを生成する。
// toleranceは時計のずれとして許容する未来方向の幅。
func NewDateNormalizer(tolerance time.Duration) *DateNormalizer {
	if tolerance < 0 {
		tolerance = 0
	}
	return &DateNormalizer{tolerance: tolerance}
}

// Normalize はrawを解釈してUTCの時刻を返す。
// 2番目の戻り値は、取り込み時刻nowで代用した（推定値である）かどうか。
func (n *DateNormalizer) Normalize(raw string, now time.Time) (time.Time, bool) {
	now = now.UTC()

	t, ok := parseDate(raw)
	if !ok {
		return now, true
	}
	if t.After(now.Add(n.tolerance)) {
		return now, true
	}
	return t.UTC(), false
}

func parseDate(raw string) (time.Time, bool) {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return fixZoneAbbreviation(t), true
		}
	}

	// 既知レイアウトに一致しない場合はdateparseで緩く解釈する
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return fixZoneAbbreviation(t), true
}

// fixZoneAbbreviation はオフセット0で記録された既知の略称を正しいオフセットに置き換える。
func fixZoneAbbreviation(t time.Time) time.Time {
	name, offset := t.Zone()
	if offset != 0 {
		return t
	}
	known, ok := rfc822Zones[strings.ToUpper(name)]
	if !ok {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		time.FixedZone(name, known))
}
