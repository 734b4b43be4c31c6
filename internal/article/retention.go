package article

import (
	"strconv"
	"time"

	"github.com/hitoshi/feedown/internal/model"
)

// DefaultRetentionDays は記事の既定の保持日数。
const DefaultRetentionDays = 7

// RetentionPolicy は記事の有効期限を決定する。
type RetentionPolicy struct {
	windowDays int
}

// NewRetentionPolicy はRetentionPolicyを生成する。
// windowDaysが0以下の場合はConfigErrorInvalidRetentionWindowを返す。
func NewRetentionPolicy(windowDays int) (RetentionPolicy, error) {
	if windowDays <= 0 {
		return RetentionPolicy{}, model.NewConfigError(
			model.ConfigErrorInvalidRetentionWindow, "RetentionWindowDays", strconv.Itoa(windowDays))
	}
	return RetentionPolicy{windowDays: windowDays}, nil
}

// WindowDays は保持日数を返す。
func (p RetentionPolicy) WindowDays() int {
	return p.windowDays
}

// ExpirationFor は取り込み時刻から有効期限を計算する。
func (p RetentionPolicy) ExpirationFor(fetchedAt time.Time) time.Time {
	return ExpirationFor(fetchedAt, p.windowDays)
}

// ExpirationFor は取り込み時刻にwindowDays日を加えた時刻を返す。
// 公開日時には依存しないため、古い日付の記事も取り込み後windowDays日間は保持される。
func ExpirationFor(fetchedAt time.Time, windowDays int) time.Time {
	return fetchedAt.Add(time.Duration(windowDays) * 24 * time.Hour)
}
