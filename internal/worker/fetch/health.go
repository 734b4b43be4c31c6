package fetch

import (
	"strconv"
	"time"

	"github.com/hitoshi/feedown/internal/model"
)

// FetchResult はHTTPステータスコードに基づくフェッチ結果の分類。
type FetchResult int

const (
	// FetchResultOK はフェッチ成功（200）。
	FetchResultOK FetchResult = iota
	// FetchResultNotModified はコンテンツ未変更（304）。
	FetchResultNotModified
	// FetchResultGone はフィードが存在しない、またはアクセスできないステータス（404/410/401/403）。
	FetchResultGone
	// FetchResultBackoff はサーバー側の一時的な失敗（429/5xx）。
	FetchResultBackoff
	// FetchResultUnknown は未知のステータスコード。
	FetchResultUnknown
)

const (
	// DefaultMaxConsecutiveErrors は停止状態とみなす連続エラー回数の既定値。
	// MAX_CONSECUTIVE_ERRORSの既定値と一致させる。
	DefaultMaxConsecutiveErrors = 5
	// DefaultFetchInterval は通常のフェッチ間隔の既定値。
	DefaultFetchInterval = 60 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
)

// ClassifyHTTPStatus はHTTPステータスコードをフェッチ結果に分類する。
func ClassifyHTTPStatus(statusCode int) FetchResult {
	switch {
	case statusCode == 200:
		return FetchResultOK
	case statusCode == 304:
		return FetchResultNotModified
	case statusCode == 404 || statusCode == 410:
		return FetchResultGone
	case statusCode == 401 || statusCode == 403:
		return FetchResultGone
	case statusCode == 429:
		return FetchResultBackoff
	case statusCode >= 500:
		return FetchResultBackoff
	default:
		return FetchResultUnknown
	}
}

// CalculateBackoff はbaseを起点にattempts回2倍した遅延を返す。最大12時間。
// baseが12時間を超える場合はbaseをそのまま返す。
func CalculateBackoff(base time.Duration, attempts int) time.Duration {
	if base >= maxBackoff {
		return base
	}
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// HealthTracker はフィードの連続エラー回数を管理し、次回のフェッチ時刻を決定する。
// 状態は持たず、入力のフィードを変更せずに更新後のフィードを返す。
type HealthTracker struct {
	maxConsecutiveErrors int
	interval             time.Duration
}

// NewHealthTracker はHealthTrackerの新しいインスタンスを生成する。
// maxConsecutiveErrorsが0以下の場合はConfigErrorInvalidErrorThresholdを返す。
// intervalが0以下の場合はDefaultFetchIntervalを使用する。
func NewHealthTracker(maxConsecutiveErrors int, interval time.Duration) (*HealthTracker, error) {
	if maxConsecutiveErrors <= 0 {
		return nil, model.NewConfigError(
			model.ConfigErrorInvalidErrorThreshold, "MaxConsecutiveErrors", strconv.Itoa(maxConsecutiveErrors))
	}
	if interval <= 0 {
		interval = DefaultFetchInterval
	}
	return &HealthTracker{
		maxConsecutiveErrors: maxConsecutiveErrors,
		interval:             interval,
	}, nil
}

// OnFetchSuccess は文書のパースに成功したときのフィードを返す。
// 連続エラー回数を0にリセットし、LastSuccessAtとLastFetchedAtを進める。
func (h *HealthTracker) OnFetchSuccess(feed model.Feed, now time.Time) model.Feed {
	feed.ErrorCount = 0
	feed.LastFetchedAt = now
	feed.LastSuccessAt = now
	feed.NextFetchAt = now.Add(h.interval)
	return feed
}

// OnNotModified は未変更（304）応答を受けたときのフィードを返す。
// 取得自体は成功として連続エラー回数をリセットするが、パースは行っていないためLastSuccessAtは進めない。
func (h *HealthTracker) OnNotModified(feed model.Feed, now time.Time) model.Feed {
	feed.ErrorCount = 0
	feed.LastFetchedAt = now
	feed.NextFetchAt = now.Add(h.interval)
	return feed
}

// OnFetchFailure はフェッチまたはパースに失敗したときのフィードを返す。
// 連続エラー回数をインクリメントし、停止状態であれば指数バックオフで次回時刻を遅らせる。
func (h *HealthTracker) OnFetchFailure(feed model.Feed, now time.Time) model.Feed {
	feed.ErrorCount++
	feed.LastFetchedAt = now
	feed.NextFetchAt = now.Add(h.RetryDelay(feed.ErrorCount))
	return feed
}

// Suspended はフィードが停止状態かを返す。
func (h *HealthTracker) Suspended(feed model.Feed) bool {
	return feed.Suspended(h.maxConsecutiveErrors)
}

// MaxConsecutiveErrors は停止状態とみなす連続エラー回数の閾値を返す。
func (h *HealthTracker) MaxConsecutiveErrors() int {
	return h.maxConsecutiveErrors
}

// RetryDelay は連続エラー回数errorCountのフィードを再試行するまでの遅延を返す。
// 閾値以下の場合は通常の間隔、閾値をk回超えるとinterval×2^k（最大12時間）になる。
func (h *HealthTracker) RetryDelay(errorCount int) time.Duration {
	if errorCount <= h.maxConsecutiveErrors {
		return h.interval
	}
	return CalculateBackoff(h.interval, errorCount-h.maxConsecutiveErrors)
}
