// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 取り込みワーカーとスイーパーから利用する。
type MetricsCollector interface {
	RecordFetchSuccess(feedID string)
	RecordFetchFailure(feedID string, reason string)
	RecordParseFailure(feedID string)
	RecordNotModified(feedID string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordNewArticles(count int)
	RecordSkippedEntries(count int)
	RecordExpiredArticles(count int64)
	SetSuspendedFeeds(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess    prometheus.Counter
	fetchFail       *prometheus.CounterVec
	parseFail       prometheus.Counter
	notModified     prometheus.Counter
	httpStatus      *prometheus.CounterVec
	fetchLatency    prometheus.Histogram
	newArticles     prometheus.Counter
	skippedEntries  prometheus.Counter
	expiredArticles prometheus.Counter
	suspendedFeeds  prometheus.Gauge
	opsPanics       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedown_fetch_success_total",
			Help: "フィード取り込み成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedown_fetch_fail_total",
			Help: "フィード取り込み失敗の合計数",
		}, []string{"reason"}),
		parseFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedown_parse_fail_total",
			Help: "フィードパース失敗の合計数",
		}),
		notModified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedown_fetch_not_modified_total",
			Help: "未変更（304）応答の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedown_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedown_fetch_latency_seconds",
			Help:    "フィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		newArticles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedown_articles_new_total",
			Help: "新規に保存された記事の合計数",
		}),
		skippedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedown_entries_skipped_total",
			Help: "識別できずにスキップされたエントリの合計数",
		}),
		expiredArticles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedown_articles_expired_total",
			Help: "期限切れで削除された記事の合計数",
		}),
		suspendedFeeds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedown_feeds_suspended",
			Help: "直近のサイクルで停止状態だったフィード数",
		}),
		opsPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedown_ops_panics_total",
			Help: "運用エンドポイントで回復したpanicの合計数",
		}, []string{"path"}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.parseFail,
		c.notModified,
		c.httpStatus,
		c.fetchLatency,
		c.newArticles,
		c.skippedEntries,
		c.expiredArticles,
		c.suspendedFeeds,
		c.opsPanics,
	)

	return c
}

// RecordFetchSuccess は取り込み成功を記録する。
func (c *Collector) RecordFetchSuccess(feedID string) {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure は取り込み失敗を理由別に記録する。
func (c *Collector) RecordFetchFailure(feedID string, reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordParseFailure はパース失敗を記録する。
func (c *Collector) RecordParseFailure(feedID string) {
	c.parseFail.Inc()
}

// RecordNotModified は未変更応答を記録する。
func (c *Collector) RecordNotModified(feedID string) {
	c.notModified.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordNewArticles は新規記事数を記録する。
func (c *Collector) RecordNewArticles(count int) {
	c.newArticles.Add(float64(count))
}

// RecordSkippedEntries はスキップしたエントリ数を記録する。
func (c *Collector) RecordSkippedEntries(count int) {
	c.skippedEntries.Add(float64(count))
}

// RecordExpiredArticles は削除した期限切れ記事数を記録する。
func (c *Collector) RecordExpiredArticles(count int64) {
	c.expiredArticles.Add(float64(count))
}

// SetSuspendedFeeds は停止状態のフィード数を設定する。
func (c *Collector) SetSuspendedFeeds(count int) {
	c.suspendedFeeds.Set(float64(count))
}

// RecordOpsPanic は運用エンドポイントで回復したpanicをパス別に記録する。
func (c *Collector) RecordOpsPanic(path string) {
	c.opsPanics.WithLabelValues(path).Inc()
}

var _ MetricsCollector = (*Collector)(nil)
