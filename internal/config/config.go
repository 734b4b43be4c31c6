// Package config は起動時の設定読み込みと検証を提供する。
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/hitoshi/feedown/internal/model"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数とコマンドラインフラグから起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	Store       string `long:"store" env:"STORE" default:"postgres" choice:"postgres" choice:"memory" description:"永続化先"`
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" description:"PostgreSQLの接続URL (store=postgresで必須)"`

	// Cache
	RedisAddr string        `long:"redis-addr" env:"REDIS_ADDR" description:"フィード文書キャッシュのRedisアドレス (空の場合は無効)"`
	CacheTTL  time.Duration `long:"cache-ttl" env:"CACHE_TTL" default:"1h" description:"フィード文書キャッシュのTTL"`

	// Lifecycle
	RetentionWindowDays       int `long:"retention-days" env:"RETENTION_WINDOW_DAYS" default:"7" description:"記事の保持日数"`
	MaxConsecutiveErrors      int `long:"max-errors" env:"MAX_CONSECUTIVE_ERRORS" default:"5" description:"フィードを停止扱いにする連続エラー回数"`
	ClockSkewToleranceMinutes int `long:"clock-skew" env:"CLOCK_SKEW_TOLERANCE_MINUTES" default:"5" description:"未来日付として許容する分数"`
	MaxContentLength          int `long:"max-content-length" env:"MAX_CONTENT_LENGTH" default:"10000" description:"記事本文の最大文字数"`

	// Fetch
	FetchInterval      time.Duration `long:"fetch-interval" env:"FETCH_INTERVAL" default:"5m" description:"スケジューラの実行間隔"`
	RefreshInterval    time.Duration `long:"refresh-interval" env:"FEED_REFRESH_INTERVAL" default:"1h" description:"正常なフィードを再取得するまでの間隔"`
	FetchTimeout       time.Duration `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"10s" description:"フェッチ1回のタイムアウト"`
	FetchMaxSize       int64         `long:"fetch-max-size" env:"FETCH_MAX_SIZE" default:"5242880" description:"レスポンスボディの最大バイト数"`
	FetchMaxConcurrent int           `long:"fetch-max-concurrent" env:"FETCH_MAX_CONCURRENT" default:"10" description:"同時フェッチ数"`
	FetchRatePerSecond float64       `long:"fetch-rate" env:"FETCH_RATE_PER_SECOND" default:"5" description:"全体のフェッチ回数/秒 (0で無制限)"`
	FetchAllowedPorts  []int         `long:"fetch-allowed-port" env:"FETCH_ALLOWED_PORTS" env-delim:"," default:"80" default:"443" description:"フェッチを許可するポート"`

	// Cleanup
	CleanupInterval time.Duration `long:"cleanup-interval" env:"CLEANUP_INTERVAL" default:"24h" description:"期限切れ記事の削除間隔"`

	// Ops
	OpsAddr  string `long:"ops-addr" env:"OPS_ADDR" default:":9090" description:"/metrics と /health の待ち受けアドレス"`
	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"ログレベル"`
}

// Usage は--helpに表示するコマンド一覧。
const Usage = "[OPTIONS] [worker|refresh|cleanup|migrate|healthcheck" +
	"|subscribe <url>|unsubscribe <feed-id>|resume <feed-id>" +
	"|mark-read <user-id> <article-id>...|favorite <user-id> <article-id>" +
	"|unfavorite <user-id> <article-id>|favorites <user-id>]"

// Load は環境変数とargsからConfigを読み込み、検証する。
// フラグ以外の引数（サブコマンド）はrestとして返す。
func Load(args []string) (*Config, []string, error) {
	cfg := &Config{}

	parser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	parser.Name = "feedown"
	parser.Usage = Usage

	rest, err := parser.ParseArgs(args)
	if err != nil {
		if IsHelp(err) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("設定の解析に失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, rest, nil
}

// IsHelp は--helpが指定されたことを示すエラーかを判定する。
func IsHelp(err error) bool {
	var flagsErr *flags.Error
	return errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp
}

// Validate は設定値を検証する。
// 複数の違反がある場合は全ての*model.ConfigErrorを結合して返す。
func (c *Config) Validate() error {
	var errs []error

	if c.Store == StorePostgres && c.DatabaseURL == "" {
		errs = append(errs, model.NewConfigError(model.ConfigErrorMissing, "DATABASE_URL", ""))
	}
	if c.RetentionWindowDays <= 0 {
		errs = append(errs, model.NewConfigError(model.ConfigErrorInvalidRetentionWindow,
			"RETENTION_WINDOW_DAYS", strconv.Itoa(c.RetentionWindowDays)))
	}
	if c.MaxConsecutiveErrors <= 0 {
		errs = append(errs, model.NewConfigError(model.ConfigErrorInvalidErrorThreshold,
			"MAX_CONSECUTIVE_ERRORS", strconv.Itoa(c.MaxConsecutiveErrors)))
	}
	if c.ClockSkewToleranceMinutes < 0 {
		errs = append(errs, model.NewConfigError(model.ConfigErrorInvalidClockSkew,
			"CLOCK_SKEW_TOLERANCE_MINUTES", strconv.Itoa(c.ClockSkewToleranceMinutes)))
	}
	for _, iv := range []struct {
		field string
		value time.Duration
	}{
		{"FETCH_INTERVAL", c.FetchInterval},
		{"FEED_REFRESH_INTERVAL", c.RefreshInterval},
		{"CLEANUP_INTERVAL", c.CleanupInterval},
	} {
		if iv.value <= 0 {
			errs = append(errs, model.NewConfigError(model.ConfigErrorInvalidInterval, iv.field, iv.value.String()))
		}
	}

	return errors.Join(errs...)
}

// ClockSkewTolerance は未来日付の許容幅を返す。
func (c *Config) ClockSkewTolerance() time.Duration {
	return time.Duration(c.ClockSkewToleranceMinutes) * time.Minute
}
