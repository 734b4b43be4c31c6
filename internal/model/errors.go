package model

import "fmt"

// ParseErrorKind はパースエラーの種別。
type ParseErrorKind string

const (
	// ParseErrorMalformed は文書全体が認識できないことを示す。フィード単位の失敗。
	ParseErrorMalformed ParseErrorKind = "malformed"
	// ParseErrorPartialEntry は個別エントリが解釈できないことを示す。
	// エントリをスキップして処理を継続し、フィード単位の失敗にはしない。
	ParseErrorPartialEntry ParseErrorKind = "partial_entry"
)

// ParseError はフィード文書のパースエラー。
type ParseError struct {
	Kind   ParseErrorKind
	Reason string
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error (%s): %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse error (%s): %s", e.Kind, e.Reason)
}

// Unwrap は元のエラーを返す。
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewMalformedError は文書レベルのパースエラーを生成する。
func NewMalformedError(reason string, err error) *ParseError {
	return &ParseError{Kind: ParseErrorMalformed, Reason: reason, Err: err}
}

// NewPartialEntryError はエントリレベルのパースエラーを生成する。
func NewPartialEntryError(reason string) *ParseError {
	return &ParseError{Kind: ParseErrorPartialEntry, Reason: reason}
}

// ConfigErrorKind は設定エラーの種別。
type ConfigErrorKind string

const (
	ConfigErrorInvalidRetentionWindow ConfigErrorKind = "invalid_retention_window"
	ConfigErrorInvalidErrorThreshold  ConfigErrorKind = "invalid_error_threshold"
	ConfigErrorInvalidClockSkew       ConfigErrorKind = "invalid_clock_skew"
	ConfigErrorInvalidInterval        ConfigErrorKind = "invalid_interval"
	ConfigErrorMissing                ConfigErrorKind = "missing"
)

// ConfigError は設定読み込み時の検証エラー。
// 取り込み時ではなく、起動時に即座に失敗させる。
type ConfigError struct {
	Kind  ConfigErrorKind
	Field string
	Value string
}

// Error はerrorインターフェースを実装する。
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %s=%q", e.Kind, e.Field, e.Value)
}

// NewConfigError は設定エラーを生成する。
func NewConfigError(kind ConfigErrorKind, field, value string) *ConfigError {
	return &ConfigError{Kind: kind, Field: field, Value: value}
}

// FetchError はネットワーク取得の失敗を表す。
// StatusCodeが0の場合はHTTP応答を得られなかったことを示す。
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ServiceError はサービス層の業務エラーを表す。
type ServiceError struct {
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidURL       = "INVALID_URL"
	ErrCodeDuplicateFeed    = "DUPLICATE_FEED"
	ErrCodeFeedNotFound     = "FEED_NOT_FOUND"
	ErrCodeArticleNotFound  = "ARTICLE_NOT_FOUND"
	ErrCodeFavoriteNotFound = "FAVORITE_NOT_FOUND"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeInvalidURL,
		Message: fmt.Sprintf("無効なURLです: %s", reason),
	}
}

// NewDuplicateFeedError は購読済みフィードの重複登録エラーを生成する。
func NewDuplicateFeedError(url string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeDuplicateFeed,
		Message: fmt.Sprintf("このフィードは既に購読しています: %s", url),
	}
}

// NewFeedNotFoundError はフィード未検出エラーを生成する。
func NewFeedNotFoundError(feedID string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeFeedNotFound,
		Message: fmt.Sprintf("指定されたフィードが見つかりません: %s", feedID),
	}
}

// NewArticleNotFoundError は記事未検出エラーを生成する。
func NewArticleNotFoundError(articleID string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeArticleNotFound,
		Message: fmt.Sprintf("指定された記事が見つかりません: %s", articleID),
	}
}

// NewFavoriteNotFoundError はお気に入り未検出エラーを生成する。
func NewFavoriteNotFoundError(articleID string) *ServiceError {
	return &ServiceError{
		Code:    ErrCodeFavoriteNotFound,
		Message: fmt.Sprintf("指定されたお気に入りが見つかりません: %s", articleID),
	}
}
