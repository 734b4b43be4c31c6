package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は記事本文HTMLのサニタイズ機能のインターフェース。
// 取り込み時、記事を保存する前に一度だけ適用される。
type ContentSanitizerService interface {
	// Sanitize は許可リストに含まれるタグと属性だけを残したHTMLを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

// ContentSanitizer はbluemondayのポリシーでHTMLをサニタイズする。
// ポリシーは生成後に変更しないため、複数のgoroutineから同時に使用できる。
type ContentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer は記事本文用のポリシーを構築する。
//   - 許可タグ: p, br, h1-h6, ul, ol, li, blockquote, pre, code, strong, em, a, img, figure, figcaption
//   - aのhrefは絶対URLのみ。target="_blank"とrel="noopener noreferrer"を付与する
//   - imgのsrcはhttpsのみ
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
		"figure", "figcaption",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &ContentSanitizer{policy: p}
}

// Sanitize はHTMLをサニタイズする。空文字列には空文字列を返す。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.policy.Sanitize(rawHTML)
}
