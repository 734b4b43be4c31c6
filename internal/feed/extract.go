package feed

import (
	"net/url"
	"strings"

	ext "github.com/mmcdole/gofeed/extensions"
	"golang.org/x/net/html"
)

// extensionImage はmedia RSS拡張（media:thumbnail, media:content）から画像URLを取り出す。
func extensionImage(exts ext.Extensions) string {
	media, ok := exts["media"]
	if !ok {
		return ""
	}

	for _, thumb := range media["thumbnail"] {
		if u := strings.TrimSpace(thumb.Attrs["url"]); u != "" {
			return u
		}
	}

	for _, content := range media["content"] {
		if !isImageMedia(content.Attrs["type"], content.Attrs["medium"]) {
			continue
		}
		if u := strings.TrimSpace(content.Attrs["url"]); u != "" {
			return u
		}
	}

	// media:group 配下の media:content
	for _, group := range media["group"] {
		for _, content := range group.Children["content"] {
			if !isImageMedia(content.Attrs["type"], content.Attrs["medium"]) {
				continue
			}
			if u := strings.TrimSpace(content.Attrs["url"]); u != "" {
				return u
			}
		}
	}

	return ""
}

// extensionValue は拡張要素 prefix:name の最初の値を返す。
func extensionValue(exts ext.Extensions, prefix, name string) string {
	for _, e := range exts[prefix][name] {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

func isImageMedia(mimeType, medium string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/") || strings.EqualFold(medium, "image")
}

// firstImageSrc はHTMLコンテンツ内の最初のimgタグのsrc属性を返す。
// 相対URLはbaseURLを基準に絶対URLに解決される。解決できない場合は空文字列を返す。
func firstImageSrc(htmlContent, baseURL string) string {
	if !strings.Contains(htmlContent, "<img") && !strings.Contains(htmlContent, "<IMG") {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(htmlContent))
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			if string(tn) != "img" || !hasAttr {
				continue
			}

			var src string
			for {
				key, val, more := tokenizer.TagAttr()
				if strings.ToLower(string(key)) == "src" {
					src = strings.TrimSpace(string(val))
				}
				if !more {
					break
				}
			}
			if src == "" || strings.HasPrefix(src, "data:") {
				continue
			}
			return resolveURL(baseURL, src)
		}
	}
}

// resolveURL は相対URLをベースURLを基準に絶対URLに解決する。
func resolveURL(baseURL, rawRef string) string {
	ref, err := url.Parse(rawRef)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return ""
	}
	return base.ResolveReference(ref).String()
}
