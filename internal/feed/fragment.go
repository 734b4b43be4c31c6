package feed

import (
	"bytes"
	"encoding/xml"
	"io"
	"regexp"

	"golang.org/x/net/html/charset"
)

// stripIllegalXMLChars はXML 1.0で許可されない制御文字（タブ、改行、復帰以外のU+0000〜U+001F）を除去する。
// UTF-16の文書はバイト単位の除去で壊れるため、そのまま返す。
func stripIllegalXMLChars(raw []byte) []byte {
	if bytes.HasPrefix(raw, []byte{0xFE, 0xFF}) || bytes.HasPrefix(raw, []byte{0xFF, 0xFE}) {
		return raw
	}
	if bytes.IndexFunc(raw, isIllegalXMLChar) < 0 {
		return raw
	}
	cleaned := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			continue
		}
		cleaned = append(cleaned, b)
	}
	return cleaned
}

func isIllegalXMLChar(r rune) bool {
	return r < 0x20 && r != '\t' && r != '\n' && r != '\r'
}

var (
	xmlDeclPattern   = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)
	rootStartPattern = regexp.MustCompile(`^<([A-Za-z_][\w.\-]*(?::[\w.\-]+)?)(?:\s[^>]*)?>`)
)

// entryFragments は文書をエントリ要素単位に切り出した結果。
// 文書全体の解析に失敗した場合に、エントリごとに独立して解析するために使う。
type entryFragments struct {
	decl      []byte
	rootStart []byte
	rootName  string
	// shell はエントリ要素をすべて取り除いた文書で、チャンネル情報の取得に使う。
	shell     []byte
	fragments [][]byte
}

// splitEntries はtag要素（itemまたはentry）の開始位置で文書を分割する。
// 閉じタグが次の開始タグより前に見つからないエントリは、次の開始位置までを1つの断片とする。
func splitEntries(raw []byte, tag string) entryFragments {
	var ef entryFragments
	if m := xmlDeclPattern.Find(raw); m != nil {
		ef.decl = bytes.TrimSpace(m)
	}
	ef.rootStart, ef.rootName = findRootStart(raw)

	starts := entryStarts(raw, tag)
	if len(starts) == 0 {
		ef.shell = raw
		return ef
	}

	closeTag := []byte("</" + tag + ">")
	var shell bytes.Buffer
	prev := 0
	for i, start := range starts {
		limit := len(raw)
		if i+1 < len(starts) {
			limit = starts[i+1]
		}
		end := limit
		if idx := bytes.Index(raw[start:limit], closeTag); idx >= 0 {
			end = start + idx + len(closeTag)
		}
		shell.Write(raw[prev:start])
		ef.fragments = append(ef.fragments, raw[start:end])
		prev = end
	}
	shell.Write(raw[prev:])
	ef.shell = shell.Bytes()
	return ef
}

// entryStarts は"<tag"の直後が空白、">"、"/"のいずれかである位置を返す。
func entryStarts(raw []byte, tag string) []int {
	open := []byte("<" + tag)
	var starts []int
	for offset := 0; offset < len(raw); {
		idx := bytes.Index(raw[offset:], open)
		if idx < 0 {
			break
		}
		pos := offset + idx
		next := pos + len(open)
		if next < len(raw) {
			switch raw[next] {
			case ' ', '\t', '\n', '\r', '>', '/':
				starts = append(starts, pos)
			}
		}
		offset = next
	}
	return starts
}

// findRootStart はXML宣言、コメント、DOCTYPEを読み飛ばしてルート要素の開始タグを返す。
func findRootStart(raw []byte) ([]byte, string) {
	i := 0
	for i < len(raw) {
		lt := bytes.IndexByte(raw[i:], '<')
		if lt < 0 {
			return nil, ""
		}
		i += lt
		rest := raw[i:]
		switch {
		case bytes.HasPrefix(rest, []byte("<?")):
			end := bytes.Index(rest, []byte("?>"))
			if end < 0 {
				return nil, ""
			}
			i += end + 2
		case bytes.HasPrefix(rest, []byte("<!--")):
			end := bytes.Index(rest, []byte("-->"))
			if end < 0 {
				return nil, ""
			}
			i += end + 3
		case bytes.HasPrefix(rest, []byte("<!")):
			end := bytes.IndexByte(rest, '>')
			if end < 0 {
				return nil, ""
			}
			i += end + 1
		default:
			m := rootStartPattern.FindSubmatch(rest)
			if m == nil {
				return nil, ""
			}
			return m[0], string(m[1])
		}
	}
	return nil, ""
}

// wrap は断片を元のルート要素（名前空間宣言を含む）で包み、単独で解析できる文書にする。
// RSS 2.0のitemはchannel要素の子として包む。
func (ef entryFragments) wrap(fragment []byte) []byte {
	var b bytes.Buffer
	if len(ef.decl) > 0 {
		b.Write(ef.decl)
		b.WriteByte('\n')
	}
	b.Write(ef.rootStart)
	inChannel := ef.rootName == "rss"
	if inChannel {
		b.WriteString("<channel>")
	}
	b.Write(fragment)
	if inChannel {
		b.WriteString("</channel>")
	}
	b.WriteString("</" + ef.rootName + ">")
	return b.Bytes()
}

// wellFormed は文書が厳密なXMLとして整形式かどうかを検査する。
// gofeedのパーサーは閉じタグの不一致を許容するため、断片の採否はこちらで判定する。
func wellFormed(doc []byte) bool {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel
	for {
		_, err := dec.Token()
		if err == io.EOF {
			return true
		}
		if err != nil {
			return false
		}
	}
}
