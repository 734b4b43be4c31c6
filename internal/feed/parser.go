// Package feed はRSS/Atomフィード文書の解析と日付の正規化を提供する。
// 文書の種別はContent-Typeではなくルート要素の構造から判定する。
package feed

import (
	"bytes"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"

	"github.com/hitoshi/feedown/internal/model"
)

// Format はフィード文書の形式を表す。
type Format string

const (
	// FormatRSS はRSS 2.0（およびRSS 1.0/RDF）文書。
	FormatRSS Format = "rss"
	// FormatAtom はAtom文書。
	FormatAtom Format = "atom"
)

// DefaultMaxContentLength は記事本文の最大文字数（ルーン単位）。
const DefaultMaxContentLength = 10000

// ParsedDocument はパース済みフィード文書の直和型。
// RSSDocumentとAtomDocumentのみが実装し、抽出処理は各バリアントが持つ。
type ParsedDocument interface {
	Format() Format
	Meta() model.FeedMeta
	// Entries は正常に抽出できたエントリを文書内の順序で返す。
	Entries() []model.RawEntry
	// Skipped は整形式でない、または識別できずにスキップしたエントリ数を返す。
	Skipped() int

	parsedDocument()
}

// entrySet はバリアント共通のエントリ保持部分。
type entrySet struct {
	entries []model.RawEntry
	skipped int
}

func (s entrySet) Entries() []model.RawEntry { return s.entries }
func (s entrySet) Skipped() int              { return s.skipped }

func (s *entrySet) add(entry model.RawEntry, err error) {
	if err != nil {
		s.skipped++
		return
	}
	s.entries = append(s.entries, entry)
}

// RSSDocument はRSS文書のバリアント。
type RSSDocument struct {
	entrySet
	feed *rss.Feed
}

func (d *RSSDocument) Format() Format { return FormatRSS }
func (d *RSSDocument) parsedDocument() {}

// Meta はchannel要素のメタデータを返す。
func (d *RSSDocument) Meta() model.FeedMeta {
	return model.FeedMeta{
		Title:       strings.TrimSpace(d.feed.Title),
		Description: strings.TrimSpace(d.feed.Description),
		Link:        strings.TrimSpace(d.feed.Link),
	}
}

// AtomDocument はAtom文書のバリアント。
type AtomDocument struct {
	entrySet
	feed *atom.Feed
}

func (d *AtomDocument) Format() Format { return FormatAtom }
func (d *AtomDocument) parsedDocument() {}

// Meta はfeed要素のメタデータを返す。
func (d *AtomDocument) Meta() model.FeedMeta {
	return model.FeedMeta{
		Title:       strings.TrimSpace(d.feed.Title),
		Description: strings.TrimSpace(d.feed.Subtitle),
		Link:        atomAlternateLink(d.feed.Links),
	}
}

// Parser はフィード文書をParsedDocumentに変換する。
// 状態を持たないため、複数goroutineから同時に使用できる。
type Parser struct {
	logger           *slog.Logger
	maxContentLength int
}

// NewParser はParserの新しいインスタンスを生成する。
// maxContentLengthが0以下の場合はDefaultMaxContentLengthを使用する。
func NewParser(logger *slog.Logger, maxContentLength int) *Parser {
	if maxContentLength <= 0 {
		maxContentLength = DefaultMaxContentLength
	}
	return &Parser{
		logger:           logger,
		maxContentLength: maxContentLength,
	}
}

// Parse は生のフィード文書を解析する。
// contentHintは宣言されたContent-Typeで、判定には使用せずログ出力のみに使う。
// 空文書、ルート要素がRSS/Atomでない文書、エントリを1件も切り出せない不正なXMLはParseErrorMalformedを返す。
// 文書全体の解析に失敗した場合やエントリが欠落した場合はエントリ単位で解析し直し、
// 整形式でないエントリと識別不能なエントリはSkippedとして数える。
func (p *Parser) Parse(raw []byte, contentHint string) (ParsedDocument, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, model.NewMalformedError("空の文書です", nil)
	}
	raw = stripIllegalXMLChars(raw)

	var (
		doc ParsedDocument
		err error
	)
	switch gofeed.DetectFeedType(bytes.NewReader(raw)) {
	case gofeed.FeedTypeRSS:
		doc, err = p.parseRSS(raw)
	case gofeed.FeedTypeAtom:
		doc, err = p.parseAtom(raw)
	default:
		return nil, model.NewMalformedError("RSS/Atomのいずれの形式でもありません", nil)
	}
	if err != nil {
		return nil, err
	}

	if hinted := formatFromHint(contentHint); hinted != "" && hinted != doc.Format() {
		p.logger.Debug("Content-Typeと文書の形式が一致しません",
			slog.String("content_type", contentHint),
			slog.String("detected_format", string(doc.Format())),
		)
	}

	return doc, nil
}

func (p *Parser) parseRSS(raw []byte) (ParsedDocument, error) {
	ef := splitEntries(raw, "item")
	parsed, err := (&rss.Parser{}).Parse(bytes.NewReader(raw))
	if err == nil && len(parsed.Items) >= len(ef.fragments) {
		return p.newRSSDocument(parsed), nil
	}
	if len(ef.fragments) == 0 || ef.rootName == "" {
		return nil, model.NewMalformedError("RSS文書の解析に失敗しました", err)
	}

	channel, shellErr := (&rss.Parser{}).Parse(bytes.NewReader(ef.shell))
	if shellErr != nil || channel == nil {
		channel = &rss.Feed{}
	}
	doc := &RSSDocument{feed: channel}
	doc.entries = make([]model.RawEntry, 0, len(ef.fragments))
	for _, fragment := range ef.fragments {
		item, ok := parseRSSFragment(ef.wrap(fragment))
		if !ok {
			doc.skipped++
			continue
		}
		doc.add(p.rssEntry(item))
	}
	if err != nil && len(doc.entries) == 0 {
		return nil, model.NewMalformedError("RSS文書の解析に失敗しました", err)
	}
	p.logRecovered(FormatRSS, err, len(ef.fragments), doc)
	return doc, nil
}

func parseRSSFragment(wrapped []byte) (*rss.Item, bool) {
	if !wellFormed(wrapped) {
		return nil, false
	}
	parsed, err := (&rss.Parser{}).Parse(bytes.NewReader(wrapped))
	if err != nil || len(parsed.Items) != 1 || parsed.Items[0] == nil {
		return nil, false
	}
	return parsed.Items[0], true
}

func (p *Parser) parseAtom(raw []byte) (ParsedDocument, error) {
	ef := splitEntries(raw, "entry")
	parsed, err := (&atom.Parser{}).Parse(bytes.NewReader(raw))
	if err == nil && len(parsed.Entries) >= len(ef.fragments) {
		return p.newAtomDocument(parsed), nil
	}
	if len(ef.fragments) == 0 || ef.rootName == "" {
		return nil, model.NewMalformedError("Atom文書の解析に失敗しました", err)
	}

	meta, shellErr := (&atom.Parser{}).Parse(bytes.NewReader(ef.shell))
	if shellErr != nil || meta == nil {
		meta = &atom.Feed{}
	}
	doc := &AtomDocument{feed: meta}
	doc.entries = make([]model.RawEntry, 0, len(ef.fragments))
	for _, fragment := range ef.fragments {
		entry, ok := parseAtomFragment(ef.wrap(fragment))
		if !ok {
			doc.skipped++
			continue
		}
		doc.add(p.atomEntry(entry))
	}
	if err != nil && len(doc.entries) == 0 {
		return nil, model.NewMalformedError("Atom文書の解析に失敗しました", err)
	}
	p.logRecovered(FormatAtom, err, len(ef.fragments), doc)
	return doc, nil
}

func parseAtomFragment(wrapped []byte) (*atom.Entry, bool) {
	if !wellFormed(wrapped) {
		return nil, false
	}
	parsed, err := (&atom.Parser{}).Parse(bytes.NewReader(wrapped))
	if err != nil || len(parsed.Entries) != 1 || parsed.Entries[0] == nil {
		return nil, false
	}
	return parsed.Entries[0], true
}

func (p *Parser) logRecovered(format Format, cause error, fragments int, doc ParsedDocument) {
	attrs := []any{
		slog.String("format", string(format)),
		slog.Int("fragments", fragments),
		slog.Int("entries", len(doc.Entries())),
		slog.Int("skipped", doc.Skipped()),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	p.logger.Warn("文書全体を解析できなかったためエントリ単位で解析しました", attrs...)
}

func (p *Parser) newRSSDocument(f *rss.Feed) *RSSDocument {
	doc := &RSSDocument{feed: f}
	doc.entries = make([]model.RawEntry, 0, len(f.Items))
	for _, item := range f.Items {
		if item == nil {
			doc.skipped++
			continue
		}
		doc.add(p.rssEntry(item))
	}
	return doc
}

func (p *Parser) rssEntry(item *rss.Item) (model.RawEntry, error) {
	entry := model.RawEntry{
		Title: strings.TrimSpace(item.Title),
		Link:  strings.TrimSpace(item.Link),
	}
	if item.GUID != nil {
		entry.GUID = strings.TrimSpace(item.GUID.Value)
	}
	// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
	if entry.Link == "" && isHTTPURL(entry.GUID) {
		entry.Link = entry.GUID
	}
	if entry.GUID == "" && entry.Link == "" {
		return entry, model.NewPartialEntryError("guidとlinkのいずれもありません")
	}

	// content:encoded > description
	content := item.Content
	if strings.TrimSpace(content) == "" {
		content = extensionValue(item.Extensions, "content", "encoded")
	}
	if strings.TrimSpace(content) == "" {
		content = item.Description
	}

	entry.RawPublishedDate = strings.TrimSpace(item.PubDate)
	entry.Author = strings.TrimSpace(item.Author)
	if entry.RawPublishedDate == "" {
		entry.RawPublishedDate = extensionValue(item.Extensions, "dc", "date")
	}
	if entry.Author == "" {
		entry.Author = extensionValue(item.Extensions, "dc", "creator")
	}

	entry.ImageURL = extensionImage(item.Extensions)
	if entry.ImageURL == "" && item.Enclosure != nil && isImageMedia(item.Enclosure.Type, "") {
		entry.ImageURL = strings.TrimSpace(item.Enclosure.URL)
	}
	if entry.ImageURL == "" {
		entry.ImageURL = firstImageSrc(content, entry.Link)
	}

	entry.SummaryOrContent = truncateContent(strings.TrimSpace(content), p.maxContentLength)
	return entry, nil
}

func (p *Parser) newAtomDocument(f *atom.Feed) *AtomDocument {
	doc := &AtomDocument{feed: f}
	doc.entries = make([]model.RawEntry, 0, len(f.Entries))
	for _, e := range f.Entries {
		if e == nil {
			doc.skipped++
			continue
		}
		doc.add(p.atomEntry(e))
	}
	return doc
}

func (p *Parser) atomEntry(e *atom.Entry) (model.RawEntry, error) {
	entry := model.RawEntry{
		GUID:  strings.TrimSpace(e.ID),
		Title: strings.TrimSpace(e.Title),
		Link:  atomAlternateLink(e.Links),
	}
	if entry.GUID == "" && entry.Link == "" {
		return entry, model.NewPartialEntryError("idとlinkのいずれもありません")
	}

	// content > summary
	content := ""
	if e.Content != nil {
		content = e.Content.Value
	}
	if strings.TrimSpace(content) == "" {
		content = e.Summary
	}

	entry.RawPublishedDate = strings.TrimSpace(e.Published)
	if entry.RawPublishedDate == "" {
		entry.RawPublishedDate = strings.TrimSpace(e.Updated)
	}

	for _, author := range e.Authors {
		if author != nil && strings.TrimSpace(author.Name) != "" {
			entry.Author = strings.TrimSpace(author.Name)
			break
		}
	}

	entry.ImageURL = extensionImage(e.Extensions)
	if entry.ImageURL == "" {
		for _, link := range e.Links {
			if link != nil && link.Rel == "enclosure" && isImageMedia(link.Type, "") {
				entry.ImageURL = strings.TrimSpace(link.Href)
				break
			}
		}
	}
	if entry.ImageURL == "" {
		entry.ImageURL = firstImageSrc(content, entry.Link)
	}

	entry.SummaryOrContent = truncateContent(strings.TrimSpace(content), p.maxContentLength)
	return entry, nil
}

// atomAlternateLink はrel="alternate"のリンクを優先し、なければ最初のリンクを返す。
// relが省略されたリンクはalternateとして扱う。
func atomAlternateLink(links []*atom.Link) string {
	first := ""
	for _, link := range links {
		if link == nil || strings.TrimSpace(link.Href) == "" {
			continue
		}
		href := strings.TrimSpace(link.Href)
		if link.Rel == "" || link.Rel == "alternate" {
			return href
		}
		if first == "" {
			first = href
		}
	}
	return first
}

// formatFromHint はContent-Typeから想定される形式を返す。判定できない場合は空文字列。
func formatFromHint(contentType string) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "atom"):
		return FormatAtom
	case strings.Contains(ct, "rss"), strings.Contains(ct, "rdf"):
		return FormatRSS
	default:
		return ""
	}
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// truncateContent は本文をmaxLengthルーンで切り詰め、末尾に"..."を付与する。
func truncateContent(content string, maxLength int) string {
	if utf8.RuneCountInString(content) <= maxLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxLength]) + "..."
}
