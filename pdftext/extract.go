package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/phuslu/log"
)

// DocumentError reports a PDF that could not be opened or paginated.
type DocumentError struct {
	Err error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("failed to extract text from pdf: %v", e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// PageText is the reconstructed content of one page.
type PageText struct {
	Number int      `json:"number"`
	Lines  []string `json:"lines"`
}

// PageStats is reported to Extractor.OnPage after each page.
type PageStats struct {
	Number     int
	Lines      int
	Characters int
}

// Document is the text extracted from a whole PDF.
type Document struct {
	Text      string            `json:"text"`
	PageCount int               `json:"pageCount"`
	Pages     []PageText        `json:"pages"`
	Info      map[string]string `json:"info,omitempty"`
}

// AllLines returns the lines of every page in order.
func (d *Document) AllLines() []string {
	var out []string
	for _, p := range d.Pages {
		out = append(out, p.Lines...)
	}
	return out
}

// Extractor reads PDFs with ledongthuc/pdf and reconstructs their text.
type Extractor struct {
	logger *log.Logger

	// OnPage, when set, is called after each page is reconstructed.
	OnPage func(PageStats)
}

func NewExtractor(logger *log.Logger) *Extractor {
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Extractor{logger: logger}
}

// wordGap is the fraction of the font size below which two glyphs on one
// baseline belong to the same word.
const wordGap = 0.15

var infoKeys = []string{"Title", "Author", "Subject", "Creator", "Producer", "CreationDate"}

func init() {
	// pdfcpu otherwise creates a config directory under the user's home
	api.DisableConfigDir()
}

// Extract opens data as a PDF and returns its reconstructed text. Any failure
// to open or read a page aborts the call with a *DocumentError.
func (e *Extractor) Extract(data []byte) (doc *Document, err error) {
	if len(data) == 0 {
		return nil, &DocumentError{Err: errors.New("empty document")}
	}

	// the reader panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = &DocumentError{Err: fmt.Errorf("read pdf: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &DocumentError{Err: fmt.Errorf("open pdf: %w", err)}
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, &DocumentError{Err: errors.New("document has no pages")}
	}
	e.crossCheckPageCount(data, numPages)

	pages := make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			return nil, &DocumentError{Err: fmt.Errorf("page %d is missing", i)}
		}
		pages = append(pages, Page{Number: i, Fragments: glyphFragments(p.Content().Text)})
	}

	doc = &Document{
		PageCount: numPages,
		Pages:     make([]PageText, 0, len(pages)),
		Info:      readInfo(reader),
	}
	var b strings.Builder
	for _, p := range pages {
		lines := PageLines(p.Fragments)
		pageText := strings.Join(lines, "\n")
		b.WriteString(pageText)
		b.WriteByte('\n')
		doc.Pages = append(doc.Pages, PageText{Number: p.Number, Lines: lines})
		if e.OnPage != nil {
			e.OnPage(PageStats{Number: p.Number, Lines: len(lines), Characters: len(pageText)})
		}
	}
	doc.Text = b.String()
	return doc, nil
}

// crossCheckPageCount compares the page tree count with pdfcpu's; a
// disagreement usually means a damaged xref table.
func (e *Extractor) crossCheckPageCount(data []byte, numPages int) {
	count, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		e.logger.Warn().Err(err).Msg("pdfcpu could not count pages")
		return
	}
	if count != numPages {
		e.logger.Warn().Int("reader_pages", numPages).Int("pdfcpu_pages", count).Msg("page count mismatch")
	}
}

func readInfo(reader *pdf.Reader) map[string]string {
	info := reader.Trailer().Key("Info")
	if info.IsNull() {
		return nil
	}
	out := make(map[string]string)
	for _, key := range infoKeys {
		if v := strings.TrimSpace(info.Key(key).Text()); v != "" {
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// glyphFragments coalesces the reader's per-glyph runs into fragments. Runs on
// the same baseline merge while the gap stays under wordGap of the font size;
// the reader omits space glyphs, so a wider gap marks a word break.
func glyphFragments(texts []pdf.Text) []Fragment {
	out := make([]Fragment, 0, len(texts)/4+1)
	var (
		cur     Fragment
		curEnd  float64
		curSize float64
		open    bool
	)
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		if open && math.Abs(t.Y-cur.Y) < 0.5 {
			gap := t.X - curEnd
			limit := curSize * wordGap
			if limit <= 0 {
				limit = 1
			}
			if gap >= -limit && gap <= limit {
				cur.Text += t.S
				curEnd = t.X + t.W
				continue
			}
		}
		if open {
			out = append(out, cur)
		}
		cur = Fragment{Text: t.S, X: t.X, Y: t.Y}
		curEnd = t.X + t.W
		curSize = t.FontSize
		open = true
	}
	if open {
		out = append(out, cur)
	}
	return out
}
