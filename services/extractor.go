package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// Fatal extraction failures: the pipeline must not retry these.
var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrNoText          = errors.New("no extractable text")
)

// Extraction is the plain-text output of a format-specific extractor.
// PageOffsets holds the byte offset of each page start in Text (PDF only)
// so segments can be cited with a page number.
type Extraction struct {
	Text        string
	Pages       int
	PageOffsets []int
}

// Extractor turns raw uploaded bytes into plain text, dispatching on
// content type.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, content []byte, contentType string) (*Extraction, error) {
	var (
		result *Extraction
		err    error
	)

	switch normalizeContentType(contentType) {
	case "application/pdf":
		result, err = e.extractPDF(ctx, content)
	case "text/html":
		result, err = e.extractHTML(content)
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		result, err = e.extractSpreadsheet(content)
	case "text/plain", "text/markdown":
		result, err = e.extractPlain(content)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(result.Text) == "" {
		return nil, ErrNoText
	}
	return result, nil
}

func (e *Extractor) extractPDF(ctx context.Context, content []byte) (*Extraction, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	var textBuilder strings.Builder
	var pageOffsets []int
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		pageOffsets = append(pageOffsets, textBuilder.Len())
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unparseable page should not sink the document.
			continue
		}
		textBuilder.WriteString(text)
		textBuilder.WriteString("\n\n")
	}

	return &Extraction{
		Text:        textBuilder.String(),
		Pages:       pages,
		PageOffsets: pageOffsets,
	}, nil
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)

func (e *Extractor) extractHTML(content []byte) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var lines []string
	for _, line := range strings.Split(root.Text(), "\n") {
		line = whitespaceRun.ReplaceAllString(strings.TrimSpace(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}

	return &Extraction{Text: strings.Join(lines, "\n")}, nil
}

func (e *Extractor) extractSpreadsheet(content []byte) (*Extraction, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	var textBuilder strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}

		textBuilder.WriteString(sheet)
		textBuilder.WriteString("\n")
		for _, row := range rows {
			textBuilder.WriteString(strings.Join(row, "\t"))
			textBuilder.WriteString("\n")
		}
		textBuilder.WriteString("\n")
	}

	return &Extraction{Text: textBuilder.String()}, nil
}

func (e *Extractor) extractPlain(content []byte) (*Extraction, error) {
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return &Extraction{Text: text}, nil
}

// normalizeContentType strips parameters like "; charset=utf-8".
func normalizeContentType(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// PageForOffset maps a byte offset in extracted text to its 1-based page
// number, or 0 when no page information exists.
func PageForOffset(pageOffsets []int, offset int) int {
	if len(pageOffsets) == 0 {
		return 0
	}
	page := 0
	for i, start := range pageOffsets {
		if offset >= start {
			page = i + 1
		}
	}
	return page
}
