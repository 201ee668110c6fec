package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPlainText(t *testing.T) {
	e := NewExtractor()

	ext, err := e.Extract(context.Background(), []byte("plain body text"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "plain body text", ext.Text)
	assert.Zero(t, ext.Pages)
}

func TestExtractMarkdown(t *testing.T) {
	e := NewExtractor()

	ext, err := e.Extract(context.Background(), []byte("# Title\n\nsome prose"), "text/markdown")
	require.NoError(t, err)
	assert.Contains(t, ext.Text, "some prose")
}

func TestExtractHTMLStripsMarkup(t *testing.T) {
	e := NewExtractor()

	html := `<html><head><script>alert(1)</script><style>p{}</style></head>
<body><h1>Heading</h1><p>First paragraph.</p><p>Second paragraph.</p></body></html>`
	ext, err := e.Extract(context.Background(), []byte(html), "text/html")
	require.NoError(t, err)

	assert.Contains(t, ext.Text, "Heading")
	assert.Contains(t, ext.Text, "First paragraph.")
	assert.NotContains(t, ext.Text, "alert(1)")
	assert.NotContains(t, ext.Text, "<p>")
}

func TestExtractUnsupportedType(t *testing.T) {
	e := NewExtractor()

	_, err := e.Extract(context.Background(), []byte("binary"), "image/png")
	assert.True(t, errors.Is(err, ErrUnsupportedType))
}

func TestExtractEmptyTextIsFatal(t *testing.T) {
	e := NewExtractor()

	_, err := e.Extract(context.Background(), []byte("   \n\t  "), "text/plain")
	assert.True(t, errors.Is(err, ErrNoText))
}

func TestExtractNormalizesContentTypeParams(t *testing.T) {
	e := NewExtractor()

	ext, err := e.Extract(context.Background(), []byte("charset test"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "charset test", ext.Text)
}

func TestExtractSanitizesInvalidUTF8(t *testing.T) {
	e := NewExtractor()

	ext, err := e.Extract(context.Background(), []byte{'o', 'k', 0xff, 0xfe, '!', ' ', 'e', 'n', 'd'}, "text/plain")
	require.NoError(t, err)
	assert.Contains(t, ext.Text, "ok")
	assert.Contains(t, ext.Text, "end")
}

func TestPageForOffset(t *testing.T) {
	offsets := []int{0, 100, 250}

	assert.Equal(t, 1, PageForOffset(offsets, 0))
	assert.Equal(t, 1, PageForOffset(offsets, 99))
	assert.Equal(t, 2, PageForOffset(offsets, 100))
	assert.Equal(t, 3, PageForOffset(offsets, 5000))
	assert.Equal(t, 0, PageForOffset(nil, 42), "documents without pages report no page")
}
