package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressTextRoundTrip(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 50)

	compressed, algorithm, err := CompressText(text)
	require.NoError(t, err)
	assert.Equal(t, CompressionBrotli, algorithm)
	assert.Less(t, len(compressed), len(text))

	restored, err := DecompressText(compressed, algorithm)
	require.NoError(t, err)
	assert.Equal(t, text, restored)
}

func TestSmallPayloadsSkipCompression(t *testing.T) {
	text := "tiny payload"

	compressed, algorithm, err := CompressText(text)
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, algorithm)
	assert.Equal(t, []byte(text), compressed)
}

func TestGzipRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("repetitive content ", 100))

	compressed, err := CompressData(data, CompressionGzip)
	require.NoError(t, err)

	restored, err := DecompressData(compressed, CompressionGzip)
	require.NoError(t, err)
	assert.Equal(t, data, restored)
}

func TestEmptyPayloadPassesThrough(t *testing.T) {
	compressed, err := CompressData(nil, CompressionBrotli)
	require.NoError(t, err)
	assert.Empty(t, compressed)
}

func TestUnknownAlgorithmIsRejected(t *testing.T) {
	_, err := CompressData([]byte("data"), CompressionAlgorithm("zstd"))
	assert.Error(t, err)

	_, err = DecompressData([]byte("data"), CompressionAlgorithm("zstd"))
	assert.Error(t, err)
}
