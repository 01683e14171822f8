package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	p := NewPipeline(true)
	plaintext := bytes.Repeat([]byte("compressible-compressible-compressible "), 200)

	tagged, err := p.Compress(plaintext)
	require.NoError(t, err)
	assert.Equal(t, tagCompressed, tagged[0], "repetitive data should compress")
	assert.Less(t, len(tagged), len(plaintext))

	got, err := p.Decompress(tagged)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestCompressFallsBackToRawWhenNotSmaller(t *testing.T) {
	p := NewPipeline(true)
	// Random-looking small input that zstd can't shrink.
	plaintext := []byte{0x01, 0x02, 0x03}

	tagged, err := p.Compress(plaintext)
	require.NoError(t, err)
	assert.Equal(t, tagRaw, tagged[0])

	got, err := p.Decompress(tagged)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDisabledPipelineAlwaysTagsRaw(t *testing.T) {
	p := NewPipeline(false)
	plaintext := bytes.Repeat([]byte("a"), 1000)

	tagged, err := p.Compress(plaintext)
	require.NoError(t, err)
	assert.Equal(t, tagRaw, tagged[0])
	assert.Equal(t, plaintext, tagged[1:])

	got, err := p.Decompress(tagged)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecompressRejectsUnknownTag(t *testing.T) {
	p := NewPipeline(true)
	_, err := p.Decompress([]byte{0xFF, 1, 2, 3})
	require.Error(t, err)
}

func TestDecompressRejectsEmptyInput(t *testing.T) {
	p := NewPipeline(true)
	_, err := p.Decompress(nil)
	require.Error(t, err)
}
