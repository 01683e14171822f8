// Package compress implements the streaming compression stage of spec.md
// §4.3: zstd (github.com/klauspost/compress/zstd) applied to plaintext
// before encryption, tagged with a single leading byte so decode can tell
// compressed payloads from raw ones without a side channel. Following the
// teacher's storage/compressed.go, compression is skipped when it wouldn't
// actually shrink the blob, and the tag records which choice was made.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/mmp/bkv/bkerrors"
)

const (
	tagRaw        byte = 0
	tagCompressed byte = 1
)

// Reusing encoders/decoders avoids per-blob setup cost, mirroring the
// teacher's sync.Pool of gzip writers/readers.
var encoderPool = sync.Pool{
	New: func() interface{} {
		w, err := zstd.NewWriter(nil)
		if err != nil {
			panic(err) // nil io.Writer can't fail to construct
		}
		return w
	},
}

var decoderPool = sync.Pool{
	New: func() interface{} {
		r, err := zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
		return r
	},
}

// Pipeline applies or skips compression for one backup set, per its
// use_compression option.
type Pipeline struct {
	Enabled bool
}

// NewPipeline returns a Pipeline; enabled mirrors a set's use_compression
// config value.
func NewPipeline(enabled bool) *Pipeline {
	return &Pipeline{Enabled: enabled}
}

// Compress returns plaintext prefixed with a tag byte. If the pipeline is
// disabled, or compression doesn't shrink the data, the tag marks it raw
// and the bytes are passed through unchanged (aside from the prefix). The
// addressing SHA is always computed by the caller over the pre-compression
// plaintext, never over this tagged output, so toggling use_compression
// never changes a file's dedup identity.
func (p *Pipeline) Compress(plaintext []byte) ([]byte, error) {
	if !p.Enabled {
		return append([]byte{tagRaw}, plaintext...), nil
	}

	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)

	var buf bytes.Buffer
	enc.Reset(&buf)
	if _, err := enc.Write(plaintext); err != nil {
		return nil, fmt.Errorf("%w: compress: %v", bkerrors.ErrCorrupt, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("%w: compress: %v", bkerrors.ErrCorrupt, err)
	}

	if buf.Len() < len(plaintext) {
		return append([]byte{tagCompressed}, buf.Bytes()...), nil
	}
	return append([]byte{tagRaw}, plaintext...), nil
}

// Decompress reverses Compress, reading the tag byte to decide whether the
// remainder needs zstd decoding.
func (p *Pipeline) Decompress(tagged []byte) ([]byte, error) {
	if len(tagged) == 0 {
		return nil, fmt.Errorf("%w: empty tagged payload", bkerrors.ErrCorrupt)
	}
	tag, body := tagged[0], tagged[1:]
	switch tag {
	case tagRaw:
		return body, nil
	case tagCompressed:
		dec := decoderPool.Get().(*zstd.Decoder)
		defer decoderPool.Put(dec)
		if err := dec.Reset(bytes.NewReader(body)); err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", bkerrors.ErrCorrupt, err)
		}
		out, err := io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", bkerrors.ErrCorrupt, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression tag %d", bkerrors.ErrCorrupt, tag)
	}
}
