// ratelimit.go adapts the teacher's storage/ratelimit.go bandwidth-limited
// reader, replacing its hand-rolled ticker/condvar bookkeeping with
// golang.org/x/time/rate, which gives the same token-bucket behavior
// without reimplementing one.
package blobstore

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// limitedReader throttles reads to a rate.Limiter's allowance, used to
// cap GCS upload/download bandwidth per spec.md's object-store backend
// options.
type limitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// newLimitedReader returns r unchanged if limiter is nil (no limit
// configured), otherwise wraps it.
func newLimitedReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &limitedReader{r: r, limiter: limiter, ctx: ctx}
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	// WaitN rejects requests larger than the burst, so a chunk never
	// exceeds it.
	maxChunk := 32 * 1024
	if b := lr.limiter.Burst(); b < maxChunk {
		maxChunk = b
	}
	if len(p) > maxChunk {
		p = p[:maxChunk]
	}
	n, err := lr.r.Read(p)
	if n > 0 {
		if werr := lr.limiter.WaitN(lr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// newByteRateLimiter builds a token-bucket limiter for bytesPerSecond, or
// nil if unlimited. The burst size matches one second's allowance, the
// same "don't queue more than one second's worth" slop the teacher's
// InitBandwidthLimit used.
func newByteRateLimiter(bytesPerSecond int) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)
}
