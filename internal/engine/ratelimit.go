package engine

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewBWLimiter creates a rate.Limiter that caps aggregate throughput to
// bytesPerSec. The burst is 1 MB so whole read chunks pass without
// blocking on every small read.
func NewBWLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20 // 1 MB
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// rateLimitedReader wraps an io.Reader and enforces a shared rate limit.
type rateLimitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

// newRateLimitedReader wraps r so that reads are throttled by limiter.
func newRateLimitedReader(
	ctx context.Context,
	r io.Reader,
	limiter *rate.Limiter,
) *rateLimitedReader {
	return &rateLimitedReader{r: r, limiter: limiter, ctx: ctx}
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	if len(p) > rl.limiter.Burst() {
		p = p[:rl.limiter.Burst()]
	}
	n, err := rl.r.Read(p)
	if n > 0 {
		if waitErr := rl.limiter.WaitN(rl.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}
