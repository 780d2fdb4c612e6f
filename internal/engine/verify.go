package engine

import (
	"context"
	"sync"
	"time"

	"github.com/bamsammich/keep/internal/event"
	"github.com/bamsammich/keep/internal/stats"
)

// VerifyConfig controls the post-copy verification pass.
type VerifyConfig struct {
	Pairs   []CopiedFile
	Workers int
	Events  chan<- event.Event
	Stats   stats.Writer
	Now     func() time.Time
}

// CopiedFile is one file written during a run, paired with its source.
type CopiedFile struct {
	Rel     string
	SrcPath string
	DstPath string
}

// VerifyResult holds the outcome of a verification pass.
type VerifyResult struct {
	Verified int64
	Failed   int64
	Errors   []VerifyError
}

// VerifyError records a single checksum mismatch.
type VerifyError struct {
	Path    string
	SrcHash string
	DstHash string
	Err     error
}

func (r *VerifyResult) fail(e VerifyError) {
	r.Failed++
	r.Errors = append(r.Errors, e)
}

// Verify compares BLAKE3 checksums of every copied file against its
// source. It fans out to cfg.Workers goroutines.
func Verify(ctx context.Context, cfg VerifyConfig) VerifyResult {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	taskCh := make(chan CopiedFile, workers*2)
	var mu sync.Mutex
	var result VerifyResult
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range taskCh {
				if ctx.Err() != nil {
					continue
				}
				verr, ok := verifyPair(f)
				mu.Lock()
				if ok {
					result.Verified++
				} else {
					result.fail(verr)
				}
				mu.Unlock()

				if ok {
					cfg.Stats.AddFilesVerified(1)
					emitEvent(ctx, cfg.Events, event.Event{Type: event.VerifyOK, Timestamp: now(), Path: f.Rel})
					continue
				}
				cfg.Stats.AddFilesVerifyFailed(1)
				emitEvent(ctx, cfg.Events, event.Event{
					Type:      event.VerifyFailed,
					Timestamp: now(),
					Path:      f.Rel,
					Artifact:  f.DstPath,
					Error:     verr.Err,
				})
			}
		}()
	}

	for _, f := range cfg.Pairs {
		if ctx.Err() != nil {
			break
		}
		taskCh <- f
	}
	close(taskCh)
	wg.Wait()

	return result
}

func verifyPair(f CopiedFile) (VerifyError, bool) {
	srcHash, err := HashFile(f.SrcPath)
	if err != nil {
		return VerifyError{Path: f.Rel, SrcHash: "error", DstHash: "n/a", Err: err}, false
	}
	dstHash, err := HashFile(f.DstPath)
	if err != nil {
		return VerifyError{Path: f.Rel, SrcHash: srcHash, DstHash: "error", Err: err}, false
	}
	if srcHash != dstHash {
		return VerifyError{Path: f.Rel, SrcHash: srcHash, DstHash: dstHash}, false
	}
	return VerifyError{}, true
}

// emitEvent delivers e unless ch is nil or ctx is done.
func emitEvent(ctx context.Context, ch chan<- event.Event, e event.Event) {
	if ch == nil {
		return
	}
	select {
	case ch <- e:
	case <-ctx.Done():
	}
}
