package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	dErrors "custody/pkg/domain-errors"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes    int32
	Reused       int32
	Insufficient int32
	Errors       int32
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Reused + r.Insufficient + r.Errors
}

// RunConcurrent runs fn in goroutines, released together, and sorts results
// by domain code: authorization_reused, insufficient_funds, or other errors.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, reused, insufficient, errs atomic.Int32
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeAuthorizationReused):
				reused.Add(1)
			case dErrors.HasCode(err, dErrors.CodeInsufficientFunds):
				insufficient.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes:    successes.Load(),
		Reused:       reused.Load(),
		Insufficient: insufficient.Load(),
		Errors:       errs.Load(),
	}
}

// RunConcurrentCtx is RunConcurrent with a shared context.
func RunConcurrentCtx(ctx context.Context, goroutines int, fn func(ctx context.Context, idx int) error) *ConcurrentResult {
	return RunConcurrent(goroutines, func(idx int) error {
		return fn(ctx, idx)
	})
}
