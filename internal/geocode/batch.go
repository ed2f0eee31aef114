package geocode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchResult is the outcome for one address of a batch. Result is nil
// when Success is false.
type BatchResult struct {
	Address
	*Result
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ProgressFunc receives the number of finished addresses and the total.
type ProgressFunc func(completed, total int)

// GeocodeBatch geocodes addresses in chunks, resolving each chunk
// concurrently and pausing between chunks. Per-address failures are
// recorded in the result; only cancellation of ctx aborts the batch.
// Results are in input order.
func (s *Service) GeocodeBatch(ctx context.Context, addrs []Address, onProgress ProgressFunc) ([]BatchResult, error) {
	results := make([]BatchResult, len(addrs))
	total := len(addrs)

	var (
		mu        sync.Mutex
		completed int
	)
	progress := func() {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if onProgress != nil {
			onProgress(completed, total)
		}
	}

	for start := 0; start < total; start += s.batchSize {
		end := min(start+s.batchSize, total)

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := s.Geocode(ctx, addrs[i])
				if err != nil {
					results[i] = BatchResult{Address: addrs[i], Error: err.Error()}
				} else {
					results[i] = BatchResult{Address: addrs[i], Result: res, Success: true}
				}
				progress()
				return nil
			})
		}
		g.Wait() //nolint:errcheck

		if end < total {
			t := time.NewTimer(s.minInterval)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			}
		}
	}

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	s.logger.Info("geocode: batch finished", slog.Int("total", total), slog.Int("succeeded", ok))
	return results, nil
}
