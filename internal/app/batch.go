package app

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runBatch applies fn to every id concurrently. A failed item is logged and
// recorded; its siblings still run. The result is nil or a *BatchError
// returned after every item finished.
func (s *Service) runBatch(ctx context.Context, op string, ids []string, fn func(ctx context.Context, i int, id string) error) error {
	var (
		mu     sync.Mutex
		failed = map[string]error{}
		g      errgroup.Group
	)
	g.SetLimit(s.batchLimit)
	for i, id := range ids {
		g.Go(func() error {
			if err := fn(ctx, i, id); err != nil {
				s.logger.Warn("batch item failed",
					zap.String("op", op),
					zap.String("id", id),
					zap.Error(err),
				)
				mu.Lock()
				failed[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		return nil
	}
	return &BatchError{Op: op, Total: len(ids), Failed: failed}
}
