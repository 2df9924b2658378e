package sqlite

import (
	"context"
	"fmt"

	"tether/internal/domain/replica"
)

// Estimator measures the live pages of the database file against a quota.
type Estimator struct {
	s     *Storage
	quota int64
}

func NewEstimator(s *Storage, quotaBytes int64) *Estimator {
	return &Estimator{s: s, quota: quotaBytes}
}

func (e *Estimator) Estimate(ctx context.Context) (replica.Estimate, error) {
	var pages, free, size int64
	c := e.s.conn(ctx)

	if err := c.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return replica.Estimate{}, fmt.Errorf("failed to read page_count: %w", err)
	}
	if err := c.QueryRowContext(ctx, `PRAGMA freelist_count`).Scan(&free); err != nil {
		return replica.Estimate{}, fmt.Errorf("failed to read freelist_count: %w", err)
	}
	if err := c.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&size); err != nil {
		return replica.Estimate{}, fmt.Errorf("failed to read page_size: %w", err)
	}

	return replica.Estimate{
		Quota: e.quota,
		Usage: (pages - free) * size,
	}, nil
}
