package replica

import (
	"context"
	"fmt"

	"golang.org/x/exp/slog"
)

// Estimate is the storage footprint of the local database.
type Estimate struct {
	Quota int64 `json:"quota"`
	Usage int64 `json:"usage"`
}

// Ratio returns usage/quota, or 0 when no quota is configured.
func (e Estimate) Ratio() float64 {
	if e.Quota <= 0 {
		return 0
	}
	return float64(e.Usage) / float64(e.Quota)
}

type Estimator interface {
	Estimate(ctx context.Context) (Estimate, error)
}

type EvictionConfig struct {
	// Threshold starts eviction once usage/quota reaches it.
	Threshold float64
	// Target is the ratio eviction tries to get back under.
	Target    float64
	BatchSize int
}

func DefaultEvictionConfig() EvictionConfig {
	return EvictionConfig{
		Threshold: 0.9,
		Target:    0.75,
		BatchSize: 200,
	}
}

type EvictionResult struct {
	Before  Estimate `json:"before"`
	After   Estimate `json:"after"`
	Evicted int      `json:"evicted"`
}

// Evictor frees local storage by dropping least recently accessed clean rows.
// Dirty rows and rows with pending outbox work are never candidates.
type Evictor struct {
	repo      Repository
	estimator Estimator
	cfg       EvictionConfig
	log       *slog.Logger
}

func NewEvictor(repo Repository, estimator Estimator, cfg EvictionConfig, log *slog.Logger) *Evictor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultEvictionConfig().BatchSize
	}
	if cfg.Target <= 0 || cfg.Target > cfg.Threshold {
		cfg.Target = cfg.Threshold
	}
	return &Evictor{
		repo:      repo,
		estimator: estimator,
		cfg:       cfg,
		log:       log.With("component", "eviction"),
	}
}

func (e *Evictor) Run(ctx context.Context) (EvictionResult, error) {
	before, err := e.estimator.Estimate(ctx)
	if err != nil {
		return EvictionResult{}, fmt.Errorf("failed to estimate storage: %w", err)
	}

	result := EvictionResult{Before: before, After: before}
	if before.Quota <= 0 || before.Ratio() < e.cfg.Threshold {
		return result, nil
	}

	e.log.Info("storage quota pressure, evicting",
		"usage", before.Usage, "quota", before.Quota, "ratio", before.Ratio())

	current := before
	for current.Ratio() > e.cfg.Target {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		keys, err := e.repo.EvictionCandidates(ctx, e.cfg.BatchSize)
		if err != nil {
			return result, fmt.Errorf("failed to select eviction candidates: %w", err)
		}
		if len(keys) == 0 {
			e.log.Warn("nothing left to evict", "ratio", current.Ratio())
			break
		}

		n, err := e.repo.DeleteKeys(ctx, keys)
		if err != nil {
			return result, fmt.Errorf("failed to evict rows: %w", err)
		}
		result.Evicted += n
		if n == 0 {
			break
		}

		current, err = e.estimator.Estimate(ctx)
		if err != nil {
			return result, fmt.Errorf("failed to estimate storage: %w", err)
		}
		result.After = current
	}

	e.log.Info("eviction finished", "evicted", result.Evicted, "ratio", result.After.Ratio())
	return result, nil
}
