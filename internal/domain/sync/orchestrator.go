package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"golang.org/x/exp/slog"
)

type OrchestratorConfig struct {
	PushBatchSize int
	PullPageSize  int
	PullMaxPages  int
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		PushBatchSize: 50,
		PullPageSize:  500,
		PullMaxPages:  5,
	}
}

// Orchestrator runs one sync cycle: push the outbox, pull the change log,
// then refetch rows whose local edits were abandoned.
type Orchestrator struct {
	pusher     *Pusher
	puller     *Puller
	reconciler *Reconciler
	auth       AuthProvider
	cfg    OrchestratorConfig
	log    *slog.Logger

	mu      stdsync.Mutex
	onPhase func(Phase)
}

func NewOrchestrator(
	pusher *Pusher,
	puller *Puller,
	reconciler *Reconciler,
	auth AuthProvider,
	cfg OrchestratorConfig,
	log *slog.Logger,
) *Orchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.PushBatchSize <= 0 {
		cfg.PushBatchSize = def.PushBatchSize
	}
	if cfg.PullPageSize <= 0 {
		cfg.PullPageSize = def.PullPageSize
	}
	if cfg.PullMaxPages <= 0 {
		cfg.PullMaxPages = def.PullMaxPages
	}
	return &Orchestrator{
		pusher:     pusher,
		puller:     puller,
		reconciler: reconciler,
		auth:       auth,
		cfg:        cfg,
		log:        log.With("component", "orchestrator"),
		onPhase:    func(Phase) {},
	}
}

// OnPhase registers a callback for phase transitions. Set it before ticking.
func (o *Orchestrator) OnPhase(fn func(Phase)) {
	if fn == nil {
		fn = func(Phase) {}
	}
	o.onPhase = fn
}

// Tick never overlaps with itself; a concurrent call gets ErrTickInProgress.
func (o *Orchestrator) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	if o.auth != nil && !o.auth.IsAuthenticated() {
		return res, ErrNotAuthenticated
	}
	if !o.mu.TryLock() {
		return res, ErrTickInProgress
	}
	defer o.mu.Unlock()
	defer o.onPhase(PhaseIdle)

	o.onPhase(PhasePush)
	push, err := o.pusher.DrainOnce(ctx, o.cfg.PushBatchSize)
	res.Push = push
	if err != nil {
		return res, fmt.Errorf("push: %w", err)
	}

	o.onPhase(PhasePull)
	pull, err := o.puller.Drain(ctx, o.cfg.PullMaxPages, o.cfg.PullPageSize)
	res.Pull = pull
	if err != nil {
		return res, fmt.Errorf("pull: %w", err)
	}

	if o.reconciler != nil {
		o.onPhase(PhaseReconcile)
		refreshed, err := o.reconciler.Refresh(ctx, o.cfg.PushBatchSize)
		res.Refreshed = refreshed
		if err != nil {
			return res, fmt.Errorf("reconcile: %w", err)
		}
	}

	o.log.Debug("tick finished",
		"pushed", push.Applied,
		"conflicts", push.Conflicts,
		"pulled", pull.Applied,
		"pages", pull.Pages,
		"cursor", pull.Cursor,
		"refreshed", res.Refreshed,
	)
	return res, nil
}
