package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	syncdomain "tether/internal/domain/sync"
)

// Ticker выполняет один цикл синхронизации (push, затем pull)
type Ticker interface {
	Tick(ctx context.Context) (syncdomain.TickResult, error)
}

type outboxState interface {
	PendingCount(ctx context.Context) (int, error)
	RecoverInFlight(ctx context.Context) (int, error)
}

// Status снимок состояния движка синхронизации
type Status struct {
	State         syncdomain.Phase       `json:"state"`
	Online        bool                   `json:"online"`
	Running       bool                   `json:"running"`
	LastSyncAt    *time.Time             `json:"last_sync_at,omitempty"`
	LastError     string                 `json:"last_error,omitempty"`
	PendingOutbox int                    `json:"pending_outbox"`
	LastResult    *syncdomain.TickResult `json:"last_result,omitempty"`
}

// Engine запускает циклы синхронизации по таймеру и при восстановлении связи.
// Циклы никогда не пересекаются, ошибки цикла попадают в Status.LastError.
type Engine struct {
	ticker   Ticker
	outbox   outboxState
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}
}

func NewEngine(ticker Ticker, outbox outboxState, interval time.Duration, log *slog.Logger) *Engine {
	return &Engine{
		ticker:   ticker,
		outbox:   outbox,
		interval: interval,
		log:      log.With("component", "engine"),
		now:      func() time.Time { return time.Now().UTC() },
		status:   Status{State: syncdomain.PhaseIdle, Online: true},
		wake:     make(chan struct{}, 1),
	}
}

// Start запускает цикл синхронизации; повторный вызов ничего не делает.
// Транзакции, зависшие в in_flight после аварийного завершения, возвращаются в очередь.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return nil
	}

	recovered, err := e.outbox.RecoverInFlight(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		e.log.Info("Возвращены незавершенные транзакции", "count", recovered)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.status.Running = true

	go e.loop(loopCtx, e.done)

	e.log.Info("Синхронизация запущена", "interval", e.interval)
	return nil
}

// Stop останавливает цикл и дожидается завершения текущего тика
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	e.mu.Lock()
	e.status.Running = false
	e.status.State = syncdomain.PhaseIdle
	e.mu.Unlock()

	e.log.Info("Синхронизация остановлена")
}

// SetOnline обновляет состояние связи; переход в online запускает внеочередной тик
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	wasOnline := e.status.Online
	e.status.Online = online
	e.mu.Unlock()

	if online && !wasOnline {
		e.Trigger()
	}
}

// Trigger просит цикл выполнить тик как можно скорее
func (e *Engine) Trigger() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// SetPhase получает переходы фаз от оркестратора
func (e *Engine) SetPhase(phase syncdomain.Phase) {
	e.mu.Lock()
	e.status.State = phase
	e.mu.Unlock()
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runTick(ctx)
		case <-e.wake:
			e.runTick(ctx)
		}
	}
}

func (e *Engine) runTick(ctx context.Context) {
	if !e.Status().Online {
		e.log.Debug("Нет связи с сервером, тик пропущен")
		return
	}
	_, _ = e.SyncNow(ctx)
}

// SyncNow выполняет один тик синхронно и записывает результат в Status
func (e *Engine) SyncNow(ctx context.Context) (syncdomain.TickResult, error) {
	res, err := e.ticker.Tick(ctx)
	if errors.Is(err, syncdomain.ErrTickInProgress) {
		e.log.Debug("Тик уже выполняется, пропускаем")
		return res, err
	}

	pending, countErr := e.outbox.PendingCount(ctx)
	if countErr != nil {
		e.log.Warn("Не удалось посчитать очередь исходящих", "error", countErr)
	}

	e.mu.Lock()
	if countErr == nil {
		e.status.PendingOutbox = pending
	}
	if err != nil {
		e.status.LastError = err.Error()
		if IsOffline(err) && ctx.Err() == nil {
			e.status.Online = false
		}
	} else {
		now := e.now()
		e.status.LastSyncAt = &now
		e.status.LastError = ""
		e.status.LastResult = &res
	}
	e.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			e.log.Warn("Ошибка синхронизации", "error", err)
		}
		return res, err
	}

	e.log.Debug("Тик завершен",
		"pushed", res.Push.Applied,
		"conflicts", res.Push.Conflicts,
		"pulled", res.Pull.Applied,
		"cursor", res.Pull.Cursor,
	)
	return res, nil
}
