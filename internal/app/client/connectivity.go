package client

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"
)

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Monitor периодически опрашивает /health. onChange получает результат каждой
// проверки, в лог попадают только переходы online/offline.
type Monitor struct {
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	// 0 неизвестно, 1 online, 2 offline
	state atomic.Int32
}

func NewMonitor(checker HealthChecker, interval time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{
		checker:  checker,
		interval: interval,
		timeout:  5 * time.Second,
		log:      log.With("component", "connectivity"),
	}
}

// Check выполняет одну проверку и передает результат в onChange
func (m *Monitor) Check(ctx context.Context, onChange func(online bool)) bool {
	checkCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.checker.HealthCheck(checkCtx)
	online := err == nil

	next := int32(2)
	if online {
		next = 1
	}
	if prev := m.state.Swap(next); prev != next {
		if online {
			m.log.Info("Сервер доступен")
		} else {
			m.log.Warn("Сервер недоступен", "error", err)
		}
	}
	onChange(online)
	return online
}

// Run проверяет доступность сразу и затем каждые interval до отмены ctx
func (m *Monitor) Run(ctx context.Context, onChange func(online bool)) {
	m.Check(ctx, onChange)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx, onChange)
		}
	}
}
