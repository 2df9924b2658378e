package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/exp/slog"

	"tether/internal/app/client/config"
	"tether/internal/domain/conflict"
	"tether/internal/domain/outbox"
	"tether/internal/domain/replica"
	"tether/internal/domain/staging"
	syncdomain "tether/internal/domain/sync"
	"tether/internal/domain/table"
	"tether/internal/infrastructure/storage/sqlite"
)

// App собирает локальную реплику, очередь исходящих и движок синхронизации.
// Команды CLI работают с сервисами напрямую, демон запускается через Run.
type App struct {
	config *config.Config
	log    *slog.Logger
	store  *sqlite.Storage

	Session    *Session
	Remote     *RemoteClient
	Replica    *replica.Service
	Outbox     *outbox.Service
	Conflicts  *conflict.Service
	Committer  *syncdomain.Committer
	Puller     *syncdomain.Puller
	Acker      *syncdomain.Acker
	// Reconciler отменяет транзакции и возвращает записи к версии сервера
	Reconciler *syncdomain.Reconciler
	Engine     *Engine
	Monitor    *Monitor
	Realtime   *Realtime
	Staging    *staging.Service
	Processor  *staging.Processor
	Evictor    *replica.Evictor
	Estimator  *sqlite.Estimator

	wg     gosync.WaitGroup
	cancel context.CancelFunc
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	if err := cfg.EnsureDir(); err != nil {
		return nil, err
	}

	session, err := NewSession(cfg.TokenPath, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки сессии: %w", err)
	}

	store, err := sqlite.New(cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации хранилища: %w", err)
	}

	remote := NewRemoteClient(cfg, session, log)

	replicaRepo := sqlite.NewReplicaRepository(store)
	replicaSvc := replica.NewService(replicaRepo, log)
	outboxSvc := outbox.NewService(sqlite.NewOutboxRepository(store), log)
	conflictSvc := conflict.NewService(sqlite.NewConflictRepository(store), log)

	committer := syncdomain.NewCommitter(replicaSvc, outboxSvc, conflictSvc, store, log)
	pusher := syncdomain.NewPusher(remote, replicaSvc, outboxSvc, conflictSvc, store, syncdomain.PushConfig{
		RetryErrored: cfg.Retry.Errored,
		Retry:        outbox.RetryPolicy{Base: cfg.Retry.Base, Max: cfg.Retry.Max},
	}, log)
	puller := syncdomain.NewPuller(remote, replicaSvc, sqlite.NewStateRepository(store), store, log)
	acker := syncdomain.NewAcker(replicaSvc, outboxSvc, store, log)
	reconciler := syncdomain.NewReconciler(remote, replicaSvc, outboxSvc, store, log)

	orchestrator := syncdomain.NewOrchestrator(pusher, puller, reconciler, session, syncdomain.OrchestratorConfig{
		PushBatchSize: cfg.Sync.PushBatchSize,
		PullPageSize:  cfg.Sync.PullPageSize,
		PullMaxPages:  cfg.Sync.PullMaxPages,
	}, log)
	engine := NewEngine(orchestrator, outboxSvc, cfg.Sync.Interval, log)
	orchestrator.OnPhase(engine.SetPhase)

	stagingRepo := sqlite.NewStagingRepository(store)
	estimator := sqlite.NewEstimator(store, cfg.Storage.QuotaBytes)

	app := &App{
		config:     cfg,
		log:        log,
		store:      store,
		Session:    session,
		Remote:     remote,
		Replica:    replicaSvc,
		Outbox:     outboxSvc,
		Conflicts:  conflictSvc,
		Committer:  committer,
		Puller:     puller,
		Acker:      acker,
		Reconciler: reconciler,
		Engine:     engine,
		Monitor:    NewMonitor(remote, cfg.Sync.ConnectivityCheck, log),
		Realtime:   NewRealtime(remote.BaseURL(), session, acker, log),
		Staging:    staging.NewService(stagingRepo, committer, log),
		Processor:  staging.NewProcessor(stagingRepo, staging.NewYAMLExtractor(), log),
		Evictor: replica.NewEvictor(replicaRepo, estimator, replica.EvictionConfig{
			Threshold: cfg.Storage.EvictionThreshold,
			Target:    cfg.Storage.EvictionTarget,
		}, log),
		Estimator: estimator,
	}

	return app, nil
}

// Close закрывает локальную базу
func (a *App) Close() error {
	return a.store.Close()
}

// Run запускает демон синхронизации и блокируется до сигнала или отмены ctx
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	go a.handleSignals(ctx)

	// Движок работает только при наличии токена
	err := a.Session.Watch(ctx, func(authenticated bool) {
		if authenticated {
			a.startEngine(ctx)
			return
		}
		a.Engine.Stop()
	})
	if err != nil {
		return err
	}
	if a.Session.IsAuthenticated() {
		a.startEngine(ctx)
	} else {
		a.log.Warn("Токен не найден, синхронизация начнется после входа")
	}

	a.goRun(func() { a.Monitor.Run(ctx, a.Engine.SetOnline) })

	if a.config.Realtime {
		a.Realtime.OnState(func(connected bool) {
			if connected {
				a.Engine.SetOnline(true)
			}
		})
		a.goRun(func() { a.Realtime.Run(ctx) })
	}

	a.goRun(func() {
		if err := a.Processor.Run(ctx, time.Second); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("Обработчик очереди ввода остановлен", "error", err)
		}
	})

	scheduler, err := a.scheduleEviction(ctx)
	if err != nil {
		return err
	}

	a.log.Info("Клиент запущен",
		"server", a.Remote.BaseURL(),
		"env", a.config.Env,
		"interval", a.config.Sync.Interval,
	)

	<-ctx.Done()

	a.log.Info("Завершение работы клиента...")
	<-scheduler.Stop().Done()
	a.Engine.Stop()
	a.wg.Wait()
	a.log.Info("Клиент завершил работу")
	return nil
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *App) startEngine(ctx context.Context) {
	if err := a.Engine.Start(ctx); err != nil {
		a.log.Error("Не удалось запустить синхронизацию", "error", err)
	}
}

// scheduleEviction запускает периодическую очистку реплики по квоте
func (a *App) scheduleEviction(ctx context.Context) (*cron.Cron, error) {
	scheduler := cron.New()
	spec := "@every " + a.config.Storage.EvictionInterval.String()

	_, err := scheduler.AddFunc(spec, func() {
		res, err := a.Evictor.Run(ctx)
		if err != nil {
			a.log.Warn("Ошибка очистки хранилища", "error", err)
			return
		}
		if res.Evicted > 0 {
			a.log.Info("Хранилище очищено", "evicted", res.Evicted, "usage", res.After.Usage, "quota", res.After.Quota)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка планирования очистки: %w", err)
	}

	scheduler.Start()
	return scheduler, nil
}

func (a *App) handleSignals(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.log.Info("Получен сигнал завершения", "signal", sig.String())
		if a.cancel != nil {
			a.cancel()
		}
	case <-ctx.Done():
	}
}

// Shutdown прерывает Run
func (a *App) Shutdown() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// Login проверяет токен запросом к серверу и сохраняет его
func (a *App) Login(ctx context.Context, token string, verify bool) error {
	if verify {
		check := newRemoteClient(a.Remote.BaseURL(), plainToken(token), 0, a.log)
		if _, err := check.MaxSeq(ctx); err != nil {
			if errors.Is(err, syncdomain.ErrNotAuthenticated) {
				return errors.New("токен отклонен сервером")
			}
			return fmt.Errorf("не удалось проверить токен: %w", err)
		}
	}
	return a.Session.Save(token)
}

func (a *App) Logout() error {
	return a.Session.Clear()
}

type plainToken string

func (p plainToken) Token() string { return string(p) }

// CreateRecord создает запись локально и ставит ее в очередь на отправку
func (a *App) CreateRecord(ctx context.Context, name table.Name, fields table.Row) (*replica.Row, error) {
	return a.Committer.Create(ctx, name, fields)
}

func (a *App) UpdateRecord(ctx context.Context, name table.Name, id string, patch table.Row) (*replica.Row, error) {
	return a.Committer.Commit(ctx, syncdomain.Mutation{
		Table:    name,
		Op:       outbox.OpUpdate,
		RecordID: id,
		Payload:  patch,
	})
}

func (a *App) DeleteRecord(ctx context.Context, name table.Name, id string) (*replica.Row, error) {
	return a.Committer.Commit(ctx, syncdomain.Mutation{
		Table:    name,
		Op:       outbox.OpDelete,
		RecordID: id,
	})
}

func (a *App) GetRecord(ctx context.Context, name table.Name, id string) (*replica.Row, error) {
	return a.Replica.GetByID(ctx, name, id)
}

func (a *App) ListRecords(ctx context.Context, name table.Name, limit int) ([]replica.Row, error) {
	return a.Replica.ListByUpdatedAt(ctx, name, limit)
}

// SyncOnce выполняет один цикл синхронизации без запуска демона
func (a *App) SyncOnce(ctx context.Context) (syncdomain.TickResult, error) {
	return a.Engine.SyncNow(ctx)
}

// LocalStatus состояние синхронизации по данным локальной базы
type LocalStatus struct {
	Server           string           `json:"server"`
	Authenticated    bool             `json:"authenticated"`
	Cursor           int64            `json:"cursor"`
	PendingOutbox    int              `json:"pending_outbox"`
	ErroredOutbox    int              `json:"errored_outbox"`
	PendingConflicts int              `json:"pending_conflicts"`
	Storage          replica.Estimate `json:"storage"`
}

func (a *App) Status(ctx context.Context) (LocalStatus, error) {
	st := LocalStatus{
		Server:        a.Remote.BaseURL(),
		Authenticated: a.Session.IsAuthenticated(),
	}

	var err error
	if st.Cursor, err = a.Puller.Cursor(ctx); err != nil {
		return st, err
	}
	if st.PendingOutbox, err = a.Outbox.PendingCount(ctx); err != nil {
		return st, err
	}
	errored, err := a.Outbox.List(ctx, outbox.StatusError)
	if err != nil {
		return st, err
	}
	st.ErroredOutbox = len(errored)
	if st.PendingConflicts, err = a.Conflicts.CountPending(ctx); err != nil {
		return st, err
	}
	if st.Storage, err = a.Estimator.Estimate(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// CheckConnection проверяет соединение с сервером
func (a *App) CheckConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return a.Remote.HealthCheck(ctx)
}

type appKey struct{}

// WithApp кладет приложение в контекст команды
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey{}, app)
}

// FromContext достает приложение из контекста команды
func FromContext(ctx context.Context) (*App, error) {
	app, ok := ctx.Value(appKey{}).(*App)
	if !ok || app == nil {
		return nil, errors.New("приложение не инициализировано")
	}
	return app, nil
}
