package staging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"tether/internal/domain/table"
)

// Processor works the input queue one item at a time. Cancellation is
// cooperative: a processing item notices it between extraction steps.
type Processor struct {
	repo      Repository
	extractor Extractor
	factory   *table.Factory
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wake    chan struct{}
}

func NewProcessor(repo Repository, extractor Extractor, log *slog.Logger) *Processor {
	return &Processor{
		repo:      repo,
		extractor: extractor,
		factory:   table.NewFactory(),
		log:       log.With("component", "staging"),
		now:       func() time.Time { return time.Now().UTC() },
		running:   make(map[string]context.CancelFunc),
		wake:      make(chan struct{}, 1),
	}
}

// Submit appends text to the queue.
func (p *Processor) Submit(ctx context.Context, text string, meta map[string]any) (*QueueItem, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	pos, err := p.repo.NextPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate queue position: %w", err)
	}

	now := p.now()
	item := QueueItem{
		InputID:   uuid.NewString(),
		CreatedAt: now,
		Text:      text,
		Context:   meta,
		Status:    QueuePending,
		Position:  pos,
		UpdatedAt: now,
	}
	if err := p.repo.InsertItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to queue input: %w", err)
	}

	select {
	case p.wake <- struct{}{}:
	default:
	}

	p.log.Debug("input queued", "input_id", item.InputID, "position", pos)
	return &item, nil
}

// Cancel stops an item. Pending items are canceled at once; a processing
// item is signalled and becomes canceled at its next checkpoint.
func (p *Processor) Cancel(ctx context.Context, inputID string) error {
	item, err := p.repo.GetItem(ctx, inputID)
	if err != nil {
		return err
	}

	switch item.Status {
	case QueuePending:
		return p.finish(ctx, *item, QueueCanceled, nil, nil)

	case QueueProcessing:
		p.mu.Lock()
		cancel, ok := p.running[inputID]
		p.mu.Unlock()
		if ok {
			cancel()
			p.log.Info("cancellation requested", "input_id", inputID)
			return nil
		}
		// Nobody is working on it, e.g. left over from a crash.
		return p.finish(ctx, *item, QueueCanceled, nil, nil)

	default:
		return fmt.Errorf("%w: cannot cancel %s item", ErrInvalidTransition, item.Status)
	}
}

// ProcessNext handles the oldest pending item. It reports false when the
// queue is empty.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	item, err := p.repo.NextPending(ctx)
	if errors.Is(err, ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	item.Status = QueueProcessing
	item.UpdatedAt = p.now()
	if err := p.repo.UpdateItem(ctx, *item); err != nil {
		return false, fmt.Errorf("failed to claim input: %w", err)
	}

	itemCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.running[item.InputID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, item.InputID)
		p.mu.Unlock()
		cancel()
	}()

	staged, err := p.extract(itemCtx, *item)

	// Parent shutdown puts the item back for the next run.
	if ctx.Err() != nil {
		item.Status = QueuePending
		item.UpdatedAt = p.now()
		return true, p.repo.UpdateItem(context.WithoutCancel(ctx), *item)
	}
	if itemCtx.Err() != nil {
		p.log.Info("input canceled", "input_id", item.InputID)
		return true, p.finish(ctx, *item, QueueCanceled, nil, nil)
	}
	if err != nil {
		msg := err.Error()
		p.log.Warn("extraction failed", "input_id", item.InputID, "error", err)
		return true, p.finish(ctx, *item, QueueFailed, nil, &msg)
	}

	for _, row := range staged {
		if err := p.repo.InsertStaged(ctx, row); err != nil {
			return true, fmt.Errorf("failed to stage row: %w", err)
		}
	}

	result := fmt.Sprintf("%d rows staged", len(staged))
	p.log.Info("input processed", "input_id", item.InputID, "staged", len(staged))
	return true, p.finish(ctx, *item, QueueCompleted, &result, nil)
}

func (p *Processor) extract(ctx context.Context, item QueueItem) ([]StagedRow, error) {
	candidates, err := p.extractor.Extract(ctx, item)
	if err != nil {
		return nil, err
	}

	staged := make([]StagedRow, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row := c.Row.Clone()
		if row == nil {
			row = table.Row{}
		}
		if row.ID() == "" {
			row[table.ColumnID] = uuid.NewString()
		}

		origin := c.Origin
		staged = append(staged, StagedRow{
			StagedID:         uuid.NewString(),
			CreatedAt:        p.now(),
			InputID:          item.InputID,
			Table:            c.Table,
			ProposedRow:      row,
			Status:           StagedProposed,
			ValidationErrors: validationErrors(p.factory, c.Table, row),
			OriginLabel:      &origin,
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return staged, nil
}

func (p *Processor) finish(ctx context.Context, item QueueItem, status QueueStatus, result, errMsg *string) error {
	item.Status = status
	item.Result = result
	item.Error = errMsg
	item.UpdatedAt = p.now()
	if err := p.repo.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to update input: %w", err)
	}
	return nil
}

// Run processes the queue until ctx is done.
func (p *Processor) Run(ctx context.Context, idle time.Duration) error {
	if idle <= 0 {
		idle = time.Second
	}
	ticker := time.NewTicker(idle)
	defer ticker.Stop()

	for {
		processed, err := p.ProcessNext(ctx)
		if err != nil {
			p.log.Error("queue processing failed", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if processed && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// Drain processes pending items until the queue is empty.
func (p *Processor) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		processed, err := p.ProcessNext(ctx)
		if err != nil {
			return n, err
		}
		if !processed {
			return n, nil
		}
		n++
	}
}

func validationErrors(f *table.Factory, name table.Name, row table.Row) []string {
	if err := f.Validate(name, row); err != nil {
		return []string{err.Error()}
	}
	return nil
}
