package sync

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/exp/slog"

	"tether/internal/domain/replica"
	"tether/internal/domain/table"
)

// Puller mirrors the server change log into the replica.
type Puller struct {
	remote  RemoteStore
	replica replica.Servicer
	state   StateRepository
	tx      Transactor
	tracked map[table.Name]bool
	log     *slog.Logger
}

func NewPuller(remote RemoteStore, replicaSvc replica.Servicer, state StateRepository, tx Transactor, log *slog.Logger) *Puller {
	tracked := make(map[table.Name]bool, len(table.All))
	for _, name := range table.All {
		tracked[name] = true
	}
	return &Puller{
		remote:  remote,
		replica: replicaSvc,
		state:   state,
		tx:      tx,
		tracked: tracked,
		log:     log.With("component", "pull"),
	}
}

// Cursor returns the last applied change-log seq, 0 before bootstrap.
func (p *Puller) Cursor(ctx context.Context) (int64, error) {
	raw, ok, err := p.state.GetState(ctx, CursorKey)
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor: %w", err)
	}
	if !ok || raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse cursor %q: %w", raw, err)
	}
	return seq, nil
}

// Bootstrapped reports whether a snapshot has been loaded. Replicas that
// already hold a cursor count as bootstrapped.
func (p *Puller) Bootstrapped(ctx context.Context) (bool, error) {
	_, ok, err := p.state.GetState(ctx, BootstrappedKey)
	if err != nil {
		return false, fmt.Errorf("failed to read bootstrap mark: %w", err)
	}
	if ok {
		return true, nil
	}
	cursor, err := p.Cursor(ctx)
	if err != nil {
		return false, err
	}
	return cursor > 0, nil
}

// advance stores seq unless the stored cursor is already at or past it.
func (p *Puller) advance(ctx context.Context, seq int64) (int64, error) {
	current, err := p.Cursor(ctx)
	if err != nil {
		return 0, err
	}
	if seq <= current {
		return current, nil
	}
	if err := p.state.SetState(ctx, CursorKey, strconv.FormatInt(seq, 10)); err != nil {
		return 0, fmt.Errorf("failed to store cursor: %w", err)
	}
	return seq, nil
}

// PullOnce applies one page of changes past the cursor, bootstrapping first
// when no snapshot has been loaded yet.
func (p *Puller) PullOnce(ctx context.Context, pageSize int) (PullResult, error) {
	bootstrapped, err := p.Bootstrapped(ctx)
	if err != nil {
		return PullResult{}, err
	}
	if !bootstrapped {
		return p.Bootstrap(ctx, pageSize)
	}

	cursor, err := p.Cursor(ctx)
	if err != nil {
		return PullResult{}, err
	}

	entries, err := p.remote.ChangesSince(ctx, cursor, pageSize)
	if err != nil {
		return PullResult{Cursor: cursor}, fmt.Errorf("failed to fetch changes since %d: %w", cursor, err)
	}
	if len(entries) == 0 {
		return PullResult{Cursor: cursor}, nil
	}

	res := PullResult{HasMore: len(entries) == pageSize}
	err = p.tx.WithinTx(ctx, func(ctx context.Context) error {
		applied, err := p.applyEntries(ctx, entries)
		if err != nil {
			return err
		}
		res.Applied = applied

		last := entries[0].Seq
		for _, e := range entries {
			if e.Seq > last {
				last = e.Seq
			}
		}
		res.Cursor, err = p.advance(ctx, last)
		return err
	})
	if err != nil {
		return PullResult{Cursor: cursor}, fmt.Errorf("failed to apply changes: %w", err)
	}

	p.log.Debug("changes applied", "entries", len(entries), "applied", res.Applied, "cursor", res.Cursor)
	return res, nil
}

// applyEntries collapses the page to the latest entry per record, then
// writes each table in one call.
func (p *Puller) applyEntries(ctx context.Context, entries []ChangeLogEntry) (int, error) {
	type tableBatch struct {
		order []string
		last  map[string]ChangeLogEntry
	}

	var names []table.Name
	batches := make(map[table.Name]*tableBatch)

	for _, e := range entries {
		name := table.Name(e.TableName)
		if !p.tracked[name] {
			p.log.Debug("skipping change for untracked table", "table", e.TableName, "seq", e.Seq)
			continue
		}
		if e.RecordID == "" {
			continue
		}
		b, ok := batches[name]
		if !ok {
			b = &tableBatch{last: make(map[string]ChangeLogEntry)}
			batches[name] = b
			names = append(names, name)
		}
		if _, seen := b.last[e.RecordID]; !seen {
			b.order = append(b.order, e.RecordID)
		}
		b.last[e.RecordID] = e
	}

	applied := 0
	for _, name := range names {
		b := batches[name]

		var (
			upserts []table.Row
			removes []string
		)
		for _, id := range b.order {
			e := b.last[id]
			if e.Operation == OperationDelete || e.RowData == nil {
				removes = append(removes, id)
				continue
			}
			row := e.RowData.Clone()
			if row.ID() == "" {
				row[table.ColumnID] = id
			}
			upserts = append(upserts, row)
		}

		n, err := p.replica.UpsertMany(ctx, name, upserts)
		if err != nil {
			return 0, err
		}
		applied += n

		n, err = p.replica.RemoveMany(ctx, name, removes)
		if err != nil {
			return 0, err
		}
		applied += n
	}
	return applied, nil
}

// Bootstrap loads a full snapshot of every tracked table. The change-log
// head is read before the snapshot so changes made during it are pulled
// again afterwards rather than lost.
func (p *Puller) Bootstrap(ctx context.Context, pageSize int) (PullResult, error) {
	head, err := p.remote.MaxSeq(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("failed to read change log head: %w", err)
	}

	res := PullResult{Bootstrapped: true}
	for _, name := range table.All {
		after := ""
		for {
			rows, err := p.remote.FetchTable(ctx, name, after, pageSize)
			if err != nil {
				return PullResult{}, fmt.Errorf("failed to fetch %s snapshot: %w", name, err)
			}
			if len(rows) == 0 {
				break
			}

			n, err := p.replica.UpsertMany(ctx, name, rows)
			if err != nil {
				return PullResult{}, err
			}
			res.Applied += n

			if len(rows) < pageSize {
				break
			}
			after = rows[len(rows)-1].ID()
		}
	}

	err = p.tx.WithinTx(ctx, func(ctx context.Context) error {
		cursor, err := p.advance(ctx, head)
		if err != nil {
			return err
		}
		res.Cursor = cursor
		if err := p.state.SetState(ctx, BootstrappedKey, strconv.FormatInt(head, 10)); err != nil {
			return fmt.Errorf("failed to store bootstrap mark: %w", err)
		}
		return nil
	})
	if err != nil {
		return PullResult{}, err
	}
	res.HasMore = head > 0

	p.log.Info("bootstrap finished", "rows", res.Applied, "cursor", res.Cursor)
	return res, nil
}

// Drain pulls up to maxPages pages, stopping early on a short page.
func (p *Puller) Drain(ctx context.Context, maxPages, pageSize int) (DrainResult, error) {
	var res DrainResult
	for res.Pages < maxPages {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		page, err := p.PullOnce(ctx, pageSize)
		if err != nil {
			return res, err
		}
		res.Pages++
		res.Applied += page.Applied
		res.Cursor = page.Cursor
		res.HasMore = page.HasMore

		if !page.HasMore {
			break
		}
	}
	return res, nil
}
