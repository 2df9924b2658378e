package staging

import (
	"context"
	"fmt"

	"golang.org/x/exp/slog"

	"tether/internal/domain/replica"
	"tether/internal/domain/table"
)

// Committer creates local records from accepted rows.
type Committer interface {
	Create(ctx context.Context, name table.Name, fields table.Row) (*replica.Row, error)
}

// Service handles review of staged rows and their hand-off to the outbox.
type Service struct {
	repo      Repository
	committer Committer
	factory   *table.Factory
	log       *slog.Logger
}

func NewService(repo Repository, committer Committer, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		committer: committer,
		factory:   table.NewFactory(),
		log:       log.With("component", "staging"),
	}
}

func (s *Service) ListItems(ctx context.Context, status QueueStatus) ([]QueueItem, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	return s.repo.ListItems(ctx, status)
}

func (s *Service) ListStaged(ctx context.Context, status StagedStatus, inputID string) ([]StagedRow, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	return s.repo.ListStaged(ctx, status, inputID)
}

// Accept marks a staged row for commit. Rows failing validation stay put.
func (s *Service) Accept(ctx context.Context, stagedID string) error {
	row, err := s.load(ctx, stagedID, StagedProposed, StagedEdited, StagedRejected)
	if err != nil {
		return err
	}

	row.ValidationErrors = validationErrors(s.factory, row.Table, row.ProposedRow)
	if len(row.ValidationErrors) > 0 {
		if err := s.repo.UpdateStaged(ctx, *row); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrInvalidRow, row.ValidationErrors[0])
	}

	row.Status = StagedAccepted
	return s.repo.UpdateStaged(ctx, *row)
}

func (s *Service) Reject(ctx context.Context, stagedID string) error {
	row, err := s.load(ctx, stagedID, StagedProposed, StagedEdited, StagedAccepted)
	if err != nil {
		return err
	}
	row.Status = StagedRejected
	return s.repo.UpdateStaged(ctx, *row)
}

// Edit merges patch into the proposed row and revalidates it.
func (s *Service) Edit(ctx context.Context, stagedID string, patch table.Row) (*StagedRow, error) {
	row, err := s.load(ctx, stagedID, StagedProposed, StagedEdited, StagedAccepted, StagedRejected)
	if err != nil {
		return nil, err
	}

	id := row.ProposedRow.ID()
	row.ProposedRow = row.ProposedRow.Merge(patch)
	if id != "" {
		row.ProposedRow[table.ColumnID] = id
	}
	row.Status = StagedEdited
	row.ValidationErrors = validationErrors(s.factory, row.Table, row.ProposedRow)

	if err := s.repo.UpdateStaged(ctx, *row); err != nil {
		return nil, err
	}
	return row, nil
}

// CommitAccepted turns every accepted row into a local insert. A failing row
// is reported and left accepted; the rest still commit.
func (s *Service) CommitAccepted(ctx context.Context) (CommitResult, error) {
	var res CommitResult

	rows, err := s.repo.ListStaged(ctx, StagedAccepted, "")
	if err != nil {
		return res, fmt.Errorf("failed to list accepted rows: %w", err)
	}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if _, err := s.committer.Create(ctx, row.Table, row.ProposedRow); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, CommitError{StagedID: row.StagedID, Error: err.Error()})
			s.log.Warn("staged row not committed", "staged_id", row.StagedID, "error", err)
			continue
		}

		row.Status = StagedCommitted
		if err := s.repo.UpdateStaged(ctx, row); err != nil {
			return res, fmt.Errorf("failed to mark staged row committed: %w", err)
		}
		res.Committed++
	}

	if len(rows) > 0 {
		s.log.Info("staged rows committed", "committed", res.Committed, "failed", res.Failed)
	}
	return res, nil
}

func (s *Service) load(ctx context.Context, stagedID string, from ...StagedStatus) (*StagedRow, error) {
	row, err := s.repo.GetStaged(ctx, stagedID)
	if err != nil {
		return nil, err
	}
	for _, st := range from {
		if row.Status == st {
			return row, nil
		}
	}
	return nil, fmt.Errorf("%w: staged row is %s", ErrInvalidTransition, row.Status)
}
