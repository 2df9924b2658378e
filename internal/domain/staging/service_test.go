package staging

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"tether/internal/domain/replica"
	"tether/internal/domain/table"
)

func stagedTag(id string, status StagedStatus, row table.Row) *StagedRow {
	return &StagedRow{StagedID: id, InputID: "in-1", Table: table.Tags, ProposedRow: row, Status: status}
}

func TestService_Accept(t *testing.T) {
	tests := []struct {
		name    string
		staged  *StagedRow
		update  func(StagedRow) bool
		wantErr error
	}{
		{
			name:   "valid proposed row",
			staged: stagedTag("s-1", StagedProposed, table.Row{"id": "t-1", "name": "watchlist"}),
			update: func(r StagedRow) bool { return r.Status == StagedAccepted && len(r.ValidationErrors) == 0 },
		},
		{
			name:    "invalid row keeps status",
			staged:  stagedTag("s-1", StagedProposed, table.Row{"id": "t-1"}),
			update:  func(r StagedRow) bool { return r.Status == StagedProposed && len(r.ValidationErrors) == 1 },
			wantErr: ErrInvalidRow,
		},
		{
			name:    "already committed",
			staged:  stagedTag("s-1", StagedCommitted, table.Row{"id": "t-1", "name": "x"}),
			wantErr: ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			svc := NewService(repo, new(MockCommitter), slog.Default())

			repo.On("GetStaged", mock.Anything, "s-1").Return(tt.staged, nil).Once()
			if tt.update != nil {
				repo.On("UpdateStaged", mock.Anything, mock.MatchedBy(tt.update)).Return(nil).Once()
			}

			err := svc.Accept(context.Background(), "s-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			repo.AssertExpectations(t)
		})
	}
}

func TestService_AcceptMissing(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, new(MockCommitter), slog.Default())

	repo.On("GetStaged", mock.Anything, "nope").Return(nil, ErrNotFound).Once()

	assert.ErrorIs(t, svc.Accept(context.Background(), "nope"), ErrNotFound)
}

func TestService_Reject(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, new(MockCommitter), slog.Default())

	repo.On("GetStaged", mock.Anything, "s-1").
		Return(stagedTag("s-1", StagedAccepted, table.Row{"id": "t-1", "name": "x"}), nil).Once()
	repo.On("UpdateStaged", mock.Anything, mock.MatchedBy(func(r StagedRow) bool {
		return r.Status == StagedRejected
	})).Return(nil).Once()

	require.NoError(t, svc.Reject(context.Background(), "s-1"))
	repo.AssertExpectations(t)
}

func TestService_EditKeepsID(t *testing.T) {
	repo := new(MockRepository)
	svc := NewService(repo, new(MockCommitter), slog.Default())

	repo.On("GetStaged", mock.Anything, "s-1").
		Return(stagedTag("s-1", StagedProposed, table.Row{"id": "t-1"}), nil).Once()
	repo.On("UpdateStaged", mock.Anything, mock.Anything).Return(nil).Once()

	row, err := svc.Edit(context.Background(), "s-1", table.Row{"id": "other", "name": "fixed"})
	require.NoError(t, err)
	assert.Equal(t, StagedEdited, row.Status)
	assert.Equal(t, "t-1", row.ProposedRow.ID())
	assert.Equal(t, "fixed", row.ProposedRow["name"])
	assert.Empty(t, row.ValidationErrors)
}

func TestService_CommitAccepted(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	committer := new(MockCommitter)
	svc := NewService(repo, committer, slog.Default())

	ok := *stagedTag("s-1", StagedAccepted, table.Row{"id": "t-1", "name": "a"})
	bad := *stagedTag("s-2", StagedAccepted, table.Row{"id": "t-2", "name": "b"})
	repo.On("ListStaged", mock.Anything, StagedAccepted, "").Return([]StagedRow{ok, bad}, nil).Once()

	committer.On("Create", mock.Anything, table.Tags, ok.ProposedRow).Return(&replica.Row{Table: table.Tags}, nil).Once()
	committer.On("Create", mock.Anything, table.Tags, bad.ProposedRow).Return(nil, errors.New("record already exists")).Once()

	repo.On("UpdateStaged", mock.Anything, mock.MatchedBy(func(r StagedRow) bool {
		return r.StagedID == "s-1" && r.Status == StagedCommitted
	})).Return(nil).Once()

	res, err := svc.CommitAccepted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Committed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "s-2", res.Errors[0].StagedID)

	repo.AssertExpectations(t)
	committer.AssertExpectations(t)
}

func TestService_ListRejectsUnknownStatus(t *testing.T) {
	svc := NewService(new(MockRepository), new(MockCommitter), slog.Default())

	_, err := svc.ListItems(context.Background(), "bogus")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.ListStaged(context.Background(), "bogus", "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
