package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"tether/internal/domain/session"
)

const tokenColumns = `id, label, created_at, expires_at, last_used_at, revoked_at`

// TokenRepository stores issued API tokens by the sha256 of their secret.
type TokenRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewTokenRepository(s *Storage, log *slog.Logger) *TokenRepository {
	return &TokenRepository{
		pool: s.pool,
		log:  log.With("component", "token_repository"),
	}
}

func (r *TokenRepository) Create(ctx context.Context, tok session.Token, tokenHash string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO api_tokens (id, label, token_hash, created_at, expires_at)
		VALUES ($1, $2, decode($3, 'hex'), $4, $5)`,
		tok.ID, tok.Label, tokenHash, tok.CreatedAt, tok.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (r *TokenRepository) FindByHash(ctx context.Context, tokenHash string) (*session.Token, error) {
	tok, err := scanToken(r.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM api_tokens WHERE token_hash = decode($1, 'hex')`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	return tok, nil
}

func (r *TokenRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_tokens SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

func (r *TokenRepository) List(ctx context.Context) ([]session.Token, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tokenColumns+` FROM api_tokens ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []session.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		out = append(out, *tok)
	}
	return out, rows.Err()
}

func (r *TokenRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE api_tokens SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

func scanToken(row pgx.Row) (*session.Token, error) {
	var tok session.Token
	if err := row.Scan(&tok.ID, &tok.Label, &tok.CreatedAt, &tok.ExpiresAt, &tok.LastUsedAt, &tok.RevokedAt); err != nil {
		return nil, err
	}
	return &tok, nil
}
