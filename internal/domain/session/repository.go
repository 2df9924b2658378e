package session

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, token Token, tokenHash string) error
	// FindByHash returns ErrNotFound for unknown hashes.
	FindByHash(ctx context.Context, tokenHash string) (*Token, error)
	Touch(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context) ([]Token, error)
	Revoke(ctx context.Context, id string, at time.Time) error
}
