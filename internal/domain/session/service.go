package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

type Servicer interface {
	Issue(ctx context.Context, label string, ttl time.Duration) (string, *Token, error)
	Validate(ctx context.Context, token string) (*Token, error)
	List(ctx context.Context) ([]Token, error)
	Revoke(ctx context.Context, id string) error
}

// Service issues and checks device tokens kept in the server database.
type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "tokens"),
		now:  time.Now,
	}
}

// Issue creates a token for label. A zero ttl never expires.
// The secret is returned once and cannot be recovered later.
func (s *Service) Issue(ctx context.Context, label string, ttl time.Duration) (string, *Token, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", nil, ErrEmptyLabel
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	secret := base64.URLEncoding.EncodeToString(tokenBytes)

	now := s.now().UTC()
	tok := Token{
		ID:        uuid.NewString(),
		Label:     label,
		CreatedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		tok.ExpiresAt = &expires
	}

	if err := s.repo.Create(ctx, tok, hashToken(secret)); err != nil {
		return "", nil, fmt.Errorf("save token: %w", err)
	}

	s.log.Info("token issued", "id", tok.ID, "label", label)
	return secret, &tok, nil
}

// Validate resolves a bearer secret to its token. Unknown, expired and
// revoked tokens all yield ErrInvalidToken.
func (s *Service) Validate(ctx context.Context, secret string) (*Token, error) {
	if secret == "" {
		return nil, ErrInvalidToken
	}

	tok, err := s.repo.FindByHash(ctx, hashToken(secret))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}

	now := s.now().UTC()
	if !tok.Active(now) {
		return nil, ErrInvalidToken
	}

	if err := s.repo.Touch(ctx, tok.ID, now); err != nil {
		s.log.Warn("failed to record token use", "id", tok.ID, "error", err)
	} else {
		tok.LastUsedAt = &now
	}
	return tok, nil
}

func (s *Service) List(ctx context.Context) ([]Token, error) {
	return s.repo.List(ctx)
}

func (s *Service) Revoke(ctx context.Context, id string) error {
	if err := s.repo.Revoke(ctx, id, s.now().UTC()); err != nil {
		return err
	}
	s.log.Info("token revoked", "id", id)
	return nil
}

func hashToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
