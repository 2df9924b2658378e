package auth

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slog"

	"tether/internal/domain/session"
)

// TokenValidator resolves tokens issued by the server itself.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*session.Token, error)
}

// Auth accepts a bearer token when it matches one of the bcrypt hashes from
// the server config or an active token issued with `tether-server token issue`.
type Auth struct {
	hashes [][]byte
	tokens TokenValidator
	log    *slog.Logger

	// verified remembers static tokens that already matched, keyed by sha256,
	// so bcrypt runs once per token rather than once per request. Issued
	// tokens are never cached because they can be revoked.
	verified sync.Map
}

func New(hashes []string, tokens TokenValidator, log *slog.Logger) *Auth {
	a := &Auth{tokens: tokens, log: log.With("component", "auth")}
	for _, h := range hashes {
		a.hashes = append(a.hashes, []byte(h))
	}
	return a
}

// Verify reports whether token is accepted.
func (a *Auth) Verify(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	key := sha256.Sum256([]byte(token))
	if _, ok := a.verified.Load(key); ok {
		return true
	}
	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(token)) == nil {
			a.verified.Store(key, struct{}{})
			return true
		}
	}

	if a.tokens == nil {
		return false
	}
	tok, err := a.tokens.Validate(ctx, token)
	if err != nil {
		if !errors.Is(err, session.ErrInvalidToken) {
			a.log.Error("token lookup failed", "error", err)
		}
		return false
	}
	a.log.Debug("issued token accepted", "token_id", tok.ID, "label", tok.Label)
	return true
}

// Middleware возвращает middleware для Huma с сигнатурой func(ctx Context, next func(Context))
func (a *Auth) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		token, ok := bearer(ctx.Header("Authorization"))
		if !ok || !a.Verify(ctx.Context(), token) {
			a.log.Warn("rejected request", "path", ctx.URL().Path, "remote_addr", ctx.RemoteAddr())
			ctx.SetStatus(http.StatusUnauthorized)
			ctx.SetHeader("Content-Type", "application/json")
			if err := json.NewEncoder(ctx.BodyWriter()).Encode(map[string]string{"error": "Unauthorized"}); err != nil {
				a.log.Error("failed to write auth error", "error", err)
			}
			return
		}
		next(ctx)
	}
}

// Handler guards plain net/http routes such as the realtime websocket.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r.Header.Get("Authorization"))
		if !ok || !a.Verify(r.Context(), token) {
			a.log.Warn("rejected request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
