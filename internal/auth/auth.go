// Package auth issues API tokens and authenticates requests carrying them.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/cache"
	"github.com/italolelis/assetflow/internal/logctx"
	"github.com/italolelis/assetflow/internal/storage"
)

// HeaderName carries the plaintext token on every authenticated request.
const HeaderName = "flow-auth-token"

const tokenBytes = 16

// ErrUnauthorized is returned for missing or unknown tokens.
var ErrUnauthorized = errors.New("unauthorized")

// GenerateToken returns a new plaintext token and the record to persist for
// it. The plaintext is not recoverable from the record.
func GenerateToken(name, description string) (string, *asset.SecretToken, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("failed to read random bytes: %w", err)
	}

	plaintext := base64.RawURLEncoding.EncodeToString(raw)

	return plaintext, &asset.SecretToken{
		Name:        name,
		Description: description,
		Hash:        HashToken(plaintext),
	}, nil
}

// HashToken returns the hex SHA-256 of the token, the form tokens are stored
// and cached under.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}

// Authenticator resolves presented tokens through a TTL cache in front of
// the token repository.
type Authenticator struct {
	tokens storage.TokenRepository
	cache  *cache.Cache[string, *asset.SecretToken]
}

func NewAuthenticator(tokens storage.TokenRepository, c *cache.Cache[string, *asset.SecretToken]) *Authenticator {
	return &Authenticator{tokens: tokens, cache: c}
}

// Authenticate returns the stored token matching the presented plaintext.
func (a *Authenticator) Authenticate(ctx context.Context, presented string) (*asset.SecretToken, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return nil, ErrUnauthorized
	}

	tok, err := a.cache.GetOrLoad(ctx, HashToken(presented), a.tokens.FindByHash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthorized
	}

	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	return tok, nil
}

// Issue generates and stores a token, returning its plaintext.
func (a *Authenticator) Issue(ctx context.Context, name, description string) (string, *asset.SecretToken, error) {
	plaintext, tok, err := GenerateToken(name, description)
	if err != nil {
		return "", nil, err
	}

	if err := a.tokens.Save(ctx, tok); err != nil {
		return "", nil, fmt.Errorf("failed to save token: %w", err)
	}

	a.cache.Put(tok.Hash, tok)

	return plaintext, tok, nil
}

// Revoke deletes the named token and drops it from the cache.
func (a *Authenticator) Revoke(ctx context.Context, name string) error {
	tok, err := a.tokens.FindByName(ctx, name)
	if err != nil {
		return err
	}

	if err := a.tokens.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	a.cache.Remove(tok.Hash)

	return nil
}

// Middleware rejects requests without a valid token header.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tok, err := a.Authenticate(ctx, r.Header.Get(HeaderName))
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)

				return
			}

			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to authenticate request", "err", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)

			return
		}

		logger := logctx.LoggerFromContext(ctx).With("token", tok.Name)
		next.ServeHTTP(w, r.WithContext(logctx.WithLogger(ctx, logger)))
	})
}
