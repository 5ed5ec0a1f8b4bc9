package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/cache"
	"github.com/italolelis/assetflow/internal/storage"
)

type memTokens struct {
	mu      sync.Mutex
	byName  map[string]*asset.SecretToken
	lookups int
	fail    error
}

func newMemTokens() *memTokens {
	return &memTokens{byName: make(map[string]*asset.SecretToken)}
}

func (m *memTokens) Save(_ context.Context, t *asset.SecretToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[t.Name]; ok {
		return storage.ErrDuplicateName
	}

	m.byName[t.Name] = t

	return nil
}

func (m *memTokens) FindByHash(_ context.Context, hash string) (*asset.SecretToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lookups++

	if m.fail != nil {
		return nil, m.fail
	}

	for _, t := range m.byName {
		if t.Hash == hash {
			return t, nil
		}
	}

	return nil, storage.ErrNotFound
}

func (m *memTokens) FindByName(_ context.Context, name string) (*asset.SecretToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.byName[name]; ok {
		return t, nil
	}

	return nil, storage.ErrNotFound
}

func (m *memTokens) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.byName, name)

	return nil
}

func (m *memTokens) List(context.Context) ([]*asset.SecretToken, error) {
	return nil, nil
}

func (m *memTokens) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lookups
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *memTokens, *cache.Cache[string, *asset.SecretToken]) {
	t.Helper()

	tokens := newMemTokens()
	c := cache.New[string, *asset.SecretToken](time.Minute)
	t.Cleanup(c.Stop)

	return NewAuthenticator(tokens, c), tokens, c
}

func TestGenerateToken(t *testing.T) {
	plaintext, tok, err := GenerateToken("ci", "build agents")
	require.NoError(t, err)

	assert.Len(t, plaintext, 22)
	assert.Equal(t, HashToken(plaintext), tok.Hash)
	assert.Len(t, tok.Hash, 64)
	assert.NotContains(t, tok.Hash, plaintext)

	other, _, err := GenerateToken("ci", "")
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, other)
}

func TestAuthenticator_CachesLookups(t *testing.T) {
	ctx := context.Background()
	a, tokens, c := newTestAuthenticator(t)

	plaintext, tok, err := GenerateToken("ci", "")
	require.NoError(t, err)
	require.NoError(t, tokens.Save(ctx, tok))

	for range 3 {
		got, err := a.Authenticate(ctx, plaintext)
		require.NoError(t, err)
		assert.Equal(t, "ci", got.Name)
	}

	assert.Equal(t, 1, tokens.lookupCount())
	assert.Equal(t, 1, c.Len())
}

func TestAuthenticator_Rejects(t *testing.T) {
	ctx := context.Background()
	a, tokens, c := newTestAuthenticator(t)

	_, err := a.Authenticate(ctx, "   ")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, tokens.lookupCount())

	_, err = a.Authenticate(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, c.Len())
}

func TestAuthenticator_RepositoryFailure(t *testing.T) {
	a, tokens, _ := newTestAuthenticator(t)
	tokens.fail = errors.New("database is locked")

	_, err := a.Authenticate(context.Background(), "token")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticator_IssueAndRevoke(t *testing.T) {
	ctx := context.Background()
	a, tokens, c := newTestAuthenticator(t)

	plaintext, tok, err := a.Issue(ctx, "deploy", "deploy bot")
	require.NoError(t, err)

	got, err := a.Authenticate(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, tok.Hash, got.Hash)
	assert.Equal(t, 0, tokens.lookupCount())

	require.NoError(t, a.Revoke(ctx, "deploy"))
	assert.Equal(t, 0, c.Len())

	_, err = a.Authenticate(ctx, plaintext)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.ErrorIs(t, a.Revoke(ctx, "deploy"), storage.ErrNotFound)
}

func TestMiddleware(t *testing.T) {
	a, _, _ := newTestAuthenticator(t)

	plaintext, _, err := a.Issue(context.Background(), "ci", "")
	require.NoError(t, err)

	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "missing header", token: "", status: http.StatusUnauthorized},
		{name: "unknown token", token: "nope", status: http.StatusUnauthorized},
		{name: "valid token", token: plaintext, status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/asset/name/x", nil)
			if tt.token != "" {
				req.Header.Set(HeaderName, tt.token)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
