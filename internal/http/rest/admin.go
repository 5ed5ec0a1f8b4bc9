package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/http/api"
	"github.com/italolelis/assetflow/internal/logctx"
	"github.com/italolelis/assetflow/internal/storage"
)

// BackendEvicter forgets memoized backends whose configuration changed.
type BackendEvicter interface {
	Evict(name string)
}

// TokenIssuer creates and revokes API tokens of a running service.
type TokenIssuer interface {
	Issue(ctx context.Context, name, description string) (string, *asset.SecretToken, error)
	Revoke(ctx context.Context, name string) error
}

// AdminHandler changes remote server configurations and tokens of a running
// service, keeping the memoized backends and cached tokens in step.
type AdminHandler struct {
	servers      storage.ServerRepository
	backends     BackendEvicter
	tokens       TokenIssuer
	authenticate func(http.Handler) http.Handler
}

func NewAdminHandler(
	servers storage.ServerRepository,
	backends BackendEvicter,
	tokens TokenIssuer,
	authenticate func(http.Handler) http.Handler,
) *AdminHandler {
	return &AdminHandler{servers: servers, backends: backends, tokens: tokens, authenticate: authenticate}
}

func (h *AdminHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(h.authenticate)

	r.Get("/server", h.ListServers)
	r.Put("/server/{name}", h.SaveServer)
	r.Delete("/server/{name}", h.DeleteServer)

	r.Post("/token/{name}", h.IssueToken)
	r.Delete("/token/{name}", h.RevokeToken)

	return r
}

func (h *AdminHandler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.servers.List(r.Context())
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list servers", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	infos := make([]*api.ServerInfo, 0, len(servers))
	for _, s := range servers {
		infos = append(infos, api.NewServerInfo(s))
	}

	writeJSON(w, r, http.StatusOK, infos)
}

// SaveServer creates or replaces a configuration. The memoized backend is evicted
// so the next request builds one from the new settings.
func (h *AdminHandler) SaveServer(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	name, err := pathParam(r, "name")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, api.Error("malformed name"))

		return
	}

	if name == asset.LocalRepository {
		writeJSON(w, r, http.StatusBadRequest, api.Error("name is reserved"))

		return
	}

	var req api.ServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, api.Error("malformed body"))

		return
	}

	if req.BucketURL == "" || req.BucketName == "" {
		writeJSON(w, r, http.StatusBadRequest, api.Error("bucketUrl and bucketName are required"))

		return
	}

	server := &asset.RemoteServer{
		Name:       name,
		BucketURL:  req.BucketURL,
		BucketName: req.BucketName,
		AccessKey:  req.AccessKey,
		SecretKey:  req.SecretKey,
		Region:     req.Region,
	}

	if err := h.servers.Save(r.Context(), server); err != nil {
		logger.Error("failed to save server", "server", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	h.backends.Evict(name)

	logger.Info("remote server saved", "server", name, "bucket", req.BucketName)

	writeJSON(w, r, http.StatusOK, api.OK("saved", map[string]string{"name": name}))
}

func (h *AdminHandler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	name, err := pathParam(r, "name")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, api.Error("malformed name"))

		return
	}

	err = h.servers.Delete(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, r, http.StatusOK, api.Error("not found"))

		return
	}

	if err != nil {
		logger.Error("failed to delete server", "server", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	h.backends.Evict(name)

	logger.Info("remote server removed", "server", name)

	writeJSON(w, r, http.StatusOK, api.OK("deleted", map[string]string{"name": name}))
}

// IssueToken returns the plaintext token; it can't be recovered later.
func (h *AdminHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	name, err := pathParam(r, "name")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, api.Error("malformed name"))

		return
	}

	token, _, err := h.tokens.Issue(r.Context(), name, r.URL.Query().Get("description"))
	if errors.Is(err, storage.ErrDuplicateName) {
		writeJSON(w, r, http.StatusConflict, api.Error("token name already exists"))

		return
	}

	if err != nil {
		logger.Error("failed to issue token", "token_name", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	logger.Info("token issued", "token_name", name)

	writeJSON(w, r, http.StatusOK, api.OK("issued", map[string]string{"name": name, "token": token}))
}

func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	name, err := pathParam(r, "name")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, api.Error("malformed name"))

		return
	}

	err = h.tokens.Revoke(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, r, http.StatusOK, api.Error("not found"))

		return
	}

	if err != nil {
		logger.Error("failed to revoke token", "token_name", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	logger.Info("token revoked", "token_name", name)

	writeJSON(w, r, http.StatusOK, api.OK("revoked", map[string]string{"name": name}))
}
