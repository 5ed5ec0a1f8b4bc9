package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/blob"
	"github.com/italolelis/assetflow/internal/http/api"
	"github.com/italolelis/assetflow/internal/lifecycle"
	"github.com/italolelis/assetflow/internal/logctx"
	"github.com/italolelis/assetflow/internal/storage"
)

const (
	multipartMemory    = 32 << 20
	groupLinkParallel  = 8
	defaultMaxUploadMB = 512
)

// Repositories groups the metadata stores the handler reads directly.
type Repositories struct {
	Assets      storage.AssetRepository
	Groups      storage.GroupRepository
	DeployPaths storage.DeployPathRepository
}

type AssetHandler struct {
	repos         Repositories
	lifecycle     *lifecycle.Orchestrator
	backends      lifecycle.BackendResolver
	local         *blob.Local
	authenticate  func(http.Handler) http.Handler
	maxUploadSize int64
}

// NewAssetHandler creates the asset API handler. authenticate guards every
// route except local file serving.
func NewAssetHandler(
	repos Repositories,
	orch *lifecycle.Orchestrator,
	backends lifecycle.BackendResolver,
	local *blob.Local,
	authenticate func(http.Handler) http.Handler,
	maxUploadSize int64,
) *AssetHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = defaultMaxUploadMB << 20
	}

	return &AssetHandler{
		repos:         repos,
		lifecycle:     orch,
		backends:      backends,
		local:         local,
		authenticate:  authenticate,
		maxUploadSize: maxUploadSize,
	}
}

func (h *AssetHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/file/{uuid}/{fileName}", h.ServeFile)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)

		r.Get("/asset/uuid/{uuid}", h.AssetByUUID)
		r.Get("/asset/name/{name}", h.AssetByName)
		r.Get("/group/{name}", h.Group)
		r.Post("/asset/upload", h.Upload)
		r.Post("/asset/update", h.Update)
		r.Get("/asset/delete", h.Delete)
		r.Delete("/asset/uuid/{uuid}", h.Delete)
	})

	return r
}

// ServeFile streams a blob of the local backend.
func (h *AssetHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	fileName, err := pathParam(r, "fileName")
	if err != nil {
		http.NotFound(w, r)

		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		http.NotFound(w, r)

		return
	}

	f, err := h.local.Open(id, fileName)
	if errors.Is(err, blob.ErrBlobNotFound) {
		http.NotFound(w, r)

		return
	}

	if err != nil {
		logger.Error("failed to open local blob", "asset_id", id, "file_name", fileName, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		logger.Error("failed to stat local blob", "asset_id", id, "file_name", fileName, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": fileName}))
	w.Header().Set("Content-Type", "application/octet-stream")

	logger.Debug("serving local blob", "asset_id", id, "file_name", fileName, "size", humanize.Bytes(uint64(stat.Size())))

	http.ServeContent(w, r, fileName, stat.ModTime(), f)
}

func (h *AssetHandler) AssetByUUID(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "uuid")

	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, r, http.StatusOK, api.AssetNotFoundByUUID(raw))

		return
	}

	a, err := h.repos.Assets.FindByUUID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, r, http.StatusOK, api.AssetNotFoundByUUID(raw))

		return
	}

	h.writeAssetInfo(w, r, a, err)
}

func (h *AssetHandler) AssetByName(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "name")
	if err != nil {
		writeJSON(w, r, http.StatusOK, api.AssetNotFoundByName(chi.URLParam(r, "name")))

		return
	}

	a, err := h.repos.Assets.FindByName(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, r, http.StatusOK, api.AssetNotFoundByName(name))

		return
	}

	h.writeAssetInfo(w, r, a, err)
}

func (h *AssetHandler) writeAssetInfo(w http.ResponseWriter, r *http.Request, a *asset.Asset, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	if err != nil {
		logger.Error("failed to look up asset", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	info, err := h.describe(r.Context(), a)
	if err != nil {
		logger.Error("failed to resolve download link", "asset_id", a.UUID, "asset_name", a.Name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, r, http.StatusOK, info)
}

// Group describes every member of the group. Member links are resolved
// concurrently since remote backends presign each one.
func (h *AssetHandler) Group(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	name, err := pathParam(r, "name")
	if err != nil {
		writeJSON(w, r, http.StatusOK, &api.GroupInfo{GroupName: chi.URLParam(r, "name"), Assets: []*api.AssetInfo{}})

		return
	}

	group, err := h.repos.Groups.FindByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, r, http.StatusOK, &api.GroupInfo{GroupName: name, Assets: []*api.AssetInfo{}})

		return
	}

	if err != nil {
		logger.Error("failed to look up group", "group", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	infos := make([]*api.AssetInfo, len(group.Assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(groupLinkParallel)

	for i, a := range group.Assets {
		g.Go(func() error {
			info, err := h.describe(gctx, a)
			if err != nil {
				return fmt.Errorf("asset %s: %w", a.UUID, err)
			}

			infos[i] = info

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("failed to describe group", "group", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)

		return
	}

	writeJSON(w, r, http.StatusOK, &api.GroupInfo{Found: true, GroupName: group.Name, Assets: infos})
}

// describe builds the asset info and its download link. Assets whose backend
// is not configured, or whose blob was never written, are reported invalid.
func (h *AssetHandler) describe(ctx context.Context, a *asset.Asset) (*api.AssetInfo, error) {
	info := api.NewAssetInfo(a)

	backend, err := h.backends.Resolve(ctx, a.Repository)
	if errors.Is(err, blob.ErrUnknownBackend) {
		info.Valid = false

		return info, nil
	}

	if err != nil {
		return nil, err
	}

	if a.IsSkeleton() {
		info.Valid = false

		return info, nil
	}

	link, err := backend.DownloadURL(ctx, a)
	if err != nil {
		return nil, err
	}

	info.DownloadLink = link

	return info, nil
}

func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	form, err := h.readForm(w, r, api.FieldAssetName, api.FieldRepository)
	if err != nil {
		writeJSON(w, r, formErrorStatus(err), api.UploadFailed(err.Error()))

		return
	}

	var deployPath *asset.DeployPath

	if name := strings.TrimSpace(r.FormValue(api.FieldDeployPath)); name != "" {
		deployPath, err = h.repos.DeployPaths.FindByName(ctx, name)
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, r, http.StatusBadRequest, api.UploadFailed("unknown deploy path"))

			return
		}

		if err != nil {
			logger.Error("failed to look up deploy path", "deploy_path", name, "err", err)
			writeJSON(w, r, http.StatusInternalServerError, api.UploadFailed("internal error"))

			return
		}
	}

	a, err := h.lifecycle.Create(ctx, form.values[api.FieldAssetName], form.values[api.FieldRepository], form.snapshot)

	switch {
	case errors.Is(err, blob.ErrUnknownBackend):
		writeJSON(w, r, http.StatusOK, api.UploadFailed("invalid storage"))

		return
	case errors.Is(err, storage.ErrDuplicateName):
		writeJSON(w, r, http.StatusConflict, api.UploadFailed("asset name already exists"))

		return
	case err != nil:
		logger.Error("failed to upload asset", "asset_name", form.values[api.FieldAssetName], "err", err)
		writeJSON(w, r, http.StatusInternalServerError, api.UploadFailed("internal error"))

		return
	}

	if deployPath != nil {
		if err := h.repos.DeployPaths.Assign(ctx, a.UUID, deployPath.Name); err != nil {
			logger.Error("failed to assign deploy path", "asset_id", a.UUID, "deploy_path", deployPath.Name, "err", err)
			writeJSON(w, r, http.StatusInternalServerError, api.UploadFailed("asset stored but deploy path not assigned"))

			return
		}
	}

	logger.Info("asset uploaded",
		"asset_id", a.UUID,
		"asset_name", a.Name,
		"repository", a.Repository,
		"size", humanize.Bytes(uint64(form.snapshot.Size())),
	)

	writeJSON(w, r, http.StatusOK, api.UploadOK(a.Name, a.UUID.String()))
}

func (h *AssetHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	form, err := h.readForm(w, r, api.FieldAssetName)
	if err != nil {
		writeJSON(w, r, formErrorStatus(err), api.Error(err.Error()))

		return
	}

	name := form.values[api.FieldAssetName]

	a, err := h.lifecycle.Update(ctx, name, form.snapshot)

	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, r, http.StatusOK, api.Error("not found"))
	case errors.Is(err, blob.ErrUnknownBackend):
		writeJSON(w, r, http.StatusOK, api.Error("invalid storage"))
	case err != nil:
		logger.Error("failed to update asset", "asset_name", name, "err", err)
		writeJSON(w, r, http.StatusInternalServerError, api.Error("internal error"))
	default:
		writeJSON(w, r, http.StatusOK, api.OK("updated", map[string]string{
			"uuid":      a.UUID.String(),
			"assetName": a.Name,
		}))
	}
}

// Delete accepts the id as a path parameter or as the uuid query parameter.
func (h *AssetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	raw := chi.URLParam(r, "uuid")
	if raw == "" {
		raw = r.URL.Query().Get("uuid")
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, api.Error("invalid uuid"))

		return
	}

	a, err := h.lifecycle.Delete(ctx, id)

	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, r, http.StatusOK, api.Error("not found"))
	case errors.Is(err, blob.ErrUnknownBackend):
		writeJSON(w, r, http.StatusOK, api.Error("invalid storage"))
	case err != nil:
		logger.Error("failed to delete asset", "asset_id", id, "err", err)
		writeJSON(w, r, http.StatusInternalServerError, api.Error("internal error"))
	default:
		writeJSON(w, r, http.StatusOK, api.OK("deleted", map[string]string{
			"uuid":      a.UUID.String(),
			"assetName": a.Name,
		}))
	}
}

type uploadForm struct {
	values   map[string]string
	snapshot *asset.Snapshot
}

// readForm parses a multipart request carrying an attachment plus the given
// required text fields.
func (h *AssetHandler) readForm(w http.ResponseWriter, r *http.Request, required ...string) (*uploadForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errUploadTooLarge
		}

		return nil, &asset.ValidationError{Field: "body", Reason: "expected multipart form data"}
	}

	form := &uploadForm{values: make(map[string]string, len(required))}

	for _, field := range required {
		v := strings.TrimSpace(r.FormValue(field))
		if v == "" {
			return nil, &asset.ValidationError{Field: field, Reason: "is required"}
		}

		form.values[field] = v
	}

	file, header, err := r.FormFile(api.FieldAttachment)
	if err != nil {
		return nil, &asset.ValidationError{Field: api.FieldAttachment, Reason: "is required"}
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	form.snapshot, err = asset.NewSnapshot(header.Filename, content)
	if err != nil {
		return nil, err
	}

	return form, nil
}

var errUploadTooLarge = errors.New("upload exceeds the size limit")

func formErrorStatus(err error) int {
	var validationErr *asset.ValidationError

	switch {
	case errors.Is(err, errUploadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// pathParam returns the decoded value of a route parameter. When the request
// path holds escapes Go keeps in RawPath (such as %2C), chi matches on the raw
// form and the parameter arrives still escaped.
func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}

	return url.PathUnescape(v)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
