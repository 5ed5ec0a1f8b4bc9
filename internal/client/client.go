// Package client talks to the asset service HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/assetflow/internal/auth"
	"github.com/italolelis/assetflow/internal/http/api"
	"github.com/italolelis/assetflow/internal/logctx"
)

const (
	defaultTimeout = 30 * time.Second
	maxRedirects   = 10
)

type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client

	// blobClient shares httpClient's transport without its timeout.
	blobClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each API call. Blob downloads through Open are only
// bounded by their context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a client for the service at server, e.g. "http://localhost:8080".
func New(server, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", server, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q: scheme and host are required", server)
	}

	c := &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.blobClient = &http.Client{
		Transport:     c.httpClient.Transport,
		Jar:           c.httpClient.Jar,
		CheckRedirect: c.checkRedirect,
	}

	return c, nil
}

func (c *Client) AssetByName(ctx context.Context, name string) (*api.AssetInfo, error) {
	var info api.AssetInfo
	if err := c.get(ctx, "asset_by_name", "/api/asset/name/"+url.PathEscape(name), &info); err != nil {
		return nil, err
	}

	if !info.Found {
		return nil, &NotFoundError{Kind: "asset", Name: name}
	}

	return &info, nil
}

func (c *Client) AssetByUUID(ctx context.Context, id uuid.UUID) (*api.AssetInfo, error) {
	var info api.AssetInfo
	if err := c.get(ctx, "asset_by_uuid", "/api/asset/uuid/"+id.String(), &info); err != nil {
		return nil, err
	}

	if !info.Found {
		return nil, &NotFoundError{Kind: "asset", Name: id.String()}
	}

	return &info, nil
}

func (c *Client) Group(ctx context.Context, name string) (*api.GroupInfo, error) {
	var info api.GroupInfo
	if err := c.get(ctx, "group", "/api/group/"+url.PathEscape(name), &info); err != nil {
		return nil, err
	}

	if !info.Found {
		return nil, &NotFoundError{Kind: "group", Name: name}
	}

	return &info, nil
}

// UploadRequest describes a new asset. Content is streamed, not buffered.
type UploadRequest struct {
	Name       string
	Repository string
	DeployPath string
	FileName   string
	Content    io.Reader
}

func (c *Client) Upload(ctx context.Context, req UploadRequest) (*api.UploadResponse, error) {
	fields := map[string]string{
		api.FieldAssetName:  req.Name,
		api.FieldRepository: req.Repository,
	}
	if req.DeployPath != "" {
		fields[api.FieldDeployPath] = req.DeployPath
	}

	var out api.UploadResponse
	if err := c.postMultipart(ctx, "upload", "/api/asset/upload", fields, req.FileName, req.Content, &out); err != nil {
		return nil, err
	}

	if !out.Success {
		message := "unknown error"
		if out.Message != nil {
			message = *out.Message
		}

		return nil, &RejectedError{Operation: "upload", Message: message}
	}

	return &out, nil
}

// Update replaces the content of an existing asset.
func (c *Client) Update(ctx context.Context, name, fileName string, content io.Reader) (*api.StatusResponse, error) {
	var out api.StatusResponse

	fields := map[string]string{api.FieldAssetName: name}
	if err := c.postMultipart(ctx, "update", "/api/asset/update", fields, fileName, content, &out); err != nil {
		return nil, err
	}

	if err := statusError("update", "asset", name, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

func (c *Client) Delete(ctx context.Context, id uuid.UUID) (*api.StatusResponse, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/asset/uuid/"+id.String(), nil)
	if err != nil {
		return nil, err
	}

	var out api.StatusResponse
	if err := c.do(req, "delete", &out); err != nil {
		return nil, err
	}

	if err := statusError("delete", "asset", id.String(), &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// Open starts downloading a blob. Relative links are resolved against the
// server address; absolute links, such as presigned object store URLs, are
// fetched without the auth header. The returned size is -1 when unknown.
func (c *Client) Open(ctx context.Context, link string) (io.ReadCloser, int64, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid download link %q: %w", link, err)
	}

	target := c.baseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	c.authorize(req)

	resp, err := c.blobClient.Do(req)
	if err != nil {
		return nil, 0, &NetworkError{Operation: "download", APIMessage: err.Error(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		return nil, 0, responseError("download", resp)
	}

	return resp.Body, resp.ContentLength, nil
}

func (c *Client) get(ctx context.Context, operation, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	return c.do(req, operation, out)
}

// postMultipart streams the form through a pipe so large attachments are
// never held in memory.
func (c *Client) postMultipart(
	ctx context.Context,
	operation, path string,
	fields map[string]string,
	fileName string,
	content io.Reader,
	out any,
) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, fields, fileName, content))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, path, pr)
	if err != nil {
		pr.Close()

		return err
	}

	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req, operation, out)
}

func writeForm(mw *multipart.Writer, fields map[string]string, fileName string, content io.Reader) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	part, err := mw.CreateFormFile(api.FieldAttachment, fileName)
	if err != nil {
		return err
	}

	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("failed to stream attachment: %w", err)
	}

	return mw.Close()
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.authorize(req)

	return req, nil
}

// checkRedirect drops the token when a download redirects off the service.
func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}

	if req.URL.Host != c.baseURL.Host {
		req.Header.Del(auth.HeaderName)
	}

	return nil
}

func (c *Client) authorize(req *http.Request) {
	if req.URL.Scheme == c.baseURL.Scheme && req.URL.Host == c.baseURL.Host {
		req.Header.Set(auth.HeaderName, c.token)
	}
}

// do executes an API call. Error replies that carry a JSON payload (400, 409,
// 413) are decoded into out so the caller sees the service's message.
func (c *Client) do(req *http.Request, operation string, out any) error {
	logger := logctx.LoggerFromContext(req.Context()).With("operation", operation)

	logger.Debug("calling asset service", "method", req.Method, "url", req.URL.Redacted())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug("request failed", "err", err)

		return &NetworkError{Operation: operation, APIMessage: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadRequest, http.StatusConflict, http.StatusRequestEntityTooLarge:
	default:
		return responseError(operation, resp)
	}

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return responseError(operation, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			APIMessage: "malformed response",
			Err:        err,
		}
	}

	return nil
}

func responseError(operation string, resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthenticationError{Operation: operation}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &NetworkError{Operation: operation, StatusCode: resp.StatusCode, APIMessage: message}
}

func statusError(operation, kind, name string, out *api.StatusResponse) error {
	if out.Status == api.StatusOK {
		return nil
	}

	if out.Message == "not found" {
		return &NotFoundError{Kind: kind, Name: name}
	}

	return &RejectedError{Operation: operation, Message: out.Message}
}

// IsNotFound reports whether err means the asset or group does not exist.
func IsNotFound(err error) bool {
	var nf *NotFoundError

	return errors.As(err, &nf)
}
