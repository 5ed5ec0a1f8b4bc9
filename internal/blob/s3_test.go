package blob

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/assetflow/internal/asset"
)

const testBucket = "assets"

// fakeS3 serves the subset of the path-style S3 API the backend uses.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type deleteRequest struct {
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/"+testBucket), "/")
	query := r.URL.Query()

	switch {
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && query.Has("list-type"):
		f.list(w, query.Get("prefix"))
	case r.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)

			return
		}

		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		_, _ = w.Write(body)
	case r.Method == http.MethodPost && query.Has("delete"):
		var req deleteRequest
		if err := xml.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		for _, obj := range req.Objects {
			delete(f.objects, obj.Key)
		}

		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"></DeleteResult>`)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	var keys []string

	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	var b strings.Builder

	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>", testBucket, prefix, len(keys))

	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
	}

	b.WriteString(`</ListBucketResult>`)

	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, b.String())
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.objects[key]

	return ok
}

func newTestS3(t *testing.T) (*S3, *fakeS3) {
	t.Helper()

	fake := &fakeS3{objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	backend, err := NewS3(context.Background(), &asset.RemoteServer{
		Name:       "minio",
		BucketURL:  srv.URL,
		BucketName: testBucket,
		AccessKey:  "access",
		SecretKey:  "secret",
	}, 0)
	require.NoError(t, err)

	return backend, fake
}

func TestS3_RoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, fake := newTestS3(t)
	id := uuid.New()
	content := []byte("remote bytes")

	require.NoError(t, backend.Save(ctx, &asset.Snapshot{AssetID: id, FileName: "tool.zip", Content: content}))
	assert.True(t, fake.has(id.String()+"/tool.zip"))

	got, err := backend.Load(ctx, id, "tool.zip")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestS3_LoadMissing(t *testing.T) {
	backend, _ := newTestS3(t)

	_, err := backend.Load(context.Background(), uuid.New(), "missing.bin")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestS3_DeleteAllRemovesPrefix(t *testing.T) {
	ctx := context.Background()
	backend, fake := newTestS3(t)
	id, other := uuid.New(), uuid.New()

	for _, name := range []string{"a.bin", "b.bin"} {
		require.NoError(t, backend.Save(ctx, &asset.Snapshot{AssetID: id, FileName: name, Content: []byte(name)}))
	}

	require.NoError(t, backend.Save(ctx, &asset.Snapshot{AssetID: other, FileName: "a.bin", Content: []byte("keep")}))

	require.NoError(t, backend.DeleteAll(ctx, id))

	for _, name := range []string{"a.bin", "b.bin"} {
		_, err := backend.Load(ctx, id, name)
		assert.ErrorIs(t, err, ErrBlobNotFound)
	}

	assert.True(t, fake.has(other.String()+"/a.bin"))
	assert.NoError(t, backend.DeleteAll(ctx, uuid.New()))
}

func TestS3_DownloadURLIsPresigned(t *testing.T) {
	backend, _ := newTestS3(t)
	id := uuid.New()

	link, err := backend.DownloadURL(context.Background(), &asset.Asset{UUID: id, Location: asset.Location(id, "logo.png")})
	require.NoError(t, err)

	assert.Contains(t, link, "/"+testBucket+"/"+id.String()+"/logo.png")
	assert.Contains(t, link, "X-Amz-Expires=300")
	assert.Contains(t, link, "X-Amz-Signature=")

	_, err = backend.DownloadURL(context.Background(), &asset.Asset{UUID: id})
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
