package asset

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalRepository is the reserved repository name of the filesystem backend.
const LocalRepository = "local"

// Asset is the metadata record of a distributable artifact. An asset whose
// Location is empty is a skeleton: its blob has not been durably written yet.
type Asset struct {
	UUID       uuid.UUID
	Name       string
	Location   string
	Repository string
	DeployPath string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (a *Asset) IsSkeleton() bool {
	return a.Location == ""
}

// FileName returns the blob file name, the last segment of the location.
func (a *Asset) FileName() string {
	if a.Location == "" {
		return ""
	}

	return path.Base(a.Location)
}

// Location builds the backend relative key of a blob.
func Location(id uuid.UUID, fileName string) string {
	return id.String() + "/" + fileName
}

// Snapshot is an in-flight payload on its way to a storage backend.
type Snapshot struct {
	AssetID  uuid.UUID
	FileName string
	Content  []byte
}

// NewSnapshot creates a snapshot that is not yet bound to an asset.
func NewSnapshot(fileName string, content []byte) (*Snapshot, error) {
	if err := ValidateFileName(fileName); err != nil {
		return nil, err
	}

	return &Snapshot{FileName: fileName, Content: content}, nil
}

func (s *Snapshot) Key() string {
	return Location(s.AssetID, s.FileName)
}

func (s *Snapshot) Size() int64 {
	return int64(len(s.Content))
}

// ValidateFileName rejects names that would escape the asset namespace.
func ValidateFileName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &ValidationError{Field: "file_name", Reason: "must not be empty"}
	case name == "." || name == "..":
		return &ValidationError{Field: "file_name", Reason: "must not be a relative path element"}
	case strings.ContainsAny(name, `/\`):
		return &ValidationError{Field: "file_name", Reason: "must not contain path separators"}
	}

	return nil
}

// Group is a named set of assets downloaded together.
type Group struct {
	ID     int64
	Name   string
	Assets []*Asset
}

// DeployPath is a named target directory assets can be associated with.
type DeployPath struct {
	ID   int64
	Name string
	Path string
}

// RemoteServer is the configuration of an S3 compatible object store.
type RemoteServer struct {
	Name       string
	BucketURL  string
	BucketName string
	AccessKey  string
	SecretKey  string
	Region     string
}

// SecretToken is a stored API token. Only the hash of the token is persisted.
type SecretToken struct {
	ID          int64
	Name        string
	Description string
	Hash        string
	CreatedAt   time.Time
}
