// Package api holds the JSON payloads exchanged between the service and its
// clients.
package api

import "github.com/italolelis/assetflow/internal/asset"

// Multipart form fields of the upload and update endpoints.
const (
	FieldAssetName  = "asset_name"
	FieldRepository = "repository"
	FieldAttachment = "attachment"
	FieldDeployPath = "deploy_path"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// AssetInfo describes an asset and where to download it. Found is false for
// unknown assets; Valid is false when the asset's storage can't serve it.
type AssetInfo struct {
	Valid           bool   `json:"valid"`
	Found           bool   `json:"found"`
	UUID            string `json:"uuid,omitempty"`
	AssetName       string `json:"assetName,omitempty"`
	AssetRepository string `json:"assetRepository,omitempty"`
	FileName        string `json:"fileName,omitempty"`
	DownloadLink    string `json:"downloadLink,omitempty"`
	DeployPath      string `json:"deployPath,omitempty"`
}

// NewAssetInfo fills the metadata of a found asset. The link is resolved
// separately.
func NewAssetInfo(a *asset.Asset) *AssetInfo {
	return &AssetInfo{
		Valid:           true,
		Found:           true,
		UUID:            a.UUID.String(),
		AssetName:       a.Name,
		AssetRepository: a.Repository,
		FileName:        a.FileName(),
		DeployPath:      a.DeployPath,
	}
}

// AssetNotFoundByUUID answers a lookup of an unknown id.
func AssetNotFoundByUUID(id string) *AssetInfo {
	return &AssetInfo{UUID: id}
}

// AssetNotFoundByName answers a lookup of an unknown name.
func AssetNotFoundByName(name string) *AssetInfo {
	return &AssetInfo{AssetName: name}
}

type GroupInfo struct {
	Found     bool         `json:"found"`
	GroupName string       `json:"groupName"`
	Assets    []*AssetInfo `json:"assets"`
}

type UploadResponse struct {
	Success   bool    `json:"success"`
	Message   *string `json:"message"`
	AssetName string  `json:"assetName,omitempty"`
	AssetUUID string  `json:"assetUuid,omitempty"`
}

func UploadOK(name, id string) *UploadResponse {
	return &UploadResponse{Success: true, AssetName: name, AssetUUID: id}
}

func UploadFailed(message string) *UploadResponse {
	return &UploadResponse{Message: &message}
}

// StatusResponse is the generic reply of update and delete.
type StatusResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Result  map[string]string `json:"result,omitempty"`
}

func OK(message string, result map[string]string) *StatusResponse {
	return &StatusResponse{Status: StatusOK, Message: message, Result: result}
}

func Error(message string) *StatusResponse {
	return &StatusResponse{Status: StatusError, Message: message}
}

// ServerInfo describes a configured remote server. Credentials are never
// returned.
type ServerInfo struct {
	Name       string `json:"name"`
	BucketURL  string `json:"bucketUrl"`
	BucketName string `json:"bucketName"`
	Region     string `json:"region,omitempty"`
}

func NewServerInfo(s *asset.RemoteServer) *ServerInfo {
	return &ServerInfo{Name: s.Name, BucketURL: s.BucketURL, BucketName: s.BucketName, Region: s.Region}
}

// ServerRequest creates or replaces a remote server configuration.
type ServerRequest struct {
	BucketURL  string `json:"bucketUrl"`
	BucketName string `json:"bucketName"`
	AccessKey  string `json:"accessKey"`
	SecretKey  string `json:"secretKey"`
	Region     string `json:"region"`
}
