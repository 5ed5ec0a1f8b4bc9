package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/italolelis/assetflow/internal/asset"
)

const (
	defaultRegion        = "us-east-1"
	DefaultPresignExpiry = 5 * time.Minute
)

// S3 stores blobs in a bucket of an S3 compatible object store under the
// key {assetUUID}/{fileName}. Downloads go straight to the store through
// presigned URLs.
type S3 struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
	expiry    time.Duration
}

// NewS3 builds the client for a remote server configuration. Construction
// loads credentials and endpoint resolution, so callers keep the result.
func NewS3(ctx context.Context, server *asset.RemoteServer, presignExpiry time.Duration) (*S3, error) {
	region := server.Region
	if region == "" {
		region = defaultRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(server.AccessKey, server.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config for %q: %w", server.Name, err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if server.BucketURL != "" {
			o.BaseEndpoint = aws.String(server.BucketURL)
		}

		o.UsePathStyle = true
	})

	if presignExpiry <= 0 {
		presignExpiry = DefaultPresignExpiry
	}

	return &S3{
		client:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    server.BucketName,
		expiry:    presignExpiry,
	}, nil
}

func (s *S3) Type() string {
	return TypeS3
}

func (s *S3) Save(ctx context.Context, snapshot *asset.Snapshot) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(snapshot.Key()),
		Body:          bytes.NewReader(snapshot.Content),
		ContentLength: aws.Int64(snapshot.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}

	return nil
}

func (s *S3) Load(ctx context.Context, id uuid.UUID, fileName string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(asset.Location(id, fileName)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}

		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return content, nil
}

// DeleteAll lists every object under the asset prefix and removes them in
// batches, one per listed page.
func (s *S3) DeleteAll(ctx context.Context, id uuid.UUID) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(id.String() + "/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects for deletion: %w", err)
		}

		if len(page.Contents) == 0 {
			continue
		}

		objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}

		if len(out.Errors) > 0 {
			first := out.Errors[0]

			return fmt.Errorf("failed to delete %d objects, first %s: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}

	return nil
}

// DownloadURL presigns a GET for the asset's object.
func (s *S3) DownloadURL(ctx context.Context, a *asset.Asset) (string, error) {
	if a.IsSkeleton() {
		return "", ErrBlobNotFound
	}

	presigned, err := s.presigner.PresignGetObject(ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(a.Location),
		},
		s3.WithPresignExpires(s.expiry),
	)
	if err != nil {
		return "", fmt.Errorf("failed to presign object: %w", err)
	}

	return presigned.URL, nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}

	return false
}
