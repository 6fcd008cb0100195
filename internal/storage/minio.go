package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds one store's connection parameters.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}

// MinIOProvider implements Provider over a MinIO/S3-compatible backend.
// A space corresponds to a bucket, a content id to an object key, and
// content properties are carried as user metadata.
type MinIOProvider struct {
	client *minio.Client
}

// NewMinIOProvider creates a new MinIO-backed Provider.
func NewMinIOProvider(cfg Config) (*MinIOProvider, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	return &MinIOProvider{client: client}, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get
// host:port format.
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// SpaceExists reports whether spaceID exists.
func (p *MinIOProvider) SpaceExists(ctx context.Context, spaceID string) (bool, error) {
	return p.client.BucketExists(ctx, spaceID)
}

// CreateSpace creates spaceID. A pre-existing space is not an error.
func (p *MinIOProvider) CreateSpace(ctx context.Context, spaceID string) error {
	err := p.client.MakeBucket(ctx, spaceID, minio.MakeBucketOptions{})
	if err != nil {
		if exists, existsErr := p.client.BucketExists(ctx, spaceID); existsErr == nil && exists {
			return nil
		}
		return err
	}
	return nil
}

// DeleteSpace deletes spaceID.
func (p *MinIOProvider) DeleteSpace(ctx context.Context, spaceID string) error {
	return p.client.RemoveBucket(ctx, spaceID)
}

// ListSpace returns a lazy channel of content ids ordered lexicographically,
// starting strictly after marker.
func (p *MinIOProvider) ListSpace(ctx context.Context, spaceID, marker string) (<-chan ContentID, <-chan error) {
	idCh := make(chan ContentID)
	errCh := make(chan error, 1)

	go func() {
		defer close(idCh)
		defer close(errCh)

		for obj := range p.client.ListObjects(ctx, spaceID, minio.ListObjectsOptions{
			Recursive:  true,
			StartAfter: marker,
		}) {
			if obj.Err != nil {
				errCh <- obj.Err
				return
			}
			select {
			case idCh <- obj.Key:
			case <-ctx.Done():
				return
			}
		}
	}()

	return idCh, errCh
}

// ListSpaceChunk returns up to limit content ids in spaceID starting
// strictly after marker.
func (p *MinIOProvider) ListSpaceChunk(ctx context.Context, spaceID, marker string, limit int) ([]ContentID, error) {
	ids := make([]ContentID, 0, limit)
	for obj := range p.client.ListObjects(ctx, spaceID, minio.ListObjectsOptions{
		Recursive:  true,
		StartAfter: marker,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		ids = append(ids, obj.Key)
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// GetContentProperties returns contentID's user metadata, translating a
// missing object into ErrNotFound.
func (p *MinIOProvider) GetContentProperties(ctx context.Context, spaceID, contentID string) (map[string]string, error) {
	info, err := p.client.StatObject(ctx, spaceID, contentID, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	props := make(map[string]string, len(info.UserMetadata)+1)
	for k, v := range info.UserMetadata {
		props[strings.ToLower(k)] = v
	}
	if info.ContentType != "" {
		props[PropContentMimetype] = info.ContentType
	}
	return props, nil
}

// minioObject adapts a *minio.Object to the Object interface.
type minioObject struct {
	*minio.Object
}

// GetContent opens a stream over contentID's bytes.
func (p *MinIOProvider) GetContent(ctx context.Context, spaceID, contentID string) (Object, error) {
	obj, err := p.client.GetObject(ctx, spaceID, contentID, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &minioObject{obj}, nil
}

// PutContent uploads body as contentID and returns the destination's
// reported ETag as the stored checksum.
func (p *MinIOProvider) PutContent(ctx context.Context, spaceID, contentID, mimetype string, props map[string]string, length int64, expectedChecksum string, body Object) (string, error) {
	meta := make(map[string]string, len(props)+1)
	for k, v := range props {
		meta[k] = v
	}
	if expectedChecksum != "" {
		meta[PropContentChecksum] = expectedChecksum
	}

	info, err := p.client.PutObject(ctx, spaceID, contentID, body, length, minio.PutObjectOptions{
		ContentType:  mimetype,
		UserMetadata: meta,
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(info.ETag, "\""), nil
}

// SetContentProperties replaces contentID's user metadata via a
// server-side self-copy with metadata replaced, leaving its bytes
// untouched.
func (p *MinIOProvider) SetContentProperties(ctx context.Context, spaceID, contentID string, props map[string]string) error {
	src := minio.CopySrcOptions{Bucket: spaceID, Object: contentID}
	dst := minio.CopyDestOptions{
		Bucket:          spaceID,
		Object:          contentID,
		UserMetadata:    props,
		ReplaceMetadata: true,
	}

	_, err := p.client.CopyObject(ctx, dst, src)
	if err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// DeleteContent deletes contentID. Returns ErrNotFound if contentID is
// already absent.
func (p *MinIOProvider) DeleteContent(ctx context.Context, spaceID, contentID string) error {
	_, err := p.client.StatObject(ctx, spaceID, contentID, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return ErrNotFound
		}
		return err
	}
	return p.client.RemoveObject(ctx, spaceID, contentID, minio.RemoveObjectOptions{})
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}
