// Package storage defines the uniform storage contract the duplication
// core consumes and ships one concrete implementation over
// MinIO/S3-compatible backends.
package storage

import "context"

// PropContentChecksum is the property key carrying an object's checksum,
// required on source content for content-level reconciliation.
const PropContentChecksum = "content-checksum"

// PropContentMimetype is the property key carrying an object's mimetype,
// propagated from source to destination on copy.
const PropContentMimetype = "content-mimetype"

// ContentID identifies one item within a space, ordered lexicographically
// by the provider for listing purposes.
type ContentID = string

// Provider is the uniform interface the duplication core drives every
// object-storage backend through: list, head, get, put, delete, and
// space create/delete. All operations may fail transiently; callers
// wrap them in retrier.Do except CreateSpace, where "already exists" is
// swallowed by the implementation itself.
type Provider interface {
	// SpaceExists reports whether spaceId exists in this store.
	SpaceExists(ctx context.Context, spaceID string) (bool, error)

	// CreateSpace creates spaceId. A pre-existing space is not an error.
	CreateSpace(ctx context.Context, spaceID string) error

	// DeleteSpace deletes spaceId.
	DeleteSpace(ctx context.Context, spaceID string) error

	// ListSpace returns a lazy, restartable, lexicographically-ordered
	// sequence of content ids in spaceId, starting strictly after
	// marker (marker == "" starts from the beginning). The returned
	// channel is closed when listing completes or ctx is done; errors
	// are delivered on the error channel.
	ListSpace(ctx context.Context, spaceID, marker string) (<-chan ContentID, <-chan error)

	// ListSpaceChunk returns up to limit content ids in spaceId, in
	// order, starting strictly after marker. Deterministic pagination:
	// the same (spaceId, marker, limit) always returns the same page
	// for a quiescent space.
	ListSpaceChunk(ctx context.Context, spaceID, marker string, limit int) ([]ContentID, error)

	// GetContentProperties returns the property map for contentId, or
	// ErrNotFound if the item is absent.
	GetContentProperties(ctx context.Context, spaceID, contentID string) (map[string]string, error)

	// GetContent opens a stream over contentId's bytes. Callers must
	// close the returned ReadCloser.
	GetContent(ctx context.Context, spaceID, contentID string) (Object, error)

	// PutContent stores length bytes read from body as contentId,
	// tagging it with mimetype and props, and returns the checksum the
	// destination computed for what it stored.
	PutContent(ctx context.Context, spaceID, contentID, mimetype string, props map[string]string, length int64, expectedChecksum string, body Object) (storedChecksum string, err error)

	// SetContentProperties replaces contentId's property map in place,
	// without moving its bytes. Used when source and destination bodies
	// already agree but metadata has drifted.
	SetContentProperties(ctx context.Context, spaceID, contentID string, props map[string]string) error

	// DeleteContent deletes contentId. Returns ErrNotFound if absent
	// (non-fatal — callers may ignore it).
	DeleteContent(ctx context.Context, spaceID, contentID string) error
}

// Object is a readable stream over one content item's bytes.
type Object interface {
	Read(p []byte) (int, error)
	Close() error
}
