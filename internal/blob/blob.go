// Package blob stores artifact attachments behind a thin S3-like interface
// with filesystem, in-memory, and S3 backends.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	// DriverFilesystem is the local filesystem driver (default, dev).
	DriverFilesystem Driver = "fs"
	// DriverS3 is an S3 / MinIO compatible driver.
	DriverS3 Driver = "s3"
	// DriverMemory is the in-memory test driver.
	DriverMemory Driver = "memory"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions holds options for generating a pre-signed URL.
type SignedURLOptions struct {
	Method string        // GET|PUT
	Expiry time.Duration // default 15m
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store provides attachment storage for artifacts.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

// ErrUnsupported is returned when an optional capability is not available.
var ErrUnsupported = errors.New("blobstore: unsupported operation")

// ErrNotFound is returned when a key has no stored blob.
var ErrNotFound = errors.New("blobstore: not found")

// AttachmentKey mints a fresh object key for an artifact attachment.
func AttachmentKey(projectID, artifactID int64) string {
	return fmt.Sprintf("projects/%d/artifacts/%d/%s", projectID, artifactID, uuid.NewString())
}

// AttachmentPrefix is the key prefix under which all attachments of one
// artifact live.
func AttachmentPrefix(projectID, artifactID int64) string {
	return fmt.Sprintf("projects/%d/artifacts/%d/", projectID, artifactID)
}

// OpenDriver resolves a named driver into a Store. fsRoot applies to the
// filesystem driver only; the s3 driver is parameterized by environment
// (see s3.go).
func OpenDriver(ctx context.Context, driver Driver, fsRoot string) (Store, error) {
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(fsRoot)
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// Open selects a Store implementation using environment variables.
//
//	REQCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	REQCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	return OpenDriver(ctx, Driver(os.Getenv("REQCORE_BLOB_DRIVER")), os.Getenv("REQCORE_BLOB_FS_ROOT"))
}
