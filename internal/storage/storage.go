package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Package storage contains blob storage abstractions for uploaded documents.
// Implementations stream through the backend and never touch local disk.

// ErrObjectNotFound is returned by Get when the key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

// PutObjectOptions define optional parameters for uploading objects.
// Size should be the exact number of bytes if known; if unknown, set to -1 and the implementation
// will buffer/chunk as supported by the backend.
type PutObjectOptions struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about an object in storage.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

// Storage is the blob store behind Document.File.
type Storage interface {
	// Put uploads an object under the given key using the provided reader and options.
	Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error)
	// Get retrieves an object's content as a streaming reader alongside its info.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Delete removes an object by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// PresignGet returns a time-limited download URL. When downloadName is set the URL
	// asks the backend to answer with an attachment Content-Disposition for that name.
	PresignGet(ctx context.Context, key string, expiry time.Duration, downloadName string) (string, error)
}

// AttachmentDisposition builds the Content-Disposition value used for downloads.
func AttachmentDisposition(filename string) string {
	return `attachment; filename="` + escapeQuotes(filename) + `"`
}

func escapeQuotes(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '\\':
			out = append(out, '\\', s[i])
		case '\r', '\n':
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}
