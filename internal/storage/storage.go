// Package storage defines the artifact publishing backends shared by the
// S3 and SQLite implementations.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/michaelbrown/execd/internal/artifact"
)

// ErrNotFound is returned when a stored blob does not exist.
var ErrNotFound = errors.New("blob not found")

// Blob is an artifact kept by a backend that serves its own bytes.
type Blob struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	MediaType string    `json:"media_type"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// BlobStore is a publisher that also serves what it stored.
type BlobStore interface {
	artifact.Publisher

	// Get returns a blob by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Blob, error)

	// Purge deletes blobs created before the given time and returns how many
	// were removed.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// Close releases resources.
	Close() error
}

// ObjectKey builds the remote key for an uploaded artifact:
// <prefix>/<unix seconds>_<id>_<filename>.
func ObjectKey(prefix string, now time.Time, id, filename string) string {
	name := fmt.Sprintf("%d_%s_%s", now.Unix(), id, path.Base(filename))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// JoinURL appends slash separated elements to a base URL.
func JoinURL(base string, elems ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path.Join(elems...), "/")
}
