// Package artifact collects image files produced by an execution and decides
// how each one is returned to the caller.
package artifact

import (
	"context"
	"path"
	"strings"
)

// Storage records which payload representation an artifact carries.
type Storage string

const (
	StorageBase64 Storage = "base64"
	StorageRemote Storage = "remote"
)

// Candidate is a harvested file before publishing.
type Candidate struct {
	Path      string // Relative to the workspace root, slash separated
	MediaType string
	Data      []byte
}

// Artifact is an image returned with an execution result. Exactly one of
// Data and URL is set, matching Storage.
type Artifact struct {
	Path      string  `json:"path"`
	MediaType string  `json:"mediaType"`
	Data      string  `json:"data,omitempty"`
	URL       string  `json:"url,omitempty"`
	Storage   Storage `json:"storage"`
}

// Publisher uploads artifact bytes and returns a durable URL.
// Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, data []byte, filename, mediaType string) (string, error)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, data []byte, filename, mediaType string) (string, error)

func (f PublisherFunc) Publish(ctx context.Context, data []byte, filename, mediaType string) (string, error) {
	return f(ctx, data, filename, mediaType)
}

var mediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// MediaType returns the image media type for name, or "" if the extension is
// not collected.
func MediaType(name string) string {
	return mediaTypes[strings.ToLower(path.Ext(name))]
}
