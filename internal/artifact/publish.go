package artifact

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"
)

// Externalizer applies the publish-or-inline policy to harvested files.
type Externalizer struct {
	Publisher Publisher     // nil disables publishing
	Timeout   time.Duration // Per-artifact publish deadline; 0 means none
	Logger    *slog.Logger
}

// Resolve turns candidates into artifacts, one per candidate and in the same
// order. A candidate is published when a publisher is configured and the
// upload yields a URL; otherwise it is inlined as base64.
func (e *Externalizer) Resolve(ctx context.Context, cands []Candidate) []Artifact {
	out := make([]Artifact, 0, len(cands))
	for _, c := range cands {
		a := Artifact{Path: c.Path, MediaType: c.MediaType}

		if url, err := e.publish(ctx, c); err == nil {
			a.URL = url
			a.Storage = StorageRemote
		} else {
			if e.enabled() {
				e.logger().WarnContext(ctx, "publishing artifact failed, inlining",
					"path", c.Path, "error", err)
			}
			a.Data = base64.StdEncoding.EncodeToString(c.Data)
			a.Storage = StorageBase64
		}
		out = append(out, a)
	}
	return out
}

var errNoPublisher = errors.New("no publisher configured")

type publishResult struct {
	url string
	err error
}

// publish uploads one candidate, giving up when the deadline passes even if
// the publisher ignores its context.
func (e *Externalizer) publish(ctx context.Context, c Candidate) (string, error) {
	if !e.enabled() {
		return "", errNoPublisher
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	done := make(chan publishResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- publishResult{err: fmt.Errorf("publisher panicked: %v", r)}
			}
		}()
		url, err := e.Publisher.Publish(ctx, c.Data, path.Base(c.Path), c.MediaType)
		done <- publishResult{url: url, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		if r.url == "" {
			return "", errors.New("publisher returned no URL")
		}
		return r.url, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *Externalizer) enabled() bool {
	return e != nil && e.Publisher != nil
}

func (e *Externalizer) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
