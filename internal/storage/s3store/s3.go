// Package s3store publishes artifacts to S3 or an S3-compatible object store.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/michaelbrown/execd/internal/artifact"
	"github.com/michaelbrown/execd/internal/storage"
)

var _ artifact.Publisher = (*Publisher)(nil)

// Config selects the bucket and how object URLs are formed.
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string // Custom endpoint for S3-compatible stores
	PublicBaseURL string // Overrides the URL prefix returned to callers
	PathStyle     bool
	ACL           string // Canned ACL, e.g. "public-read"; empty leaves the bucket default
	Prefix        string
}

// putter is the subset of the S3 client the publisher needs.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Publisher uploads artifacts as objects and returns their public URLs.
type Publisher struct {
	client putter
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New loads AWS credentials from the default chain and creates a publisher.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 publisher: bucket is required")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newPublisher(client, cfg, logger), nil
}

func newPublisher(client putter, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, cfg: cfg, logger: logger, now: time.Now}
}

// Publish uploads data under a unique key.
func (p *Publisher) Publish(ctx context.Context, data []byte, filename, mediaType string) (string, error) {
	key := storage.ObjectKey(p.cfg.Prefix, p.now(), uuid.NewString(), filename)

	in := &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mediaType),
	}
	if p.cfg.ACL != "" {
		in.ACL = types.ObjectCannedACL(p.cfg.ACL)
	}
	if _, err := p.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	u := p.URL(key)
	p.logger.InfoContext(ctx, "artifact uploaded", "bucket", p.cfg.Bucket, "key", key, "bytes", len(data))
	return u, nil
}

// URL returns the public address of key.
func (p *Publisher) URL(key string) string {
	escaped := escapeKey(key)
	switch {
	case p.cfg.PublicBaseURL != "":
		return storage.JoinURL(p.cfg.PublicBaseURL, escaped)
	case p.cfg.Endpoint != "":
		if p.cfg.PathStyle {
			return storage.JoinURL(p.cfg.Endpoint, p.cfg.Bucket, escaped)
		}
		if u, err := url.Parse(p.cfg.Endpoint); err == nil && u.Host != "" {
			u.Host = p.cfg.Bucket + "." + u.Host
			return storage.JoinURL(u.String(), escaped)
		}
		return storage.JoinURL(p.cfg.Endpoint, p.cfg.Bucket, escaped)
	case p.cfg.PathStyle:
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", p.cfg.Region, p.cfg.Bucket, escaped)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.cfg.Bucket, p.cfg.Region, escaped)
	}
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
