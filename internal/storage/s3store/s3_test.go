package s3store

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeClient struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestPublishUploadsObject(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, Config{Bucket: "plots-bucket", Region: "eu-west-1", Prefix: "plots", ACL: "public-read"}, nil)
	p.now = func() time.Time { return time.Unix(1700000000, 0) }

	url, err := p.Publish(context.Background(), []byte("png"), "plot.png", "image/png")
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(client.inputs) != 1 {
		t.Fatalf("PutObject calls = %d, want 1", len(client.inputs))
	}
	in := client.inputs[0]
	if aws.ToString(in.Bucket) != "plots-bucket" {
		t.Errorf("bucket = %q", aws.ToString(in.Bucket))
	}
	key := aws.ToString(in.Key)
	if !regexp.MustCompile(`^plots/1700000000_[0-9a-f-]{36}_plot\.png$`).MatchString(key) {
		t.Errorf("key = %q", key)
	}
	if aws.ToString(in.ContentType) != "image/png" {
		t.Errorf("content type = %q", aws.ToString(in.ContentType))
	}
	if in.ACL != types.ObjectCannedACLPublicRead {
		t.Errorf("acl = %q", in.ACL)
	}
	if string(client.bodies[0]) != "png" {
		t.Errorf("body = %q", client.bodies[0])
	}

	want := "https://plots-bucket.s3.eu-west-1.amazonaws.com/" + key
	if url != want {
		t.Errorf("url = %q, want %q", url, want)
	}
}

func TestPublishWithoutACL(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, Config{Bucket: "b", Region: "us-east-1"}, nil)

	if _, err := p.Publish(context.Background(), []byte("x"), "a.jpg", "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	if client.inputs[0].ACL != "" {
		t.Errorf("acl = %q, want unset", client.inputs[0].ACL)
	}
}

func TestPublishError(t *testing.T) {
	p := newPublisher(&fakeClient{err: errors.New("access denied")}, Config{Bucket: "b"}, nil)

	url, err := p.Publish(context.Background(), []byte("x"), "a.png", "image/png")
	if err == nil {
		t.Fatal("expected error")
	}
	if url != "" {
		t.Errorf("url = %q, want empty", url)
	}
}

func TestURL(t *testing.T) {
	const key = "plots/1_id_my plot.png"

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "virtual host",
			cfg:  Config{Bucket: "b", Region: "us-east-2"},
			want: "https://b.s3.us-east-2.amazonaws.com/plots/1_id_my%20plot.png",
		},
		{
			name: "path style",
			cfg:  Config{Bucket: "b", Region: "us-east-2", PathStyle: true},
			want: "https://s3.us-east-2.amazonaws.com/b/plots/1_id_my%20plot.png",
		},
		{
			name: "public base url",
			cfg:  Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"},
			want: "https://cdn.example.com/plots/1_id_my%20plot.png",
		},
		{
			name: "custom endpoint path style",
			cfg:  Config{Bucket: "b", Endpoint: "http://localhost:9000", PathStyle: true},
			want: "http://localhost:9000/b/plots/1_id_my%20plot.png",
		},
		{
			name: "custom endpoint virtual host",
			cfg:  Config{Bucket: "b", Endpoint: "https://storage.googleapis.com"},
			want: "https://b.storage.googleapis.com/plots/1_id_my%20plot.png",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPublisher(nil, tt.cfg, nil)
			if got := p.URL(key); got != tt.want {
				t.Errorf("URL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}, nil); err == nil {
		t.Error("expected error for empty bucket")
	}
}
