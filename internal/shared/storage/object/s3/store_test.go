package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "2025-11-30/original_chart.png", want: "2025-11-30/original_chart.png"},
		{name: "simple prefix", prefix: "charts", key: "2025-11-30/original_chart.png", want: "charts/2025-11-30/original_chart.png"},
		{name: "prefix trailing slash", prefix: "charts/", key: "2025-11-30/a.png", want: "charts/2025-11-30/a.png"},
		{name: "prefix and key slashes", prefix: "/charts/", key: "/2025-11-30/a.png", want: "charts/2025-11-30/a.png"},
		{name: "nested prefix", prefix: "archive/charts", key: "2025-11-30/a.png", want: "archive/charts/2025-11-30/a.png"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

type fakeS3 struct {
	puts   []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(params.Body)
	f.puts = append(f.puts, params)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("archived"))}, nil
}

func TestPutAppliesPrefixAndEncryption(t *testing.T) {
	fake := &fakeS3{}
	store := NewWithClient(fake, "bucket", "charts", "")

	n, err := store.Put(context.Background(), "2025-11-30/analysis.json", "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != int64(len(`{"a":1}`)) {
		t.Fatalf("expected counted bytes, got %d", n)
	}
	if len(fake.puts) != 1 {
		t.Fatalf("expected 1 put, got %d", len(fake.puts))
	}
	in := fake.puts[0]
	if aws.ToString(in.Key) != "charts/2025-11-30/analysis.json" {
		t.Fatalf("unexpected key %q", aws.ToString(in.Key))
	}
	if in.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected AES256 SSE, got %q", in.ServerSideEncryption)
	}
}

func TestPutUsesKMSWhenConfigured(t *testing.T) {
	fake := &fakeS3{}
	store := NewWithClient(fake, "bucket", "", "kms-key")
	if _, err := store.Put(context.Background(), "k", "image/png", strings.NewReader("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if fake.puts[0].ServerSideEncryption != s3types.ServerSideEncryptionAwsKms {
		t.Fatalf("expected aws:kms SSE")
	}
	if aws.ToString(fake.puts[0].SSEKMSKeyId) != "kms-key" {
		t.Fatalf("expected kms key id")
	}
}

func TestPutWrapsClientError(t *testing.T) {
	boom := errors.New("boom")
	store := NewWithClient(&fakeS3{err: boom}, "bucket", "", "")
	_, err := store.Put(context.Background(), "k", "image/png", strings.NewReader("x"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped client error, got %v", err)
	}
}
