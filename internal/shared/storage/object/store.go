package object

import (
	"context"
	"io"
)

// ObjectStore archives binary artifacts under slash-separated keys.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Name() string
}
