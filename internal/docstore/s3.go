package docstore

import (
	"context"
	"errors"
	"sort"

	"github.com/aura-hunt/backend/internal/ports"
	"github.com/aura-hunt/backend/pkg/storage"
)

// S3 stores each document as one object; S3 conditional writes enforce the etag.
type S3 struct {
	client *storage.S3
}

// NewS3 returns a store over client.
func NewS3(client *storage.S3) *S3 {
	return &S3{client: client}
}

// Get returns the document stored under key and its etag.
func (s *S3) Get(ctx context.Context, key string) (Object, error) {
	data, etag, err := s.client.GetObject(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return Object{}, ports.NotFound("object %s", key)
		}
		return Object{}, ports.Unavailable("get "+key, err)
	}
	return Object{Data: data, ETag: etag}, nil
}

// Put writes data under key if expectedETag allows it and returns the new etag.
func (s *S3) Put(ctx context.Context, key string, data []byte, expectedETag string) (string, error) {
	var cond storage.Condition
	switch expectedETag {
	case "":
	case IfAbsent:
		cond.IfAbsent = true
	default:
		cond.IfMatch = expectedETag
	}
	etag, err := s.client.PutObject(ctx, key, data, cond)
	if err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			return "", ports.Conflict(key)
		}
		return "", ports.Unavailable("put "+key, err)
	}
	return etag, nil
}

// List returns the keys starting with prefix, sorted.
func (s *S3) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.client.ListKeys(ctx, prefix)
	if err != nil {
		return nil, ports.Unavailable("list "+prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; the SDK client holds no connections that need releasing.
func (s *S3) Close() error { return nil }
