// Package storagetest provides an in-process S3 object API with conditional
// write semantics for tests.
package storagetest

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/aura-hunt/backend/pkg/storage"
	"github.com/aura-hunt/backend/pkg/utils"
)

var _ storage.ObjectAPI = (*FakeS3)(nil)

type object struct {
	data []byte
	etag string
}

// FakeS3 stores objects of any bucket in memory.
type FakeS3 struct {
	mu      sync.Mutex
	objects map[string]object
	rev     uint64
	// Err, when set, is returned by every call.
	Err error
	// PageSize limits ListObjectsV2 pages; zero means 1000.
	PageSize int
}

// NewFakeS3 returns an empty fake.
func NewFakeS3() *FakeS3 {
	return &FakeS3{objects: make(map[string]object)}
}

func id(bucket, key *string) string { return aws.ToString(bucket) + "/" + aws.ToString(key) }

// GetObject implements storage.ObjectAPI.
func (f *FakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	obj, ok := f.objects[id(in.Bucket, in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(obj.data))),
		ETag: aws.String(obj.etag),
	}, nil
}

// PutObject implements storage.ObjectAPI including If-Match and If-None-Match.
func (f *FakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	k := id(in.Bucket, in.Key)
	cur, exists := f.objects[k]
	if aws.ToString(in.IfNoneMatch) == "*" && exists {
		return nil, preconditionFailed()
	}
	if m := aws.ToString(in.IfMatch); m != "" {
		if !exists {
			return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}
		}
		if m != cur.etag {
			return nil, preconditionFailed()
		}
	}
	f.rev++
	obj := object{data: data, etag: utils.ContentETag(f.rev, data)}
	f.objects[k] = obj
	return &s3.PutObjectOutput{ETag: aws.String(obj.etag)}, nil
}

// ListObjectsV2 implements storage.ObjectAPI with continuation tokens.
func (f *FakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	root := aws.ToString(in.Bucket) + "/"
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, root+aws.ToString(in.Prefix)) {
			keys = append(keys, strings.TrimPrefix(k, root))
		}
	}
	sort.Strings(keys)
	if after := aws.ToString(in.ContinuationToken); after != "" {
		i := sort.SearchStrings(keys, after)
		keys = keys[i:]
	}
	size := f.PageSize
	if size <= 0 {
		size = 1000
	}
	out := &s3.ListObjectsV2Output{}
	if len(keys) > size {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[size])
		keys = keys[:size]
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

// Raw returns the stored bytes of key in bucket.
func (f *FakeS3) Raw(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[bucket+"/"+key]
	return obj.data, ok
}

// Seed stores data without conditions and returns its etag.
func (f *FakeS3) Seed(bucket, key string, data []byte) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rev++
	obj := object{data: append([]byte(nil), data...), etag: utils.ContentETag(f.rev, data)}
	f.objects[bucket+"/"+key] = obj
	return obj.etag
}

func preconditionFailed() error {
	return &smithy.GenericAPIError{
		Code:    "PreconditionFailed",
		Message: "At least one of the pre-conditions you specified did not hold",
	}
}
