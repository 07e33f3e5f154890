package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// ContentTypeJSON is the content type of stored documents.
const ContentTypeJSON = "application/json"

var (
	// ErrObjectNotFound is returned when the key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrPreconditionFailed is returned when a conditional write lost its race.
	ErrPreconditionFailed = errors.New("precondition failed")
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint for S3-compatible stores (MinIO, RustFS).
	Endpoint     string
	UsePathStyle bool
	Bucket       string
	// Prefix is prepended to every key, e.g. "hunts/prod".
	Prefix string
}

// ObjectAPI is the subset of the S3 client used for documents.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Condition guards a PutObject. The zero value writes unconditionally.
type Condition struct {
	// IfMatch requires the stored object to carry this etag.
	IfMatch string
	// IfAbsent requires that no object exists under the key.
	IfAbsent bool
}

// S3 reads and conditionally writes small JSON objects in one bucket.
type S3 struct {
	client ObjectAPI
	cfg    S3Config
	logger *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("S3 client using static credentials", zap.String("region", region), zap.String("bucket", cfg.Bucket))
	} else {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewS3WithClient(client, cfg, logger), nil
}

// NewS3WithClient wraps an existing client, e.g. a test double.
func NewS3WithClient(client ObjectAPI, cfg S3Config, logger *zap.Logger) *S3 {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3{client: client, cfg: cfg, logger: logger}
}

// ObjectKey returns the full S3 key for a document key.
func (s *S3) ObjectKey(key string) string {
	if s.cfg.Prefix == "" {
		return key
	}
	return path.Join(strings.Trim(s.cfg.Prefix, "/"), key)
}

// GetObject returns the object body and its etag.
func (s *S3) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.ObjectKey(key)),
	})
	if err != nil {
		if IsNotFound(err) {
			return nil, "", fmt.Errorf("get %s: %w", key, ErrObjectNotFound)
		}
		return nil, "", fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read object %s: %w", key, err)
	}
	return body, aws.ToString(out.ETag), nil
}

// PutObject writes data under key subject to cond and returns the new etag.
func (s *S3) PutObject(ctx context.Context, key string, data []byte, cond Condition) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(s.ObjectKey(key)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(ContentTypeJSON),
		ContentLength: aws.Int64(int64(len(data))),
	}
	switch {
	case cond.IfAbsent:
		input.IfNoneMatch = aws.String("*")
	case cond.IfMatch != "":
		input.IfMatch = aws.String(cond.IfMatch)
	}
	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		switch {
		case IsPreconditionFailed(err):
			return "", fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
		case cond.IfMatch != "" && IsNotFound(err):
			// If-Match against a deleted object
			return "", fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
		}
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return aws.ToString(out.ETag), nil
}

// ListKeys returns the document keys under prefix, without the configured key prefix.
func (s *S3) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	full := s.ObjectKey(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(full, "/") {
		full += "/"
	}
	root := ""
	if s.cfg.Prefix != "" {
		root = strings.Trim(s.cfg.Prefix, "/") + "/"
	}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(full),
	})
	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, strings.TrimPrefix(aws.ToString(obj.Key), root))
		}
	}
	return keys, nil
}

// IsNotFound reports whether err is an S3 missing-object error.
func IsNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// IsPreconditionFailed reports whether err is a failed If-Match/If-None-Match
// (412) or a concurrent conditional write (409).
func IsPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == http.StatusPreconditionFailed || code == http.StatusConflict
	}
	return false
}
