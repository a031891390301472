// Package s3 implements storage.Adapter on S3-compatible object storage.
//
// Object stores cannot overwrite media in place. SecureOverwrite instead
// rewrites the whole object body with the pass pattern, which replaces the
// stored bytes at the object level before the final delete.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/storage"
)

const contentType = "application/octet-stream"

// api is the subset of the S3 client used by Store.
type api interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store implements storage.Adapter using AWS S3.
type Store struct {
	client api
	bucket string
	prefix string
	closed bool
	mu     sync.RWMutex
}

// New creates a new S3 store with the given configuration.
func New(ctx context.Context, cfg config.S3Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket name is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	} else {
		opts = append(opts, awsconfig.WithRegion("us-east-1"))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.DisableLogOutputChecksumValidationSkipped = true
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

func newWithClient(client api, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

// Provider returns "s3".
func (s *Store) Provider() string {
	return "s3"
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// UploadObject stores data under the configured prefix.
func (s *Store) UploadObject(ctx context.Context, id string, data []byte, metadata map[string]string) (string, error) {
	if err := s.checkClosed(); err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}
	if len(metadata) > 0 {
		input.Metadata = metadata
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", s.wrapError("Upload", id, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key(id)), nil
}

// DownloadObject returns the object body.
func (s *Store) DownloadObject(ctx context.Context, id string) ([]byte, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, s.wrapError("Download", id, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, storage.NewTransientError("Download", id, err)
	}
	return data, nil
}

// DeleteObject removes the object. Missing objects are not an error.
func (s *Store) DeleteObject(ctx context.Context, id string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		wrapped := s.wrapError("Delete", id, err)
		if errors.Is(wrapped, storage.ErrNotFound) {
			return nil
		}
		return wrapped
	}
	return nil
}

// VerifyDeletion reports whether a HEAD request confirms absence.
func (s *Store) VerifyDeletion(ctx context.Context, id string) (bool, error) {
	_, err := s.head(ctx, "VerifyDeletion", id)
	if errors.Is(err, storage.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// GetMetadata returns the user metadata plus the object size, or nil if the
// object is absent.
func (s *Store) GetMetadata(ctx context.Context, id string) (map[string]string, error) {
	output, err := s.head(ctx, "GetMetadata", id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	md := make(map[string]string, len(output.Metadata)+1)
	for k, v := range output.Metadata {
		md[k] = v
	}
	md[storage.MetaSize] = strconv.FormatInt(aws.ToInt64(output.ContentLength), 10)
	return md, nil
}

// SecureOverwrite rewrites the object body with pattern, keeping its size
// and metadata.
func (s *Store) SecureOverwrite(ctx context.Context, id string, pattern []byte, pass int) (*storage.OverwriteResult, error) {
	head, err := s.head(ctx, "SecureOverwrite", id)
	if err != nil {
		return nil, err
	}
	size := aws.ToInt64(head.ContentLength)

	// The SDK needs a seekable body to sign and retry the upload.
	h := storage.NewChecksum()
	body, err := io.ReadAll(io.TeeReader(storage.PatternReader(pattern, size), h))
	if err != nil {
		return nil, &storage.ObjectError{Op: "SecureOverwrite", ID: id, Err: err}
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Metadata:      head.Metadata,
	})
	if err != nil {
		return nil, s.wrapError("SecureOverwrite", id, err)
	}

	return &storage.OverwriteResult{
		Success:      true,
		Checksum:     storage.FormatChecksum(h),
		BytesWritten: size,
	}, nil
}

// Close releases resources associated with the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) head(ctx context.Context, op, id string) (*s3.HeadObjectOutput, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return nil, s.wrapError(op, id, err)
	}
	return output, nil
}

// throttlingCodes are S3 error codes worth retrying.
var throttlingCodes = map[string]bool{
	"SlowDown":            true,
	"Throttling":          true,
	"ThrottlingException": true,
	"RequestTimeout":      true,
	"InternalError":       true,
	"ServiceUnavailable":  true,
}

func (s *Store) wrapError(op, id string, err error) error {
	if err == nil {
		return nil
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return &storage.ObjectError{Op: op, ID: id, Err: storage.ErrNotFound}
		case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
			return storage.NewTransientError(op, id, err)
		}
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return &storage.ObjectError{Op: op, ID: id, Err: storage.ErrNotFound}
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return &storage.ObjectError{Op: op, ID: id, Err: storage.ErrNotFound}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && throttlingCodes[apiErr.ErrorCode()] {
		return storage.NewTransientError(op, id, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return storage.NewTransientError(op, id, err)
	}

	return &storage.ObjectError{Op: op, ID: id, Err: err}
}

var _ storage.Adapter = (*Store)(nil)
