// Package s3store is the primary objstore.Store adapter: Amazon S3 or any
// S3-API-compatible endpoint (MinIO, Ceph RGW, ...), per spec.md §1. Segment
// and HEAD conditional writes are expressed with S3's native IfMatch/
// IfNoneMatch precondition headers, and transient faults are retried by the
// AWS SDK's own standard retryer rather than a hand-rolled backoff loop.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	pkgerrors "github.com/pkg/errors"

	"github.com/fusio-io/fusio-manifest/internal/xlog"
	"github.com/fusio-io/fusio-manifest/objstore"
)

// Config describes how to reach the bucket backing one manifest prefix.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // non-empty for MinIO/Ceph RGW/other S3-compatibles
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	MaxAttempts     int // bounded retry attempts for transient faults; 0 = SDK default (3)
}

// Store adapts an S3 bucket to objstore.Store.
type Store struct {
	client *s3.Client
	bucket string
}

// New constructs a Store, loading AWS credentials/region the same way the
// teacher's own S3-backed persistence layer does (static credentials when
// supplied, falling back to the default provider chain otherwise).
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	opts = append(opts, config.WithRetryer(func() aws.Retryer {
		return awsretry.AddWithMaxAttempts(awsretry.NewStandard(), maxAttempts)
	}))

	awscfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "s3store: load aws config")
	}

	var s3opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Store{
		client: s3.NewFromConfig(awscfg, s3opts...),
		bucket: cfg.Bucket,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) (objstore.Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return objstore.Object{}, objstore.ErrNotFound
		}
		return objstore.Object{}, classify(err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return objstore.Object{}, classify(err)
	}
	return objstore.Object{Body: body, ETag: unquote(aws.ToString(out.ETag))}, nil
}

func (s *Store) PutIfMatch(ctx context.Context, key string, body []byte, pre objstore.Precondition) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	switch pre.Kind {
	case objstore.PreconditionIfNotExists:
		in.IfNoneMatch = aws.String("*")
	case objstore.PreconditionIfMatch:
		in.IfMatch = aws.String(quote(pre.Tag))
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", objstore.ErrPreconditionFailed
		}
		return "", classify(err)
	}
	return unquote(aws.ToString(out.ETag)), nil
}

func (s *Store) List(ctx context.Context, prefix string, startAfter string) ([]objstore.Entry, error) {
	var entries []objstore.Entry
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:     aws.String(s.bucket),
		Prefix:     aws.String(prefix),
		StartAfter: aws.String(startAfter),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, obj := range page.Contents {
			entries = append(entries, objstore.Entry{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNoSuchKey(err) {
		return classify(err)
	}
	return nil
}

func quote(etag string) string {
	if strings.HasPrefix(etag, `"`) {
		return etag
	}
	return `"` + etag + `"`
}

func unquote(etag string) string {
	return strings.Trim(etag, `"`)
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

func isPreconditionFailed(err error) bool {
	// PutObject with a failed IfMatch/IfNoneMatch precondition surfaces as an
	// HTTP 412 (PreconditionFailed) or, for IfNoneMatch races specifically,
	// sometimes a 409 (Conflict) depending on endpoint; match on status code
	// rather than a typed error since smithy-go doesn't model this one.
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		code := re.HTTPStatusCode()
		return code == 412 || code == 409
	}
	return false
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	xlog.Warningf("s3store: %v", err)
	return pkgerrors.Wrap(objstore.ErrUnavailable, err.Error())
}
