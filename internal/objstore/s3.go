// Package objstore implements the upload.ObjectStore boundary on Amazon S3
// and S3-compatible services.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/zsiec/sounds-relay/internal/upload"
)

// CacheControl is set on every object this store creates.
const CacheControl = "public, max-age=604800"

// API is the subset of the S3 client the store uses.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
}

// Config selects the bucket and how objects are addressed.
type Config struct {
	Bucket string
	Region string
	// Endpoint overrides the S3 endpoint, for S3-compatible services.
	Endpoint string
	// PublicBaseURL is the prefix clients are redirected to. When empty the
	// virtual-hosted S3 URL is used.
	PublicBaseURL string
	PathStyle     bool
	PublicRead    bool
}

// S3 stores objects in one bucket.
type S3 struct {
	api API
	cfg Config
	log *slog.Logger
}

var _ upload.ObjectStore = (*S3)(nil)

// New loads AWS credentials from the default chain and returns a store for
// cfg.Bucket.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objstore: load aws config: %w", err)
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
	return NewWithAPI(client, cfg, log), nil
}

// NewWithAPI returns a store backed by api.
func NewWithAPI(api API, cfg Config, log *slog.Logger) *S3 {
	if log == nil {
		log = slog.Default()
	}
	return &S3{
		api: api,
		cfg: cfg,
		log: log.With("component", "objstore", "bucket", cfg.Bucket),
	}
}

// Bucket returns the configured bucket name.
func (s *S3) Bucket() string { return s.cfg.Bucket }

// ObjectURL returns the URL clients fetch key from.
func (s *S3) ObjectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	switch {
	case s.cfg.PublicBaseURL != "":
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + escaped
	case s.cfg.Endpoint != "":
		return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, escaped)
	}
}

// Head reports whether dst exists. Only a not-found answer yields false
// without an error.
func (s *S3) Head(ctx context.Context, dst upload.Destination) (bool, error) {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket(dst)),
		Key:    aws.String(dst.Key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

// CreateMultipart starts a multipart upload for dst.
func (s *S3) CreateMultipart(ctx context.Context, dst upload.Destination) (string, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(s.bucket(dst)),
		Key:          aws.String(dst.Key),
		CacheControl: aws.String(CacheControl),
	}
	if dst.ContentType != "" {
		in.ContentType = aws.String(dst.ContentType)
	}
	if s.cfg.PublicRead {
		in.ACL = types.ObjectCannedACLPublicRead
	}

	out, err := s.api.CreateMultipartUpload(ctx, in)
	if err != nil {
		return "", err
	}
	if out.UploadId == nil {
		return "", errors.New("objstore: create multipart upload returned no upload id")
	}
	s.log.Debug("multipart upload started", "key", dst.Key, "upload_id", *out.UploadId)
	return *out.UploadId, nil
}

// UploadPart uploads one part. body is not retained.
func (s *S3) UploadPart(ctx context.Context, dst upload.Destination, uploadID string, number int32, body []byte) (string, error) {
	out, err := s.api.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket(dst)),
		Key:           aws.String(dst.Key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(number),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

// Complete finishes the upload with the given parts, in order.
func (s *S3) Complete(ctx context.Context, dst upload.Destination, uploadID string, parts []upload.CompletedPart) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		}
	}
	_, err := s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket(dst)),
		Key:             aws.String(dst.Key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	return err
}

func (s *S3) bucket(dst upload.Destination) string {
	if dst.Bucket != "" {
		return dst.Bucket
	}
	return s.cfg.Bucket
}
