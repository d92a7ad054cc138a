// Package upload coalesces a chunk sequence into fixed-size parts and
// writes them to an object store as one multipart upload, skipping objects
// that already exist.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// DefaultPartSize is the smallest part size S3 accepts for non-final parts.
const DefaultPartSize = 5 << 20

// ErrEmptySource is returned when the source ends before producing a byte.
// No completion is issued and the multipart upload is left unfinished.
var ErrEmptySource = errors.New("upload: source produced no data")

// ChunkSource yields the bytes to upload in order. Next returns io.EOF after
// the last chunk.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// Destination identifies the object being written.
type Destination struct {
	Bucket      string
	Key         string
	ContentType string
}

// CompletedPart is a part number and the entity tag the store returned for it.
type CompletedPart struct {
	Number int32
	ETag   string
}

// ObjectStore is the multipart subset of an object storage backend.
// UploadPart must not retain body after it returns.
type ObjectStore interface {
	Head(ctx context.Context, dst Destination) (exists bool, err error)
	CreateMultipart(ctx context.Context, dst Destination) (uploadID string, err error)
	UploadPart(ctx context.Context, dst Destination, uploadID string, number int32, body []byte) (etag string, err error)
	Complete(ctx context.Context, dst Destination, uploadID string, parts []CompletedPart) error
}

// StoreError reports a failed object store call.
type StoreError struct {
	Op   string
	Key  string
	Part int32
	Err  error
}

func (e *StoreError) Error() string {
	if e.Part > 0 {
		return fmt.Sprintf("upload: %s %s part %d: %v", e.Op, e.Key, e.Part, e.Err)
	}
	return fmt.Sprintf("upload: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Result describes a finished Upload.
type Result struct {
	// Skipped is set when the object already existed and the source was
	// not read.
	Skipped  bool
	UploadID string
	Parts    int
	Bytes    int64
}

// Uploader drives multipart uploads against an ObjectStore. Parts are sent
// one at a time, so memory use is bounded by a single part buffer.
type Uploader struct {
	store    ObjectStore
	partSize int
	log      *slog.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithPartSize sets the part size. Every part except the last has exactly
// this many bytes.
func WithPartSize(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.partSize = n
		}
	}
}

// WithLogger sets the uploader's logger.
func WithLogger(log *slog.Logger) Option {
	return func(u *Uploader) {
		if log != nil {
			u.log = log.With("component", "upload")
		}
	}
}

// NewUploader returns an Uploader writing to store.
func NewUploader(store ObjectStore, opts ...Option) *Uploader {
	u := &Uploader{
		store:    store,
		partSize: DefaultPartSize,
		log:      slog.With("component", "upload"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// PartSize returns the configured part size.
func (u *Uploader) PartSize() int { return u.partSize }

// session is one multipart upload in progress.
type session struct {
	dst      Destination
	uploadID string
	parts    []CompletedPart
}

// Upload writes src to dst. If dst already exists it returns a skipped
// Result without reading src. Any failure after the upload was created is
// returned as is; the upload is neither completed nor aborted.
func (u *Uploader) Upload(ctx context.Context, src ChunkSource, dst Destination) (Result, error) {
	log := u.log.With("bucket", dst.Bucket, "key", dst.Key)

	exists, err := u.store.Head(ctx, dst)
	if err != nil {
		return Result{}, &StoreError{Op: "head", Key: dst.Key, Err: err}
	}
	if exists {
		log.Debug("object exists, skipping upload")
		return Result{Skipped: true}, nil
	}

	uploadID, err := u.store.CreateMultipart(ctx, dst)
	if err != nil {
		return Result{}, &StoreError{Op: "create multipart", Key: dst.Key, Err: err}
	}
	log.Debug("multipart upload created", "upload_id", uploadID)

	s := &session{dst: dst, uploadID: uploadID}
	res := Result{UploadID: uploadID}
	buf := newPartBuffer(u.partSize)

	for {
		chunk, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("upload: read source: %w", err)
		}
		res.Bytes += int64(len(chunk))

		for len(chunk) > 0 {
			chunk = chunk[buf.fill(chunk):]
			if buf.full() {
				if err := u.uploadPart(ctx, s, buf); err != nil {
					return res, err
				}
				res.Parts = len(s.parts)
			}
		}
	}

	if buf.len() > 0 {
		if err := u.uploadPart(ctx, s, buf); err != nil {
			return res, err
		}
		res.Parts = len(s.parts)
	}
	if len(s.parts) == 0 {
		return res, ErrEmptySource
	}

	if err := u.store.Complete(ctx, dst, uploadID, s.parts); err != nil {
		return res, &StoreError{Op: "complete", Key: dst.Key, Err: err}
	}
	log.Info("upload complete", "parts", res.Parts, "bytes", res.Bytes)
	return res, nil
}

func (u *Uploader) uploadPart(ctx context.Context, s *session, buf *partBuffer) error {
	number := int32(len(s.parts) + 1)
	etag, err := u.store.UploadPart(ctx, s.dst, s.uploadID, number, buf.bytes())
	if err != nil {
		return &StoreError{Op: "upload part", Key: s.dst.Key, Part: number, Err: err}
	}
	s.parts = append(s.parts, CompletedPart{Number: number, ETag: etag})
	buf.reset()
	return nil
}
