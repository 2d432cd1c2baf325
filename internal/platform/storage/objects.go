package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

var (
	ErrObjectNotFound = errors.New("storage: object not found")
	ErrObjectTooLarge = errors.New("storage: object exceeds size limit")
)

// DownloadTokenKey is the custom metadata key Firebase reads download tokens from.
const DownloadTokenKey = "firebaseStorageDownloadTokens"

// ObjectAttrs is the subset of object attributes callers act on.
type ObjectAttrs struct {
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// UploadOptions describe a new object written by Upload.
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// ObjectStore wraps a Cloud Storage client with the object operations the
// video pipeline needs. Missing objects surface as ErrObjectNotFound.
type ObjectStore struct {
	client *gcs.Client
}

func NewObjectStore(client *gcs.Client) (*ObjectStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return &ObjectStore{client: client}, nil
}

func (s *ObjectStore) handle(ref ObjectRef) *gcs.ObjectHandle {
	return s.client.Bucket(ref.Bucket).Object(ref.Object)
}

// Attrs returns object attributes or ErrObjectNotFound.
func (s *ObjectStore) Attrs(ctx context.Context, ref ObjectRef) (ObjectAttrs, error) {
	if ref.IsZero() {
		return ObjectAttrs{}, ErrInvalidReference
	}
	attrs, err := s.handle(ref).Attrs(ctx)
	if err != nil {
		return ObjectAttrs{}, wrapObjectError(ref, err)
	}
	return ObjectAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Metadata:    attrs.Metadata,
	}, nil
}

// Download reads the object into memory. When limit is positive and the
// object is larger, ErrObjectTooLarge is returned without reading the body.
func (s *ObjectStore) Download(ctx context.Context, ref ObjectRef, limit int64) ([]byte, error) {
	if ref.IsZero() {
		return nil, ErrInvalidReference
	}
	reader, err := s.handle(ref).NewReader(ctx)
	if err != nil {
		return nil, wrapObjectError(ref, err)
	}
	defer reader.Close()

	if limit > 0 && reader.Attrs.Size > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrObjectTooLarge, ref, reader.Attrs.Size)
	}
	var src io.Reader = reader
	if limit > 0 {
		src = io.LimitReader(reader, limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", ref, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrObjectTooLarge, ref)
	}
	return data, nil
}

// Upload streams body into ref, replacing any existing object.
func (s *ObjectStore) Upload(ctx context.Context, ref ObjectRef, body io.Reader, opts UploadOptions) (int64, error) {
	if ref.IsZero() {
		return 0, ErrInvalidReference
	}
	writer := s.handle(ref).NewWriter(ctx)
	writer.ContentType = strings.TrimSpace(opts.ContentType)
	writer.CacheControl = strings.TrimSpace(opts.CacheControl)
	if len(opts.Metadata) > 0 {
		writer.Metadata = opts.Metadata
	}

	written, err := io.Copy(writer, body)
	if err != nil {
		_ = writer.Close()
		return written, fmt.Errorf("storage: upload %s: %w", ref, err)
	}
	if err := writer.Close(); err != nil {
		return written, fmt.Errorf("storage: finalize %s: %w", ref, err)
	}
	return written, nil
}

// UpdateMetadata merges metadata into the object's custom metadata.
func (s *ObjectStore) UpdateMetadata(ctx context.Context, ref ObjectRef, metadata map[string]string) error {
	if ref.IsZero() {
		return ErrInvalidReference
	}
	if _, err := s.handle(ref).Update(ctx, gcs.ObjectAttrsToUpdate{Metadata: metadata}); err != nil {
		return wrapObjectError(ref, err)
	}
	return nil
}

// Copy performs a server-side copy from src to dst.
func (s *ObjectStore) Copy(ctx context.Context, src, dst ObjectRef, opts UploadOptions) error {
	if src.IsZero() || dst.IsZero() {
		return errors.New("storage: source and destination must be provided")
	}
	if src == dst {
		return nil
	}

	copier := s.handle(dst).CopierFrom(s.handle(src))
	copier.ContentType = strings.TrimSpace(opts.ContentType)
	copier.CacheControl = strings.TrimSpace(opts.CacheControl)
	if len(opts.Metadata) > 0 {
		copier.Metadata = opts.Metadata
	}
	if _, err := copier.Run(ctx); err != nil {
		return wrapObjectError(src, err)
	}
	return nil
}

func wrapObjectError(ref ObjectRef, err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, ref)
	}
	return fmt.Errorf("storage: %s: %w", ref, err)
}
