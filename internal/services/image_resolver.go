package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/platform/storage"
	"github.com/adreel/api/internal/repositories"
)

const (
	defaultMaxInlineImageBytes = 20 << 20
	defaultImageMimeType       = "image/jpeg"
)

var imageMimeByExtension = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
}

type ImageResolverDeps struct {
	Objects ObjectStore
	// Signer is optional; without it the signed URL step is skipped.
	Signer URLSigner
	// Jobs receives the canonical reference when it had to be recovered.
	Jobs           repositories.VideoJobRepository
	DefaultBucket  string
	AltDomains     []string
	MaxInlineBytes int64
	SignedURLTTL   time.Duration
	TokenGenerator func() string
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type imageResolver struct {
	objects       ObjectStore
	signer        URLSigner
	jobs          repositories.VideoJobRepository
	defaultBucket string
	altDomains    []string
	maxInline     int64
	signedTTL     time.Duration
	newToken      func() string
	now           func() time.Time
	logger        func(context.Context, string, map[string]any)
}

var _ ImageResolver = (*imageResolver)(nil)

func NewImageResolver(deps ImageResolverDeps) (ImageResolver, error) {
	if deps.Objects == nil {
		return nil, errors.New("image resolver: object store is required")
	}
	maxInline := deps.MaxInlineBytes
	if maxInline <= 0 {
		maxInline = defaultMaxInlineImageBytes
	}
	newToken := deps.TokenGenerator
	if newToken == nil {
		newToken = func() string { return uuid.NewString() }
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &imageResolver{
		objects:       deps.Objects,
		signer:        deps.Signer,
		jobs:          deps.Jobs,
		defaultBucket: strings.TrimSpace(deps.DefaultBucket),
		altDomains:    append([]string(nil), deps.AltDomains...),
		maxInline:     maxInline,
		signedTTL:     deps.SignedURLTTL,
		newToken:      newToken,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Resolve finds the product image in the first candidate bucket that holds it
// and returns it inline, as a signed URL, or as a token URL, in that order of
// preference.
func (r *imageResolver) Resolve(ctx context.Context, job VideoJob) (ResolvedImage, error) {
	ref, source, ok := r.canonicalRef(job)
	if !ok {
		return ResolvedImage{}, newJobFailure(ErrVideoJobFailedPrecondition, domain.VideoJobReasonImageRequired, ErrImageRequired)
	}
	if source != ImageSourceDeclared {
		r.writeBack(ctx, job.ID, ref)
	}

	var misses []string
	for _, bucket := range r.candidateBuckets(ref.Bucket) {
		candidate := ref.WithBucket(bucket)
		attrs, err := r.objects.Attrs(ctx, candidate)
		if err != nil {
			if !errors.Is(err, storage.ErrObjectNotFound) {
				r.logger(ctx, "image.lookup_failed", map[string]any{"ref": candidate.String(), "error": err.Error()})
			}
			misses = append(misses, candidate.String())
			continue
		}

		for _, step := range []resolveStep{r.inline, r.signedURL, r.tokenURL} {
			result := step(ctx, candidate, attrs)
			if result.ok {
				image := result.image
				image.Ref = candidate
				image.Bucket = bucket
				image.Source = source
				image.MimeType = imageMimeType(attrs.ContentType, candidate.Object)
				return image, nil
			}
			if result.err != nil {
				r.logger(ctx, "image.step_failed", map[string]any{"ref": candidate.String(), "error": result.err.Error()})
			}
		}
		misses = append(misses, candidate.String())
	}

	return ResolvedImage{}, newJobFailure(
		ErrVideoJobFailedPrecondition,
		domain.VideoJobReasonImageResolutionFailed,
		fmt.Errorf("%w: tried %s", ErrImageResolutionFailed, strings.Join(misses, ", ")),
	)
}

// stepResult is the outcome of one delivery strategy. ok=false with a nil err
// means the strategy did not apply.
type stepResult struct {
	image ResolvedImage
	ok    bool
	err   error
}

type resolveStep func(ctx context.Context, ref storage.ObjectRef, attrs storage.ObjectAttrs) stepResult

func (r *imageResolver) inline(ctx context.Context, ref storage.ObjectRef, attrs storage.ObjectAttrs) stepResult {
	if attrs.Size > r.maxInline {
		return stepResult{}
	}
	data, err := r.objects.Download(ctx, ref, r.maxInline)
	if err != nil {
		if errors.Is(err, storage.ErrObjectTooLarge) {
			return stepResult{}
		}
		return stepResult{err: fmt.Errorf("inline download: %w", err)}
	}
	return stepResult{image: ResolvedImage{Bytes: data, Method: ImageMethodInline}, ok: true}
}

func (r *imageResolver) signedURL(ctx context.Context, ref storage.ObjectRef, _ storage.ObjectAttrs) stepResult {
	if r.signer == nil {
		return stepResult{}
	}
	signed, err := r.signer.SignedDownloadURL(ctx, ref, r.signedTTL)
	if err != nil {
		return stepResult{err: fmt.Errorf("sign url: %w", err)}
	}
	return stepResult{image: ResolvedImage{URL: signed.URL, Method: ImageMethodSignedURL}, ok: true}
}

func (r *imageResolver) tokenURL(ctx context.Context, ref storage.ObjectRef, attrs storage.ObjectAttrs) stepResult {
	token := firstToken(attrs.Metadata[storage.DownloadTokenKey])
	if token == "" {
		token = r.newToken()
		if err := r.objects.UpdateMetadata(ctx, ref, map[string]string{storage.DownloadTokenKey: token}); err != nil {
			return stepResult{err: fmt.Errorf("mint download token: %w", err)}
		}
	}
	return stepResult{image: ResolvedImage{URL: storage.TokenDownloadURL(ref, token), Method: ImageMethodTokenURL}, ok: true}
}

// canonicalRef prefers the declared gs:// path, then the legacy path, then the
// legacy download URL.
func (r *imageResolver) canonicalRef(job VideoJob) (storage.ObjectRef, ImageSource, bool) {
	if declared := job.Prompt.Product.ImageGSPath; declared != "" {
		if ref, err := storage.ParseGSURI(declared); err == nil {
			return ref, ImageSourceDeclared, true
		}
	}
	if legacy := job.InputImagePath; legacy != "" {
		if ref, err := storage.ParseStoragePath(legacy, r.defaultBucket); err == nil {
			return ref, ImageSourceLegacyPath, true
		}
	}
	if legacy := job.InputImageURL; legacy != "" {
		if ref, err := storage.ParseHTTPSURL(legacy, r.altDomains); err == nil {
			return ref, ImageSourceLegacyURL, true
		}
	}
	return storage.ObjectRef{}, "", false
}

func (r *imageResolver) candidateBuckets(declared string) []string {
	var buckets []string
	seen := make(map[string]struct{}, 4)
	add := func(bucket string) {
		bucket = strings.TrimSpace(bucket)
		if bucket == "" {
			return
		}
		if _, ok := seen[bucket]; ok {
			return
		}
		seen[bucket] = struct{}{}
		buckets = append(buckets, bucket)
	}
	for _, bucket := range []string{declared, r.defaultBucket} {
		add(bucket)
		if twin, ok := storage.AlternateBucket(bucket); ok {
			add(twin)
		}
	}
	return buckets
}

func (r *imageResolver) writeBack(ctx context.Context, jobID string, ref storage.ObjectRef) {
	if r.jobs == nil || strings.TrimSpace(jobID) == "" {
		return
	}
	gsPath := ref.GSURI()
	err := r.jobs.Update(ctx, jobID, repositories.VideoJobUpdate{ImageGSPath: &gsPath, UpdatedAt: r.now()})
	if err != nil {
		r.logger(ctx, "image.write_back_failed", map[string]any{"jobId": jobID, "error": err.Error()})
	}
}

func firstToken(value string) string {
	token, _, _ := strings.Cut(value, ",")
	return strings.TrimSpace(token)
}

func imageMimeType(contentType, object string) string {
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	if strings.HasPrefix(contentType, "image/") {
		if base, _, _ := strings.Cut(contentType, ";"); base != "" {
			return strings.TrimSpace(base)
		}
	}
	if mimeType, ok := imageMimeByExtension[strings.ToLower(path.Ext(object))]; ok {
		return mimeType
	}
	return defaultImageMimeType
}
