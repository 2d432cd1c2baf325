package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	domain "github.com/adreel/api/internal/domain"
	"github.com/adreel/api/internal/platform/storage"
)

const (
	testLegacyBucket = "adreel-demo.appspot.com"
	testModernBucket = "adreel-demo.firebasestorage.app"
)

func newTestImageResolver(t *testing.T, deps ImageResolverDeps) ImageResolver {
	t.Helper()
	if deps.DefaultBucket == "" {
		deps.DefaultBucket = testModernBucket
	}
	if deps.TokenGenerator == nil {
		deps.TokenGenerator = sequence("token")
	}
	resolver, err := NewImageResolver(deps)
	if err != nil {
		t.Fatalf("NewImageResolver: %v", err)
	}
	return resolver
}

func TestImageResolverInlinesDeclaredImage(t *testing.T) {
	objects := newFakeObjectStore()
	ref := storage.ObjectRef{Bucket: testModernBucket, Object: "uploads/u1/job-1/shot.png"}
	objects.put(ref, []byte("png-bytes"), "image/png", nil)
	repo := newMemoryVideoJobRepository()

	resolver := newTestImageResolver(t, ImageResolverDeps{Objects: objects, Jobs: repo})
	job := domain.VideoJob{ID: "job-1", Prompt: domain.PromptSpec{Product: domain.ProductSpec{ImageGSPath: ref.GSURI()}}}

	image, err := resolver.Resolve(context.Background(), job)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if image.Method != ImageMethodInline || string(image.Bytes) != "png-bytes" {
		t.Fatalf("expected inline bytes, got %+v", image)
	}
	if image.MimeType != "image/png" || image.Source != ImageSourceDeclared || image.Bucket != testModernBucket {
		t.Fatalf("unexpected image metadata %+v", image)
	}
	if repo.updateCount() != 0 {
		t.Fatalf("declared reference must not be written back")
	}
}

func TestImageResolverFallsBackToTwinBucket(t *testing.T) {
	objects := newFakeObjectStore()
	object := "uploads/u1/job-1/shot.jpg"
	objects.put(storage.ObjectRef{Bucket: testModernBucket, Object: object}, []byte("jpg"), "", nil)

	resolver := newTestImageResolver(t, ImageResolverDeps{Objects: objects})
	job := domain.VideoJob{ID: "job-1", Prompt: domain.PromptSpec{Product: domain.ProductSpec{
		ImageGSPath: "gs://" + testLegacyBucket + "/" + object,
	}}}

	image, err := resolver.Resolve(context.Background(), job)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if image.Bucket != testModernBucket {
		t.Fatalf("expected twin bucket, got %s", image.Bucket)
	}
	if image.MimeType != "image/jpeg" {
		t.Fatalf("expected mime from extension, got %s", image.MimeType)
	}
	if len(objects.attrsCalls) != 2 || objects.attrsCalls[0].Bucket != testLegacyBucket {
		t.Fatalf("expected declared bucket tried first, got %v", objects.attrsCalls)
	}
}

func TestImageResolverFallsBackToDefaultBucket(t *testing.T) {
	const foreignBucket = "other-project.appspot.com"
	objects := newFakeObjectStore()
	object := "uploads/u1/job-1/shot.png"
	objects.put(storage.ObjectRef{Bucket: testModernBucket, Object: object}, []byte("png"), "image/png", nil)

	resolver := newTestImageResolver(t, ImageResolverDeps{Objects: objects, DefaultBucket: testModernBucket})
	job := domain.VideoJob{ID: "job-1", Prompt: domain.PromptSpec{Product: domain.ProductSpec{
		ImageGSPath: "gs://" + foreignBucket + "/" + object,
	}}}

	image, err := resolver.Resolve(context.Background(), job)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if image.Bucket != testModernBucket {
		t.Fatalf("expected default bucket, got %s", image.Bucket)
	}
	want := []string{foreignBucket, "other-project.firebasestorage.app", testModernBucket}
	if len(objects.attrsCalls) != len(want) {
		t.Fatalf("expected candidates %v, got %v", want, objects.attrsCalls)
	}
	for i, bucket := range want {
		if objects.attrsCalls[i].Bucket != bucket {
			t.Fatalf("expected candidate %d to be %s, got %s", i, bucket, objects.attrsCalls[i].Bucket)
		}
	}
}

func TestImageResolverNormalizesLegacyURL(t *testing.T) {
	objects := newFakeObjectStore()
	ref := storage.ObjectRef{Bucket: testModernBucket, Object: "uploads/u1/job-1/shot.webp"}
	objects.put(ref, []byte("webp"), "application/octet-stream", nil)
	repo := newMemoryVideoJobRepository(domain.VideoJob{ID: "job-1", OwnerID: "u1", Status: domain.VideoJobStatusPending})

	resolver := newTestImageResolver(t, ImageResolverDeps{Objects: objects, Jobs: repo})
	job := repo.job("job-1")
	job.InputImageURL = storage.TokenDownloadURL(ref, "abc")

	image, err := resolver.Resolve(context.Background(), job)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if image.Source != ImageSourceLegacyURL {
		t.Fatalf("expected legacy url source, got %s", image.Source)
	}
	if image.MimeType != "image/webp" {
		t.Fatalf("expected image/webp, got %s", image.MimeType)
	}
	if got := repo.job("job-1").Prompt.Product.ImageGSPath; got != ref.GSURI() {
		t.Fatalf("expected canonical path written back, got %q", got)
	}
}

func TestImageResolverLegacyPathUsesDefaultBucket(t *testing.T) {
	objects := newFakeObjectStore()
	ref := storage.ObjectRef{Bucket: testModernBucket, Object: "uploads/u1/job-1/shot.heic"}
	objects.put(ref, []byte("heic"), "", nil)

	resolver := newTestImageResolver(t, ImageResolverDeps{Objects: objects})
	job := domain.VideoJob{ID: "job-1", InputImagePath: "/uploads/u1/job-1/shot.heic"}

	image, err := resolver.Resolve(context.Background(), job)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if image.Ref != ref || image.Source != ImageSourceLegacyPath {
		t.Fatalf("expected %v from legacy path, got %+v", ref, image)
	}
	if image.MimeType != "image/heic" {
		t.Fatalf("expected image/heic, got %s", image.MimeType)
	}
}

func TestImageResolverImageRequired(t *testing.T) {
	resolver := newTestImageResolver(t, ImageResolverDeps{Objects: newFakeObjectStore()})

	_, err := resolver.Resolve(context.Background(), domain.VideoJob{ID: "job-1", InputImageURL: "not a url"})
	if !errors.Is(err, ErrImageRequired) || !errors.Is(err, ErrVideoJobFailedPrecondition) {
		t.Fatalf("expected image required precondition, got %v", err)
	}
	if reason := FailureReason(err); reason != domain.VideoJobReasonImageRequired {
		t.Fatalf("expected reason image_required, got %q", reason)
	}
}

func TestImageResolverResolutionFailedListsCandidates(t *testing.T) {
	resolver := newTestImageResolver(t, ImageResolverDeps{Objects: newFakeObjectStore()})
	job := domain.VideoJob{ID: "job-1", Prompt: domain.PromptSpec{Product: domain.ProductSpec{
		ImageGSPath: "gs://" + testLegacyBucket + "/uploads/missing.png",
	}}}

	_, err := resolver.Resolve(context.Background(), job)
	if !errors.Is(err, ErrImageResolutionFailed) {
		t.Fatalf("expected resolution failure, got %v", err)
	}
	if reason := FailureReason(err); reason != domain.VideoJobReasonImageResolutionFailed {
		t.Fatalf("expected reason image_resolution_failed, got %q", reason)
	}
	if !strings.Contains(err.Error(), testLegacyBucket) || !strings.Contains(err.Error(), testModernBucket) {
		t.Fatalf("expected both candidates in message, got %q", err.Error())
	}
}

func TestImageResolverLargeImageUsesSignedURL(t *testing.T) {
	objects := newFakeObjectStore()
	ref := storage.ObjectRef{Bucket: testModernBucket, Object: "uploads/big.png"}
	objects.put(ref, make([]byte, 64), "image/png", nil)
	signer := &fakeSigner{}

	resolver := newTestImageResolver(t, ImageResolverDeps{Objects: objects, Signer: signer, MaxInlineBytes: 16})
	job := domain.VideoJob{ID: "job-1", Prompt: domain.PromptSpec{Product: domain.ProductSpec{ImageGSPath: ref.GSURI()}}}

	image, err := resolver.Resolve(context.Background(), job)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if image.Method != ImageMethodSignedURL || image.URL != "https://signed.example/"+testModernBucket+"/uploads/big.png" {
		t.Fatalf("expected signed url, got %+v", image)
	}
	if len(image.Bytes) != 0 {
		t.Fatalf("expected no inline bytes")
	}
}

func TestImageResolverMintsTokenWhenSigningUnavailable(t *testing.T) {
	objects := newFakeObjectStore()
	ref := storage.ObjectRef{Bucket: testModernBucket, Object: "uploads/big.png"}
	objects.put(ref, make([]byte, 64), "image/png", nil)
	logger := &recordingLogger{}

	resolver := newTestImageResolver(t, ImageResolverDeps{
		Objects:        objects,
		Signer:         &fakeSigner{err: errors.New("iam: permission denied")},
		MaxInlineBytes: 16,
		Logger:         logger.log,
	})
	job := domain.VideoJob{ID: "job-1", Prompt: domain.PromptSpec{Product: domain.ProductSpec{ImageGSPath: ref.GSURI()}}}

	image, err := resolver.Resolve(context.Background(), job)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if image.Method != ImageMethodTokenURL || image.URL != storage.TokenDownloadURL(ref, "token-1") {
		t.Fatalf("expected minted token url, got %+v", image)
	}
	if objects.metadataUpdates != 1 {
		t.Fatalf("expected one metadata update, got %d", objects.metadataUpdates)
	}
	stored, _ := objects.get(ref)
	if stored.metadata[storage.DownloadTokenKey] != "token-1" {
		t.Fatalf("expected token persisted on object, got %v", stored.metadata)
	}
	if !logger.has("image.step_failed") {
		t.Fatalf("expected signing failure to be logged")
	}
}

func TestImageResolverReusesExistingToken(t *testing.T) {
	objects := newFakeObjectStore()
	ref := storage.ObjectRef{Bucket: testModernBucket, Object: "uploads/big.png"}
	objects.put(ref, make([]byte, 64), "image/png", map[string]string{storage.DownloadTokenKey: "existing, second"})

	resolver := newTestImageResolver(t, ImageResolverDeps{Objects: objects, MaxInlineBytes: 16})
	job := domain.VideoJob{ID: "job-1", Prompt: domain.PromptSpec{Product: domain.ProductSpec{ImageGSPath: ref.GSURI()}}}

	image, err := resolver.Resolve(context.Background(), job)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if image.URL != storage.TokenDownloadURL(ref, "existing") {
		t.Fatalf("expected existing token url, got %s", image.URL)
	}
	if objects.metadataUpdates != 0 {
		t.Fatalf("expected no metadata writes, got %d", objects.metadataUpdates)
	}
}

func TestImageMimeType(t *testing.T) {
	cases := []struct {
		contentType string
		object      string
		want        string
	}{
		{"image/png; charset=binary", "a.jpg", "image/png"},
		{"application/octet-stream", "a.PNG", "image/png"},
		{"", "a.gif", "image/gif"},
		{"", "noext", "image/jpeg"},
	}
	for _, tc := range cases {
		if got := imageMimeType(tc.contentType, tc.object); got != tc.want {
			t.Fatalf("imageMimeType(%q, %q): expected %s, got %s", tc.contentType, tc.object, tc.want, got)
		}
	}
}
