package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	legacyBucketSuffix = ".appspot.com"
	modernBucketSuffix = ".firebasestorage.app"

	firebaseDownloadHost = "firebasestorage.googleapis.com"
)

var ErrInvalidReference = errors.New("storage: invalid object reference")

// ObjectRef points at a single object in Cloud Storage.
type ObjectRef struct {
	Bucket string
	Object string
}

// GSURI renders the canonical gs://bucket/object form.
func (r ObjectRef) GSURI() string {
	return "gs://" + r.Bucket + "/" + r.Object
}

func (r ObjectRef) String() string {
	return r.GSURI()
}

func (r ObjectRef) IsZero() bool {
	return r.Bucket == "" || r.Object == ""
}

// WithBucket returns the same object path in another bucket.
func (r ObjectRef) WithBucket(bucket string) ObjectRef {
	return ObjectRef{Bucket: bucket, Object: r.Object}
}

// ParseGSURI parses gs://bucket/object.
func ParseGSURI(raw string) (ObjectRef, error) {
	trimmed := strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(trimmed, "gs://")
	if !ok {
		return ObjectRef{}, fmt.Errorf("%w: %q is not a gs:// uri", ErrInvalidReference, raw)
	}
	bucket, object, _ := strings.Cut(rest, "/")
	return newRef(bucket, object)
}

// ParseStoragePath parses a bare object path, resolving it against
// defaultBucket. A gs:// value is accepted as-is.
func ParseStoragePath(raw, defaultBucket string) (ObjectRef, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "gs://") {
		return ParseGSURI(trimmed)
	}
	if strings.Contains(trimmed, "://") {
		return ObjectRef{}, fmt.Errorf("%w: %q is not a storage path", ErrInvalidReference, raw)
	}
	return newRef(defaultBucket, trimmed)
}

// ParseHTTPSURL recognises the download URL shapes Firebase and Cloud Storage
// hand out:
//
//	https://firebasestorage.googleapis.com/v0/b/{bucket}/o/{object}?alt=media&token=...
//	https://storage.googleapis.com/{bucket}/{object}
//	https://{bucket}.{altDomain}/o/{object}  or  https://{bucket}.{altDomain}/{object}
func ParseHTTPSURL(raw string, altDomains []string) (ObjectRef, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return ObjectRef{}, fmt.Errorf("%w: %q is not an http url", ErrInvalidReference, raw)
	}
	host := strings.ToLower(u.Hostname())
	segments := strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/")

	switch host {
	case firebaseDownloadHost:
		// v0/b/{bucket}/o/{escaped object}
		if len(segments) >= 5 && segments[0] == "v0" && segments[1] == "b" && segments[3] == "o" {
			return newEscapedRef(segments[2], strings.Join(segments[4:], "/"))
		}
	case "storage.googleapis.com", "storage.cloud.google.com":
		// JSON API media links: [download/]storage/v1/b/{bucket}/o/{object}
		if idx := indexOfJSONAPI(segments); idx >= 0 {
			return newEscapedRef(segments[idx+3], strings.Join(segments[idx+5:], "/"))
		}
		if len(segments) >= 2 {
			return newEscapedRef(segments[0], strings.Join(segments[1:], "/"))
		}
	default:
		for _, domain := range altDomains {
			domain = strings.ToLower(strings.Trim(strings.TrimSpace(domain), "."))
			if domain == "" {
				continue
			}
			bucket, ok := strings.CutSuffix(host, "."+domain)
			if !ok || bucket == "" {
				continue
			}
			if len(segments) >= 2 && segments[0] == "o" {
				return newEscapedRef(bucket, strings.Join(segments[1:], "/"))
			}
			return newEscapedRef(bucket, strings.Join(segments, "/"))
		}
	}
	return ObjectRef{}, fmt.Errorf("%w: unrecognised storage url host %q", ErrInvalidReference, host)
}

func indexOfJSONAPI(segments []string) int {
	for i := 0; i+5 < len(segments); i++ {
		if segments[i] == "storage" && segments[i+1] == "v1" && segments[i+2] == "b" && segments[i+4] == "o" {
			return i
		}
	}
	return -1
}

// AlternateBucket maps between the legacy appspot.com and the newer
// firebasestorage.app bucket names of the same project. ok is false when the
// bucket follows neither convention.
func AlternateBucket(bucket string) (string, bool) {
	switch {
	case strings.HasSuffix(bucket, legacyBucketSuffix):
		return strings.TrimSuffix(bucket, legacyBucketSuffix) + modernBucketSuffix, true
	case strings.HasSuffix(bucket, modernBucketSuffix):
		return strings.TrimSuffix(bucket, modernBucketSuffix) + legacyBucketSuffix, true
	default:
		return "", false
	}
}

// TokenDownloadURL builds the long-lived Firebase download URL for an object
// whose metadata carries token.
func TokenDownloadURL(ref ObjectRef, token string) string {
	return fmt.Sprintf("https://%s/v0/b/%s/o/%s?alt=media&token=%s",
		firebaseDownloadHost, ref.Bucket, url.PathEscape(ref.Object), url.QueryEscape(token))
}

func newEscapedRef(bucket, escapedObject string) (ObjectRef, error) {
	object, err := url.PathUnescape(escapedObject)
	if err != nil {
		return ObjectRef{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return newRef(bucket, object)
}

func newRef(bucket, object string) (ObjectRef, error) {
	bucket = strings.TrimSpace(bucket)
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if bucket == "" {
		return ObjectRef{}, fmt.Errorf("%w: bucket is required", ErrInvalidReference)
	}
	if object == "" {
		return ObjectRef{}, fmt.Errorf("%w: object is required", ErrInvalidReference)
	}
	if strings.Contains(bucket, "/") {
		return ObjectRef{}, fmt.Errorf("%w: bucket %q contains a slash", ErrInvalidReference, bucket)
	}
	return ObjectRef{Bucket: bucket, Object: object}, nil
}
