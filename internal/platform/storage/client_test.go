package storage

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string {
	return f.email
}

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return []byte("signed"), nil
}

func TestSignedDownloadURL(t *testing.T) {
	signer := &fakeSigner{email: "signer@adreel.iam.gserviceaccount.com"}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	client, err := NewClient(signer, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}

	ref := ObjectRef{Bucket: "adreel.appspot.com", Object: "uploads/uid/job/product.png"}
	res, err := client.SignedDownloadURL(context.Background(), ref, 0)
	if err != nil {
		t.Fatalf("SignedDownloadURL returned error: %v", err)
	}
	if !res.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("expected default 15m expiry, got %v", res.ExpiresAt)
	}

	parsed, err := url.Parse(res.URL)
	if err != nil {
		t.Fatalf("failed to parse signed URL: %v", err)
	}
	if !strings.Contains(parsed.Path, "uploads/uid/job/product.png") {
		t.Fatalf("expected object path in url, got %s", parsed.Path)
	}
	query := parsed.Query()
	if query.Get("X-Goog-Signature") == "" {
		t.Fatalf("expected signature in query: %s", parsed.RawQuery)
	}
	if query.Get("X-Goog-Expires") != "900" {
		t.Fatalf("expected 900s expiry, got %s", query.Get("X-Goog-Expires"))
	}
	if len(signer.payloads) != 1 {
		t.Fatalf("expected signer to be called once, got %d", len(signer.payloads))
	}
}

func TestSignedDownloadURLErrors(t *testing.T) {
	if _, err := NewClient(&fakeSigner{}); !errors.Is(err, errNoSigner) {
		t.Fatalf("expected errNoSigner, got %v", err)
	}

	client, err := NewClient(&fakeSigner{email: "signer@example.com"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := client.SignedDownloadURL(context.Background(), ObjectRef{Bucket: "b"}, time.Minute); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
	if _, err := client.SignedDownloadURL(context.Background(), ObjectRef{Bucket: "b", Object: "o"}, 8*24*time.Hour); !errors.Is(err, errExpiryTooLong) {
		t.Fatalf("expected errExpiryTooLong, got %v", err)
	}

	failing, _ := NewClient(&fakeSigner{email: "signer@example.com", err: errors.New("kms down")})
	if _, err := failing.SignedDownloadURL(context.Background(), ObjectRef{Bucket: "b", Object: "o"}, time.Minute); err == nil {
		t.Fatalf("expected signing error")
	}
}

func TestKeySignerFromJSON(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	payload, _ := json.Marshal(map[string]string{
		"client_email": "signer@adreel.iam.gserviceaccount.com",
		"private_key":  string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	})

	signer, err := NewKeySigner(string(payload))
	if err != nil {
		t.Fatalf("NewKeySigner: %v", err)
	}
	if signer.Email() != "signer@adreel.iam.gserviceaccount.com" {
		t.Fatalf("unexpected email %s", signer.Email())
	}
	sig, err := signer.SignBytes(context.Background(), []byte("payload"))
	if err != nil || len(sig) == 0 {
		t.Fatalf("expected signature, got %v", err)
	}

	if _, err := NewKeySignerFromJSON([]byte(`{"client_email":"x"}`)); err == nil {
		t.Fatalf("expected error for missing private key")
	}
}
