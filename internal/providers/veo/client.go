// Package veo talks to the Veo long-running video generation REST API.
package veo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "veo-3.0-generate-001"

	apiKeyHeader     = "x-goog-api-key"
	maxErrorBodySize = 2048
)

// ErrMissingAPIKey is returned before any request is made without a key.
var ErrMissingAPIKey = errors.New("veo: api key is required")

// APIError is a non-2xx response. Body is truncated.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("veo: status %d", e.StatusCode)
	}
	return fmt.Sprintf("veo: status %d: %s", e.StatusCode, e.Body)
}

// IsClientError reports a rejection of the request itself. Timeouts and rate
// limits are not counted since retrying them later can succeed.
func (e *APIError) IsClientError() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type Options struct {
	BaseURL        string
	Model          string
	NegativePrompt string
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

type Client struct {
	baseURL        string
	baseHost       string
	model          string
	negativePrompt string
	httpClient     *http.Client
	logger         *zap.Logger
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var baseHost string
	if parsed, err := url.Parse(baseURL); err == nil {
		baseHost = parsed.Host
	}
	c := &Client{
		baseURL:        baseURL,
		baseHost:       baseHost,
		model:          model,
		negativePrompt: strings.TrimSpace(opts.NegativePrompt),
		logger:         logger,
	}
	c.httpClient = c.scopeRedirects(client)
	return c
}

// scopeRedirects returns a copy of client that drops the API key when a
// redirect leaves the API host.
func (c *Client) scopeRedirects(client *http.Client) *http.Client {
	scoped := *client
	next := client.CheckRedirect
	scoped.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !c.ownsHost(req.URL) {
			req.Header.Del(apiKeyHeader)
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= 10 {
			return errors.New("veo: stopped after 10 redirects")
		}
		return nil
	}
	return &scoped
}

func (c *Client) ownsHost(u *url.URL) bool {
	return u != nil && c.baseHost != "" && strings.EqualFold(u.Host, c.baseHost)
}

// Image is either inline bytes or a URI the provider can fetch.
type Image struct {
	Bytes    []byte
	URI      string
	MimeType string
}

type GenerateRequest struct {
	// Model overrides the client default when set.
	Model       string
	Prompt      string
	Image       *Image
	AspectRatio string
	Resolution  string
}

// Operation is the long-running operation envelope. Response and Result are
// kept loosely typed since the artifact location varies between API versions.
type Operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Response map[string]any  `json:"response,omitempty"`
	Result   map[string]any  `json:"result,omitempty"`
	Error    *OperationError `json:"error,omitempty"`
}

type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *OperationError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("veo operation failed (%d %s): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("veo operation failed (%d): %s", e.Code, e.Message)
}

type instance struct {
	Prompt string         `json:"prompt"`
	Image  *instanceImage `json:"image,omitempty"`
}

type instanceImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	GCSURI             string `json:"gcsUri,omitempty"`
	URI                string `json:"uri,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

type parameters struct {
	NegativePrompt string `json:"negativePrompt,omitempty"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
}

type predictRequest struct {
	Instances  []instance `json:"instances"`
	Parameters parameters `json:"parameters"`
}

// Model returns the default model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate submits a long-running generation and returns the operation name.
func (c *Client) Generate(ctx context.Context, apiKey string, req GenerateRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", errors.New("veo: prompt is required")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}

	inst := instance{Prompt: req.Prompt}
	if img := req.Image; img != nil {
		switch {
		case len(img.Bytes) > 0:
			inst.Image = &instanceImage{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString(img.Bytes),
				MimeType:           img.MimeType,
			}
		case strings.HasPrefix(img.URI, "gs://"):
			inst.Image = &instanceImage{GCSURI: img.URI, MimeType: img.MimeType}
		case img.URI != "":
			inst.Image = &instanceImage{URI: img.URI, MimeType: img.MimeType}
		}
	}
	payload := predictRequest{
		Instances: []instance{inst},
		Parameters: parameters{
			NegativePrompt: c.negativePrompt,
			AspectRatio:    strings.TrimSpace(req.AspectRatio),
			Resolution:     strings.TrimSpace(req.Resolution),
		},
	}

	var op Operation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(model))
	if err := c.invoke(ctx, http.MethodPost, apiKey, path, payload, &op); err != nil {
		return "", err
	}
	if strings.TrimSpace(op.Name) == "" {
		return "", errors.New("veo: operation name missing from response")
	}
	c.logger.Debug("veo: generation submitted", zap.String("operation", op.Name), zap.String("model", model))
	return op.Name, nil
}

// Poll fetches the current state of an operation.
func (c *Client) Poll(ctx context.Context, apiKey, operationName string) (Operation, error) {
	name := strings.Trim(strings.TrimSpace(operationName), "/")
	if name == "" {
		return Operation{}, errors.New("veo: operation name is required")
	}
	var op Operation
	if err := c.invoke(ctx, http.MethodGet, apiKey, "/"+name, nil, &op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Download opens a provider-hosted artifact. The caller closes the body. The
// key is only sent to the API host; other hosts get an anonymous request.
func (c *Client) Download(ctx context.Context, apiKey, uri string) (io.ReadCloser, string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, "", ErrMissingAPIKey
	}
	target := strings.TrimSpace(uri)
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("veo: create download request: %w", err)
	}
	if c.ownsHost(req.URL) {
		req.Header.Set(apiKeyHeader, apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("veo: download artifact: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, "", newAPIError(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) invoke(ctx context.Context, method, apiKey, path string, payload any, out any) error {
	if strings.TrimSpace(apiKey) == "" {
		return ErrMissingAPIKey
	}
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("veo: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("veo: create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("veo: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return newAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("veo: decode response: %w", err)
	}
	return nil
}

func newAPIError(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
}
