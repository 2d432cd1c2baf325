package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 10 * time.Minute
	defaultIdleTimeout    = 120 * time.Second
	defaultHandlerTimeout = 10 * time.Minute
	defaultMaxInlineBytes = 20 << 20
	defaultSignedURLTTL   = 15 * time.Minute

	defaultVeoBaseURL         = "https://generativelanguage.googleapis.com/v1beta"
	defaultVeoModel           = "veo-3.0-generate-001"
	defaultVeoNegativePrompt  = "low quality, blurry, distorted product, watermark, text artifacts, extra limbs"
	defaultVeoPollInterval    = 10 * time.Second
	defaultVeoMaxPollAttempts = 54
	defaultVeoHeartbeatEvery  = 3
	defaultVeoRequestTimeout  = 60 * time.Second
	defaultVeoJobBudget       = 9*time.Minute + 30*time.Second

	defaultAnalyticsCollection = "analyticsEvents"
	defaultStartPerMinute      = 10
	defaultEnvironment         = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer          = "https://accounts.google.com"
)

// Config is the runtime configuration grouped by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	Storage   StorageConfig
	Veo       VeoConfig
	Analytics AnalyticsConfig
	RateLimit RateLimitConfig
	Security  SecurityConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	HandlerTimeout time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig names the buckets the service reads product images from and
// writes rehosted videos to.
type StorageConfig struct {
	DefaultBucket string
	OutputBucket  string
	SignerKey     string
	// SignerServiceAccount signs through the IAM Credentials API when no
	// SignerKey is deployed.
	SignerServiceAccount string
	AltDomains           []string
	MaxInlineBytes       int64
	SignedURLTTL         time.Duration
}

// VeoConfig configures the video generation provider. APIKey is kept as the
// raw reference (secret:// or literal) and resolved on each job so a rotated
// key is picked up without a redeploy.
type VeoConfig struct {
	APIKey          string
	BaseURL         string
	Model           string
	NegativePrompt  string
	PollInterval    time.Duration
	MaxPollAttempts int
	HeartbeatEvery  int
	RequestTimeout  time.Duration
	JobBudget       time.Duration
}

type AnalyticsConfig struct {
	Collection string
	Topic      string
}

type RateLimitConfig struct {
	StartPerMinute int
}

type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig guards the internal routes.
type OIDCConfig struct {
	JWKSURL         string
	Audience        string
	Issuers         []string
	ServiceAccounts []string
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists missing or invalid fields.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError wraps a failed secret lookup.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError reports required secrets that resolved empty. Names are
// redacted in Error so the message is safe to log.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	redacted := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		redacted = append(redacted, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(redacted)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(redacted, ", "))
}

func (e *MissingSecretsError) Names() []string {
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap overrides both the dotenv file and the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret-backed fields (e.g. "Storage.SignerKey")
// as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged environment (dotenv < process env <
// explicit map) so bootstrap code can configure the secret fetcher before
// Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the configuration from defaults, .env, the environment and
// Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotenv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:    durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			HandlerTimeout: durationWithDefault(lookup, "API_SERVER_HANDLER_TIMEOUT", defaultHandlerTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			DefaultBucket:        stringWithDefault(lookup, "API_STORAGE_DEFAULT_BUCKET", ""),
			OutputBucket:         stringWithDefault(lookup, "API_STORAGE_OUTPUT_BUCKET", ""),
			SignerKey:            stringWithDefault(lookup, "API_STORAGE_SIGNER_KEY", ""),
			SignerServiceAccount: stringWithDefault(lookup, "API_STORAGE_SIGNER_SERVICE_ACCOUNT", ""),
			AltDomains:           csvWithDefault(lookup, "API_STORAGE_ALT_DOMAINS", []string{"storage.googleapis.com"}),
			MaxInlineBytes:       int64(intWithDefault(lookup, "API_STORAGE_MAX_INLINE_BYTES", defaultMaxInlineBytes)),
			SignedURLTTL:         durationWithDefault(lookup, "API_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
		},
		Veo: VeoConfig{
			APIKey:          strings.TrimSpace(stringWithDefault(lookup, "API_VEO_API_KEY", "")),
			BaseURL:         strings.TrimRight(stringWithDefault(lookup, "API_VEO_BASE_URL", defaultVeoBaseURL), "/"),
			Model:           stringWithDefault(lookup, "API_VEO_MODEL", defaultVeoModel),
			NegativePrompt:  stringWithDefault(lookup, "API_VEO_NEGATIVE_PROMPT", defaultVeoNegativePrompt),
			PollInterval:    durationWithDefault(lookup, "API_VEO_POLL_INTERVAL", defaultVeoPollInterval),
			MaxPollAttempts: intWithDefault(lookup, "API_VEO_MAX_POLL_ATTEMPTS", defaultVeoMaxPollAttempts),
			HeartbeatEvery:  intWithDefault(lookup, "API_VEO_HEARTBEAT_EVERY", defaultVeoHeartbeatEvery),
			RequestTimeout:  durationWithDefault(lookup, "API_VEO_REQUEST_TIMEOUT", defaultVeoRequestTimeout),
			JobBudget:       durationWithDefault(lookup, "API_VEO_JOB_BUDGET", defaultVeoJobBudget),
		},
		Analytics: AnalyticsConfig{
			Collection: stringWithDefault(lookup, "API_ANALYTICS_COLLECTION", defaultAnalyticsCollection),
			Topic:      stringWithDefault(lookup, "API_ANALYTICS_TOPIC", ""),
		},
		RateLimit: RateLimitConfig{
			StartPerMinute: intWithDefault(lookup, "API_RATE_START_PER_MINUTE", defaultStartPerMinute),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_ENV", defaultEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:         stringWithDefault(lookup, "API_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:        stringWithDefault(lookup, "API_OIDC_AUDIENCE", ""),
				Issuers:         csvWithDefault(lookup, "API_OIDC_ISSUERS", []string{defaultOIDCIssuer}),
				ServiceAccounts: csvWithDefault(lookup, "API_OIDC_SERVICE_ACCOUNTS", nil),
			},
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Storage.OutputBucket == "" {
		cfg.Storage.OutputBucket = cfg.Storage.DefaultBucket
	}

	resolved := map[string]string{}
	signerKey, err := resolveSecret(ctx, cfg.Storage.SignerKey, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Storage.SignerKey = signerKey
	resolved["Storage.SignerKey"] = strings.TrimSpace(signerKey)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	if err := missingSecrets(options.requiredSecrets, resolved); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// IsSecretReference reports whether value points at Secret Manager.
func IsSecretReference(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://")
}

// NormalizeSecretReference rewrites the sm:// shorthand to secret://.
func NormalizeSecretReference(value string) string {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sm://"); ok {
		return "secret://" + rest
	}
	return value
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(context.Context, string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !IsSecretReference(value) {
		return value, nil
	}
	ref := NormalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validate(cfg Config) error {
	var invalid []string
	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}
	if cfg.Storage.DefaultBucket == "" {
		invalid = append(invalid, "Storage.DefaultBucket")
	}
	if cfg.Storage.MaxInlineBytes <= 0 {
		invalid = append(invalid, "Storage.MaxInlineBytes")
	}
	if cfg.Veo.PollInterval <= 0 {
		invalid = append(invalid, "Veo.PollInterval")
	}
	if cfg.Veo.MaxPollAttempts <= 0 {
		invalid = append(invalid, "Veo.MaxPollAttempts")
	}
	if cfg.Veo.HeartbeatEvery <= 0 {
		invalid = append(invalid, "Veo.HeartbeatEvery")
	}
	if cfg.Veo.JobBudget < cfg.Veo.PollInterval*time.Duration(cfg.Veo.MaxPollAttempts) {
		invalid = append(invalid, "Veo.JobBudget")
	}
	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func missingSecrets(required []string, resolved map[string]string) error {
	var missing []string
	seen := map[string]struct{}{}
	for _, name := range required {
		name = strings.TrimSpace(name)
		if _, dup := seen[name]; name == "" || dup {
			continue
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(resolved[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

// readDotEnv parses path with godotenv. A missing file is not an error.
func readDotEnv(path string) (map[string]string, error) {
	values := map[string]string{}
	if path == "" {
		return values, nil
	}
	parsed, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	for key, value := range parsed {
		values[key] = value
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
