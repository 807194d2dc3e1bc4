package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 15 * time.Second
	defaultGatewayTimeout      = 10 * time.Second
	defaultSessionStore        = SessionStoreMemory
	defaultSessionCollection   = "checkoutSessions"
	defaultSessionTTL          = 2 * time.Hour
	defaultSessionCleanup      = 10 * time.Minute
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyInterval = time.Hour
	defaultSessionCreateRate   = 30
	defaultSessionCreateBurst  = 10
	defaultSecurityEnvironment = "local"
)

// Session store backends.
const (
	SessionStoreMemory    = "memory"
	SessionStoreFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Gateway     GatewayConfig
	Sessions    SessionConfig
	Idempotency IdempotencyConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Security    SecurityConfig
	RateLimits  RateLimitConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// GatewayConfig points at the formation backend.
type GatewayConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// SessionConfig controls checkout session storage and expiry.
type SessionConfig struct {
	Store           string
	Collection      string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// IdempotencyConfig controls the submit replay middleware.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupInterval time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig configures order event publishing. An empty OrderTopic disables it.
type PubSubConfig struct {
	ProjectID  string
	OrderTopic string
}

// SecurityConfig groups deployment environment settings.
type SecurityConfig struct {
	Environment string
}

// RateLimitConfig throttles checkout session creation per client address.
type RateLimitConfig struct {
	SessionCreatePerMinute int
	SessionCreateBurst     int
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

func buildOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Load assembles the configuration from defaults, the .env file, the process
// environment and the explicit map, in increasing precedence, then resolves secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := buildOptions(opts)
	src, err := newSource(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:     src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: src.duration("API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Gateway: GatewayConfig{
			BaseURL:  src.str("API_GATEWAY_BASE_URL", ""),
			APIToken: src.str("API_GATEWAY_API_TOKEN", ""),
			Timeout:  src.duration("API_GATEWAY_TIMEOUT", defaultGatewayTimeout),
		},
		Sessions: SessionConfig{
			Store:           strings.ToLower(src.str("API_SESSIONS_STORE", defaultSessionStore)),
			Collection:      src.str("API_SESSIONS_COLLECTION", defaultSessionCollection),
			TTL:             src.duration("API_SESSIONS_TTL", defaultSessionTTL),
			CleanupInterval: src.duration("API_SESSIONS_CLEANUP_INTERVAL", defaultSessionCleanup),
		},
		Idempotency: IdempotencyConfig{
			Header:          src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval: src.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", src.str("GOOGLE_CLOUD_PROJECT", "")),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:  src.str("API_PUBSUB_PROJECT_ID", ""),
			OrderTopic: src.str("API_PUBSUB_ORDER_TOPIC", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(src.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
		RateLimits: RateLimitConfig{
			SessionCreatePerMinute: src.integer("API_RATELIMIT_SESSION_CREATE_PER_MIN", defaultSessionCreateRate),
			SessionCreateBurst:     src.integer("API_RATELIMIT_SESSION_CREATE_BURST", defaultSessionCreateBurst),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	token, err := resolveSecret(ctx, cfg.Gateway.APIToken, options.secret)
	if err != nil {
		return Config{}, err
	}
	cfg.Gateway.APIToken = token

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnvironmentValues returns the merged key/value view Load reads from, so
// callers can initialise dependencies such as the secret fetcher first.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newSource(buildOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.snapshot(), nil
}

func validate(cfg Config) error {
	var fields []string
	add := func(name string, bad bool) {
		if bad {
			fields = append(fields, name)
		}
	}

	add("Server.Port", strings.TrimSpace(cfg.Server.Port) == "")
	add("Gateway.BaseURL", !validBaseURL(cfg.Gateway.BaseURL))
	add("Gateway.Timeout", cfg.Gateway.Timeout <= 0)
	add("Sessions.Store", cfg.Sessions.Store != SessionStoreMemory && cfg.Sessions.Store != SessionStoreFirestore)
	add("Sessions.TTL", cfg.Sessions.TTL <= 0)
	add("Sessions.CleanupInterval", cfg.Sessions.CleanupInterval <= 0)
	add("Firestore.ProjectID", cfg.Sessions.Store == SessionStoreFirestore && cfg.Firestore.ProjectID == "")
	add("PubSub.ProjectID", cfg.PubSub.OrderTopic != "" && cfg.PubSub.ProjectID == "")
	add("Idempotency.Header", strings.TrimSpace(cfg.Idempotency.Header) == "")
	add("Idempotency.TTL", cfg.Idempotency.TTL <= 0)
	add("Idempotency.CleanupInterval", cfg.Idempotency.CleanupInterval <= 0)
	add("RateLimits.SessionCreatePerMinute", cfg.RateLimits.SessionCreatePerMinute <= 0)
	add("RateLimits.SessionCreateBurst", cfg.RateLimits.SessionCreateBurst <= 0)

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func validBaseURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsLocal reports whether the service runs on a developer machine.
func (c SecurityConfig) IsLocal() bool {
	switch c.Environment {
	case "", "local", "dev", "development":
		return true
	}
	return false
}

func systemEnv() map[string]string {
	out := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		out[strings.TrimSpace(key)] = value
	}
	return out
}
