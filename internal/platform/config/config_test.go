package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_GATEWAY_BASE_URL": "https://formation.example.com/api",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Gateway.Timeout != defaultGatewayTimeout {
		t.Errorf("unexpected gateway timeout: %s", cfg.Gateway.Timeout)
	}
	if cfg.Sessions.Store != SessionStoreMemory {
		t.Errorf("expected memory session store, got %s", cfg.Sessions.Store)
	}
	if cfg.Sessions.TTL != 2*time.Hour {
		t.Errorf("unexpected session ttl: %s", cfg.Sessions.TTL)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" {
		t.Errorf("unexpected idempotency header: %s", cfg.Idempotency.Header)
	}
	if cfg.PubSub.OrderTopic != "" {
		t.Errorf("expected publishing disabled by default, got topic %s", cfg.PubSub.OrderTopic)
	}
	if !cfg.Security.IsLocal() {
		t.Errorf("expected local environment, got %s", cfg.Security.Environment)
	}
	if cfg.RateLimits.SessionCreatePerMinute != defaultSessionCreateRate {
		t.Errorf("unexpected session create rate: %d", cfg.RateLimits.SessionCreatePerMinute)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                      "9090",
		"API_SERVER_READ_TIMEOUT":              "20s",
		"API_GATEWAY_BASE_URL":                 "https://formation.example.com",
		"API_GATEWAY_API_TOKEN":                "sm://formation/token",
		"API_GATEWAY_TIMEOUT":                  "4s",
		"API_SESSIONS_STORE":                   "Firestore",
		"API_SESSIONS_TTL":                     "45m",
		"API_FIRESTORE_PROJECT_ID":             "formation-prod",
		"API_PUBSUB_ORDER_TOPIC":               "formation.order.submitted",
		"API_SECURITY_ENVIRONMENT":             "PROD",
		"API_RATELIMIT_SESSION_CREATE_PER_MIN": "12",
		"API_IDEMPOTENCY_TTL":                  "6h",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://formation/token" {
			return " token-123 \n", nil
		}
		return "", errors.New("unknown secret")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Gateway.APIToken != "token-123" {
		t.Errorf("expected resolved token, got %q", cfg.Gateway.APIToken)
	}
	if cfg.Gateway.Timeout != 4*time.Second {
		t.Errorf("unexpected gateway timeout: %s", cfg.Gateway.Timeout)
	}
	if cfg.Sessions.Store != SessionStoreFirestore || cfg.Sessions.TTL != 45*time.Minute {
		t.Errorf("unexpected sessions config: %+v", cfg.Sessions)
	}
	if cfg.PubSub.ProjectID != "formation-prod" {
		t.Errorf("expected pubsub project to default to firestore project, got %s", cfg.PubSub.ProjectID)
	}
	if cfg.Security.IsLocal() {
		t.Errorf("expected non-local environment")
	}
	if cfg.RateLimits.SessionCreatePerMinute != 12 {
		t.Errorf("unexpected rate limit: %d", cfg.RateLimits.SessionCreatePerMinute)
	}
	if cfg.Idempotency.TTL != 6*time.Hour {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_GATEWAY_BASE_URL=\"http://localhost:9000\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Gateway.BaseURL != "http://localhost:9000" {
		t.Errorf("expected base url from dotenv, got %s", cfg.Gateway.BaseURL)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	env := map[string]string{
		"API_SESSIONS_STORE":     "firestore",
		"API_PUBSUB_ORDER_TOPIC": "orders",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validationErr.Fields()
	for _, want := range []string{"Gateway.BaseURL", "Firestore.ProjectID", "PubSub.ProjectID"} {
		if !slices.Contains(fields, want) {
			t.Errorf("expected %s in %v", want, fields)
		}
	}
}

func TestLoadRejectsUnknownSessionStore(t *testing.T) {
	env := baseEnv()
	env["API_SESSIONS_STORE"] = "redis"
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || !slices.Contains(validationErr.Fields(), "Sessions.Store") {
		t.Fatalf("expected Sessions.Store validation error, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["API_GATEWAY_API_TOKEN"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("expected resolver not configured cause, got %v", err)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_GATEWAY_BASE_URL=http://dot\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_GATEWAY_BASE_URL", "http://os")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_GATEWAY_BASE_URL": "http://override",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_GATEWAY_BASE_URL"]; got != "http://override" {
		t.Fatalf("expected override base url, got %s", got)
	}
	if got := values["API_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}
