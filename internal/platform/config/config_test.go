package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("unexpected shutdown timeout: %s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Payments.Provider != "stripe" {
		t.Errorf("expected stripe provider by default, got %s", cfg.Payments.Provider)
	}
	if cfg.Pricing.Currency != "usd" {
		t.Errorf("expected usd pricing currency, got %s", cfg.Pricing.Currency)
	}
	if cfg.Drafts.KeyPrefix != "out_checkout_draft" || cfg.Drafts.TTL != 7*24*time.Hour {
		t.Errorf("unexpected drafts config %+v", cfg.Drafts)
	}
	if cfg.Redis.Enabled() || cfg.Firestore.Enabled() || cfg.PubSub.Enabled() {
		t.Errorf("expected external stores disabled without addresses")
	}
	if cfg.PubSub.VerificationTopic != defaultVerificationTopic {
		t.Errorf("unexpected verification topic %s", cfg.PubSub.VerificationTopic)
	}
	if cfg.Verification.CodeTTL != 10*time.Minute || cfg.Verification.VerifiedTTL != 30*time.Minute {
		t.Errorf("unexpected verification ttls %+v", cfg.Verification)
	}
	if cfg.Verification.MaxAttempts != 5 {
		t.Errorf("unexpected max attempts %d", cfg.Verification.MaxAttempts)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("expected wildcard CORS origin, got %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if cfg.Secrets.FallbackFile != ".secrets.local" {
		t.Errorf("unexpected secrets fallback file %s", cfg.Secrets.FallbackFile)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_ENVIRONMENT":                  "PROD",
		"API_PAYMENTS_PROVIDER":            "sandbox",
		"API_PAYMENTS_SANDBOX_OUTCOME":     "requires_action",
		"API_STRIPE_SECRET_KEY":            "secret://stripe/secret",
		"API_STRIPE_ACCOUNT_ID":            "acct_123",
		"API_PRICING_CATALOG_FILE":         "/etc/checkout/catalog.yaml",
		"API_PRICING_CURRENCY":             "CAD",
		"API_REDIS_ADDR":                   "127.0.0.1:6379",
		"API_REDIS_PASSWORD":               "sm://redis/password",
		"API_REDIS_DB":                     "2",
		"API_FIRESTORE_PROJECT_ID":         "out-prod",
		"API_VERIFICATION_TOPIC":           "otp-codes",
		"API_VERIFICATION_CODE_TTL":        "5m",
		"API_VERIFICATION_SEND_LIMIT":      "2",
		"API_CORS_ALLOWED_ORIGINS":         "https://onlyusedtesla.com, https://www.onlyusedtesla.com",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":              "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":    "500",
	}

	secrets := map[string]string{
		"secret://stripe/secret":  "sk_live_123",
		"secret://redis/password": "redis-pass",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Server.Environment != "prod" {
		t.Errorf("expected lowercased environment, got %s", cfg.Server.Environment)
	}
	if cfg.Payments.Provider != "sandbox" || cfg.Payments.SandboxOutcome != "requires_action" {
		t.Errorf("unexpected payments config %+v", cfg.Payments)
	}
	if cfg.Payments.StripeSecretKey != "sk_live_123" {
		t.Errorf("expected resolved stripe key, got %s", cfg.Payments.StripeSecretKey)
	}
	if cfg.Redis.Password != "redis-pass" || cfg.Redis.DB != 2 || !cfg.Redis.Enabled() {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Pricing.Currency != "cad" {
		t.Errorf("expected lowercased currency, got %s", cfg.Pricing.Currency)
	}
	if cfg.PubSub.ProjectID != "out-prod" || cfg.Secrets.ProjectID != "out-prod" {
		t.Errorf("expected pubsub and secrets to inherit firestore project, got %s %s", cfg.PubSub.ProjectID, cfg.Secrets.ProjectID)
	}
	if cfg.PubSub.VerificationTopic != "otp-codes" {
		t.Errorf("unexpected topic %s", cfg.PubSub.VerificationTopic)
	}
	if cfg.Verification.CodeTTL != 5*time.Minute || cfg.Verification.SendPerWindow != 2 {
		t.Errorf("unexpected verification config %+v", cfg.Verification)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("expected 2 allowed origins, got %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency cleanup config %+v", cfg.Idempotency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SERVER_PORT=7070\nexport API_PAYMENTS_PROVIDER='sandbox'\n# comment\n"
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
	if cfg.Payments.Provider != "sandbox" {
		t.Errorf("expected provider from dotenv, got %s", cfg.Payments.Provider)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	env := map[string]string{
		"API_PAYMENTS_PROVIDER":         "paypal",
		"API_VERIFICATION_MAX_ATTEMPTS": "0",
		"API_PRICING_CURRENCY":          "dollars",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T %v", err, err)
	}
	fields := validation.Fields()
	want := map[string]bool{"Payments.Provider": true, "Verification.MaxAttempts": true, "Pricing.Currency": true}
	if len(fields) != len(want) {
		t.Fatalf("unexpected invalid fields %v", fields)
	}
	for _, f := range fields {
		if !want[f] {
			t.Fatalf("unexpected invalid field %s", f)
		}
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"API_STRIPE_SECRET_KEY": "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "API_SECRETS_PROJECT_ID=dot-project\nAPI_SECRETS_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("API_SECRETS_PROJECT_ID", "os-project")
	t.Setenv("API_REDIS_ADDR", "redis:6379")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_SECRETS_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["API_SECRETS_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["API_SECRETS_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["API_REDIS_ADDR"]; got != "redis:6379" {
		t.Fatalf("expected system env redis addr, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets(SecretStripeKey),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName(SecretStripeKey)
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadSupportsLegacySecretScheme(t *testing.T) {
	env := map[string]string{
		"API_STRIPE_SECRET_KEY": "sm://stripe/secret",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://stripe/secret" {
			return "legacy-secret", nil
		}
		return "", &SecretError{Ref: ref, Err: errors.New("not found")}
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Payments.StripeSecretKey != "legacy-secret" {
		t.Fatalf("expected legacy secret, got %s", cfg.Payments.StripeSecretKey)
	}
}
