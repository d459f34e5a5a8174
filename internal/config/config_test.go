package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/fal"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("STORYBOOK_PUBLIC_BASE_URL", "https://books.example.com/")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.IllustrationBaseURL != "https://books.example.com" {
		t.Errorf("IllustrationBaseURL should default to the trimmed public base URL, got %q", cfg.IllustrationBaseURL)
	}
	if cfg.Concurrency != faceswap.DefaultConcurrency || cfg.MaxRetries != faceswap.DefaultMaxRetries {
		t.Errorf("concurrency=%d retries=%d", cfg.Concurrency, cfg.MaxRetries)
	}
	if cfg.FalEndpoints.Composite != fal.DefaultCompositeEndpoint {
		t.Errorf("composite endpoint = %q", cfg.FalEndpoints.Composite)
	}
	if !cfg.EnableFallback || cfg.Metrics {
		t.Errorf("EnableFallback=%v Metrics=%v", cfg.EnableFallback, cfg.Metrics)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORYBOOK_ILLUSTRATION_BASE_URL", "https://cdn.example.com/book")
	t.Setenv("STORYBOOK_CONCURRENCY", "5")
	t.Setenv("STORYBOOK_COMPOSITE_TIMEOUT", "45s")
	t.Setenv("STORYBOOK_ENABLE_FALLBACK", "false")
	t.Setenv("STORYBOOK_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("STORYBOOK_EDIT_PROVIDER", "Gemini")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Concurrency != 5 || cfg.CompositeTimeout != 45*time.Second || cfg.EnableFallback {
		t.Errorf("unexpected overrides: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.EditProvider != EditProviderGemini {
		t.Errorf("EditProvider = %q", cfg.EditProvider)
	}
	if opts := cfg.CompositorOptions(); opts.Timeout != 45*time.Second {
		t.Errorf("CompositorOptions = %+v", opts)
	}
}

func TestFromEnv_ParseErrors(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("STORYBOOK_BACKOFF_BASE", "soon")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "PORT") || !strings.Contains(err.Error(), "STORYBOOK_BACKOFF_BASE") {
		t.Errorf("every bad variable should be reported: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Setenv("STORYBOOK_PUBLIC_BASE_URL", "https://books.example.com")
	base, err := FromEnv()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"concurrency too high", func(c *Config) { c.Concurrency = faceswap.MaxConcurrency + 1 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"too many retries", func(c *Config) { c.MaxRetries = faceswap.MaxCompositeRetries + 1 }},
		{"unknown edit provider", func(c *Config) { c.EditProvider = "dalle" }},
		{"relative base url", func(c *Config) { c.IllustrationBaseURL = "books/illustrations" }},
		{"no illustration base", func(c *Config) { c.IllustrationBaseURL = "" }},
		{"zero timeout", func(c *Config) { c.CompositeTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestConfig_RequireProviderKeys(t *testing.T) {
	c := &Config{EditProvider: EditProviderGemini, FalKey: "k"}
	if err := c.RequireProviderKeys(); err == nil {
		t.Error("gemini edit provider without key should fail")
	}
	c.GeminiAPIKey = "g"
	if err := c.RequireProviderKeys(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

type fakeSSM struct {
	values map[string]string
	calls  []string
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls = append(f.calls, *in.Name)
	v, ok := f.values[*in.Name]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: &v}}, nil
}

func TestConfig_LoadSecrets(t *testing.T) {
	client := &fakeSSM{values: map[string]string{
		DefaultFalKeyParam:    "fal-secret",
		DefaultGeminiKeyParam: "gemini-secret",
	}}
	c := &Config{EditProvider: EditProviderFal, FalKeyParam: DefaultFalKeyParam, GeminiKeyParam: DefaultGeminiKeyParam}
	if err := c.LoadSecrets(context.Background(), client); err != nil {
		t.Fatal(err)
	}
	if c.FalKey != "fal-secret" || c.GeminiAPIKey != "" {
		t.Errorf("FalKey=%q GeminiAPIKey=%q", c.FalKey, c.GeminiAPIKey)
	}
	if len(client.calls) != 1 {
		t.Errorf("gemini key should not be fetched for the fal edit provider, calls=%v", client.calls)
	}

	c.EditProvider = EditProviderGemini
	if err := c.LoadSecrets(context.Background(), client); err != nil {
		t.Fatal(err)
	}
	if c.GeminiAPIKey != "gemini-secret" || len(client.calls) != 2 {
		t.Errorf("GeminiAPIKey=%q calls=%v", c.GeminiAPIKey, client.calls)
	}
}

func TestConfig_LoadSecretsMissing(t *testing.T) {
	c := &Config{FalKeyParam: "/nope"}
	if err := c.LoadSecrets(context.Background(), &fakeSSM{}); err == nil {
		t.Error("expected error for missing parameter")
	}
}
