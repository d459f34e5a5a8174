// Package config loads service configuration from an optional .env file and
// the environment. Provider secrets that are not set in the environment can
// be fetched from SSM Parameter Store with LoadSecrets.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/fal"
	"github.com/fpang/storybook-faceswap/internal/gemini"
	"github.com/fpang/storybook-faceswap/internal/imaging"
	"github.com/fpang/storybook-faceswap/internal/storage"
)

// Edit providers for the prompt-guided tier.
const (
	EditProviderFal    = "fal"
	EditProviderGemini = "gemini"
)

// Default SSM parameter paths for provider secrets.
const (
	DefaultFalKeyParam    = "/storybook/prod/fal-key"
	DefaultGeminiKeyParam = "/storybook/prod/gemini-api-key"
)

// DefaultRunTTL is how long run records are kept.
const DefaultRunTTL = 30 * 24 * time.Hour

// Config is the resolved service configuration.
type Config struct {
	Port                int
	PublicBaseURL       string
	IllustrationBaseURL string
	AllowedOrigins      []string
	StaticDir           string

	Bucket        string
	BucketPrefix  string
	PresignExpiry time.Duration
	RunTable      string
	RunTTL        time.Duration
	EventBus      string

	FalKey       string
	FalBaseURL   string
	FalEndpoints fal.Endpoints
	FalRateLimit float64
	FalKeyParam  string

	GeminiAPIKey   string
	GeminiModel    string
	GeminiKeyParam string
	EditProvider   string

	CompositeTimeout time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	Concurrency      int
	EnableFallback   bool
	MaxPhotoEdge     int
	PreparePhoto     bool
	Metrics          bool
}

// Load reads .env (if present) and the environment. Values already set in
// the environment win over .env entries.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment alone.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Port:                p.getInt("PORT", 8080),
		PublicBaseURL:       strings.TrimRight(os.Getenv("STORYBOOK_PUBLIC_BASE_URL"), "/"),
		IllustrationBaseURL: strings.TrimRight(os.Getenv("STORYBOOK_ILLUSTRATION_BASE_URL"), "/"),
		AllowedOrigins:      splitList(envOrDefault("STORYBOOK_CORS_ORIGINS", "*")),
		StaticDir:           os.Getenv("STORYBOOK_STATIC_DIR"),

		Bucket:        os.Getenv("STORYBOOK_BUCKET"),
		BucketPrefix:  os.Getenv("STORYBOOK_BUCKET_PREFIX"),
		PresignExpiry: p.getDuration("STORYBOOK_PRESIGN_EXPIRY", storage.DefaultPresignExpiry),
		RunTable:      os.Getenv("STORYBOOK_RUN_TABLE"),
		RunTTL:        p.getDuration("STORYBOOK_RUN_TTL", DefaultRunTTL),
		EventBus:      os.Getenv("STORYBOOK_EVENT_BUS"),

		FalKey:     os.Getenv("FAL_KEY"),
		FalBaseURL: envOrDefault("FAL_BASE_URL", fal.DefaultBaseURL),
		FalEndpoints: fal.Endpoints{
			Portrait:  envOrDefault("FAL_PORTRAIT_ENDPOINT", fal.DefaultPortraitEndpoint),
			Composite: envOrDefault("FAL_COMPOSITE_ENDPOINT", fal.DefaultCompositeEndpoint),
			Edit:      envOrDefault("FAL_EDIT_ENDPOINT", fal.DefaultEditEndpoint),
			BasicSwap: envOrDefault("FAL_SWAP_ENDPOINT", fal.DefaultSwapEndpoint),
		},
		FalRateLimit: p.getFloat("FAL_RATE_LIMIT", 5),
		FalKeyParam:  envOrDefault("SSM_FAL_KEY_PARAM", DefaultFalKeyParam),

		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    envOrDefault("GEMINI_IMAGE_MODEL", gemini.DefaultModel),
		GeminiKeyParam: envOrDefault("SSM_API_KEY_PARAM", DefaultGeminiKeyParam),
		EditProvider:   strings.ToLower(envOrDefault("STORYBOOK_EDIT_PROVIDER", EditProviderFal)),

		CompositeTimeout: p.getDuration("STORYBOOK_COMPOSITE_TIMEOUT", faceswap.DefaultCompositeTimeout),
		MaxRetries:       p.getInt("STORYBOOK_MAX_RETRIES", faceswap.DefaultMaxRetries),
		BackoffBase:      p.getDuration("STORYBOOK_BACKOFF_BASE", faceswap.DefaultRetryBaseDelay),
		Concurrency:      p.getInt("STORYBOOK_CONCURRENCY", faceswap.DefaultConcurrency),
		EnableFallback:   p.getBool("STORYBOOK_ENABLE_FALLBACK", true),
		MaxPhotoEdge:     p.getInt("STORYBOOK_MAX_PHOTO_EDGE", imaging.DefaultMaxEdge),
		PreparePhoto:     p.getBool("STORYBOOK_PREPARE_PHOTO", true),
		Metrics:          p.getBool("STORYBOOK_METRICS", os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""),
	}
	if cfg.IllustrationBaseURL == "" {
		cfg.IllustrationBaseURL = cfg.PublicBaseURL
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot run with.
// Missing provider keys are not an error here; LoadSecrets may fill them.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.Concurrency < 1 || c.Concurrency > faceswap.MaxConcurrency {
		errs = append(errs, fmt.Errorf("STORYBOOK_CONCURRENCY must be between 1 and %d, got %d", faceswap.MaxConcurrency, c.Concurrency))
	}
	if c.MaxRetries < 0 || c.MaxRetries > faceswap.MaxCompositeRetries {
		errs = append(errs, fmt.Errorf("STORYBOOK_MAX_RETRIES must be between 0 and %d, got %d", faceswap.MaxCompositeRetries, c.MaxRetries))
	}
	if c.CompositeTimeout <= 0 {
		errs = append(errs, errors.New("STORYBOOK_COMPOSITE_TIMEOUT must be positive"))
	}
	if c.BackoffBase < 0 {
		errs = append(errs, errors.New("STORYBOOK_BACKOFF_BASE must not be negative"))
	}
	if c.MaxPhotoEdge < 64 {
		errs = append(errs, fmt.Errorf("STORYBOOK_MAX_PHOTO_EDGE too small: %d", c.MaxPhotoEdge))
	}
	switch c.EditProvider {
	case EditProviderFal, EditProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("STORYBOOK_EDIT_PROVIDER must be %q or %q, got %q", EditProviderFal, EditProviderGemini, c.EditProvider))
	}
	for name, raw := range map[string]string{
		"STORYBOOK_PUBLIC_BASE_URL":       c.PublicBaseURL,
		"STORYBOOK_ILLUSTRATION_BASE_URL": c.IllustrationBaseURL,
		"FAL_BASE_URL":                    c.FalBaseURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || !u.IsAbs() {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
		}
	}
	if c.IllustrationBaseURL == "" {
		errs = append(errs, errors.New("STORYBOOK_ILLUSTRATION_BASE_URL or STORYBOOK_PUBLIC_BASE_URL is required"))
	}
	return errors.Join(errs...)
}

// RequireProviderKeys reports missing secrets for the configured providers.
func (c *Config) RequireProviderKeys() error {
	if c.FalKey == "" {
		return errors.New("FAL_KEY is not set")
	}
	if c.EditProvider == EditProviderGemini && c.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY is not set but STORYBOOK_EDIT_PROVIDER=gemini")
	}
	return nil
}

// CompositorOptions converts the retry settings for the pipeline.
func (c *Config) CompositorOptions() faceswap.CompositorOptions {
	return faceswap.CompositorOptions{
		Timeout:    c.CompositeTimeout,
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.BackoffBase,
	}
}

// FalOptions converts the fal settings for fal.NewClient.
func (c *Config) FalOptions() fal.Options {
	return fal.Options{
		BaseURL:   c.FalBaseURL,
		Endpoints: c.FalEndpoints,
		RateLimit: c.FalRateLimit,
		Burst:     c.Concurrency,
	}
}

// envOrDefault returns the named environment variable, or defaultVal when
// it is empty or unset.
func envOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser reads typed environment values and collects every parse error.
type parser struct {
	errs []error
}

func (p *parser) err() error { return errors.Join(p.errs...) }

func (p *parser) getInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", name, err))
		return def
	}
	return v
}

func (p *parser) getFloat(name string, def float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", name, err))
		return def
	}
	return v
}

func (p *parser) getBool(name string, def bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", name, err))
		return def
	}
	return v
}

func (p *parser) getDuration(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", name, err))
		return def
	}
	return v
}
