// Package config loads the harness configuration from environment variables, optionally
// seeded from a dotenv file, validates it, and exposes per-service credential sets.
//
// Every credential is optional: a missing credential disables exactly the checks that
// need it. Only the harness's own settings (target host, timeouts, pacing) are validated.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/kuitang/stackcheck/internal/ratelimit"
	"github.com/kuitang/stackcheck/internal/registry"
)

// DefaultEnvFile is the dotenv file read by Load when present.
const DefaultEnvFile = ".env.e2e"

// Credential is one credential set. Empty fields are absent.
type Credential struct {
	Username string
	Password string
	APIKey   string
}

// Has reports whether c carries the given kind.
func (c Credential) Has(kind registry.CredentialKind) bool {
	switch kind {
	case registry.NeedUsername:
		return c.Username != ""
	case registry.NeedPassword:
		return c.Password != ""
	case registry.NeedAPIKey:
		return c.APIKey != ""
	default:
		return false
	}
}

// Missing returns the kinds in requires that c lacks.
func (c Credential) Missing(requires []registry.CredentialKind) []registry.CredentialKind {
	var missing []registry.CredentialKind
	for _, kind := range requires {
		if !c.Has(kind) {
			missing = append(missing, kind)
		}
	}
	return missing
}

// Credentials maps credential set names to their values.
type Credentials map[string]Credential

// Lookup returns the set named set, or an empty credential.
func (c Credentials) Lookup(set string) Credential {
	return c[set]
}

// Config holds all harness configuration.
type Config struct {
	// Target
	NASHost        string `env:"NAS_HOST" validate:"required,hostname_rfc1123|ip"`
	ScreenshotsDir string `env:"SCREENSHOTS_DIR" validate:"required"`
	ServicesFile   string `env:"STACKCHECK_SERVICES_FILE"`
	MetricsFile    string `env:"STACKCHECK_METRICS_FILE"`
	LogLevel       string `env:"STACKCHECK_LOG_LEVEL" validate:"oneof=debug info warn error"`

	// Browser
	Headless bool `env:"STACKCHECK_HEADLESS"`

	// Timeouts
	TestTimeout       time.Duration `env:"STACKCHECK_TEST_TIMEOUT" validate:"gt=0"`
	SlowTestTimeout   time.Duration `env:"STACKCHECK_SLOW_TEST_TIMEOUT" validate:"gtefield=TestTimeout"`
	VisibilityTimeout time.Duration `env:"STACKCHECK_VISIBILITY_TIMEOUT" validate:"gt=0"`
	GateTimeout       time.Duration `env:"STACKCHECK_GATE_TIMEOUT" validate:"gt=0"`
	ImageTimeout      time.Duration `env:"STACKCHECK_IMAGE_TIMEOUT" validate:"gt=0"`

	// Out-of-band HTTP
	RateLimitConfig ratelimit.Config `env:"STACKCHECK_HTTP"`
	InsecureTLS     bool             `env:"STACKCHECK_INSECURE_TLS"`

	// Evidence mirror (uses AWS_ env vars, as for any S3-compatible store)
	EvidenceBucket     string `env:"EVIDENCE_S3_BUCKET"`
	EvidencePrefix     string `env:"EVIDENCE_S3_PREFIX"`
	AWSEndpointS3      string `env:"AWS_ENDPOINT_URL_S3" validate:"omitempty,url"`
	AWSRegion          string `env:"AWS_REGION" validate:"required_with=EvidenceBucket"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" validate:"required_with=EvidenceBucket"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" validate:"required_with=EvidenceBucket"`

	Credentials Credentials `env:"-"`
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// credentialEnv lists the variables that populate each credential set.
var credentialEnv = map[string]struct{ username, password, apiKey string }{
	registry.SetJellyfin:    {"JELLYFIN_USERNAME", "JELLYFIN_PASSWORD", ""},
	registry.SetSonarr:      {"SONARR_USERNAME", "SONARR_PASSWORD", "SONARR_API_KEY"},
	registry.SetRadarr:      {"RADARR_USERNAME", "RADARR_PASSWORD", "RADARR_API_KEY"},
	registry.SetProwlarr:    {"PROWLARR_USERNAME", "PROWLARR_PASSWORD", ""},
	registry.SetQBittorrent: {"QBIT_USERNAME", "QBIT_PASSWORD", ""},
	registry.SetSABnzbd:     {"", "", "SABNZBD_API_KEY"},
	registry.SetBazarr:      {"", "", "BAZARR_API_KEY"},
	registry.SetPihole:      {"", "PIHOLE_PASSWORD", ""},
}

// Load reads envFile (if it exists) into the environment without overriding variables
// that are already set, then loads and validates the configuration.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from the current environment without validating it.
func FromEnv() *Config {
	cfg := &Config{}

	cfg.NASHost = getEnvOrDefault("NAS_HOST", "localhost")
	cfg.ScreenshotsDir = getEnvOrDefault("SCREENSHOTS_DIR", "screenshots")
	cfg.ServicesFile = strings.TrimSpace(os.Getenv("STACKCHECK_SERVICES_FILE"))
	cfg.MetricsFile = strings.TrimSpace(os.Getenv("STACKCHECK_METRICS_FILE"))
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("STACKCHECK_LOG_LEVEL", "info"))

	cfg.Headless = parseBoolOrDefault("STACKCHECK_HEADLESS", true)

	cfg.TestTimeout = parseDurationOrDefault("STACKCHECK_TEST_TIMEOUT", 30*time.Second)
	cfg.SlowTestTimeout = parseDurationOrDefault("STACKCHECK_SLOW_TEST_TIMEOUT", 60*time.Second)
	cfg.VisibilityTimeout = parseDurationOrDefault("STACKCHECK_VISIBILITY_TIMEOUT", 10*time.Second)
	cfg.GateTimeout = parseDurationOrDefault("STACKCHECK_GATE_TIMEOUT", 3*time.Second)
	cfg.ImageTimeout = parseDurationOrDefault("STACKCHECK_IMAGE_TIMEOUT", 8*time.Second)

	cfg.RateLimitConfig = ratelimit.Config{
		RPS:             parseFloat64OrDefault("STACKCHECK_HTTP_RPS", ratelimit.DefaultConfig.RPS),
		Burst:           parseIntOrDefault("STACKCHECK_HTTP_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval: ratelimit.DefaultConfig.CleanupInterval,
	}
	cfg.InsecureTLS = parseBoolOrDefault("STACKCHECK_INSECURE_TLS", true)

	cfg.EvidenceBucket = strings.TrimSpace(os.Getenv("EVIDENCE_S3_BUCKET"))
	cfg.EvidencePrefix = strings.Trim(strings.TrimSpace(os.Getenv("EVIDENCE_S3_PREFIX")), "/")
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", "")
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	if cfg.EvidenceBucket != "" && cfg.AWSRegion == "" {
		cfg.AWSRegion = "auto"
	}

	cfg.Credentials = make(Credentials, len(credentialEnv))
	for set, env := range credentialEnv {
		cred := Credential{
			Username: lookupTrimmed(env.username),
			Password: lookupTrimmed(env.password),
			APIKey:   lookupTrimmed(env.apiKey),
		}
		if cred != (Credential{}) {
			cfg.Credentials[set] = cred
		}
	}

	return cfg
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := field.Tag.Get("env")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate checks the harness settings and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if c.RateLimitConfig.RPS < 0 {
		problems = append(problems, "STACKCHECK_HTTP_RPS must not be negative")
	}
	if c.RateLimitConfig.Burst < 0 {
		problems = append(problems, "STACKCHECK_HTTP_BURST must not be negative")
	}

	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_with":
		return fe.Field() + " is required when EVIDENCE_S3_BUCKET is set"
	case "gt":
		return fe.Field() + " must be positive"
	case "gtefield":
		return fe.Field() + " must not be shorter than STACKCHECK_TEST_TIMEOUT"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "url":
		return fe.Field() + " must be a URL"
	case "hostname_rfc1123|ip":
		return fe.Field() + " must be a hostname or IP address"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

// MirrorEnabled reports whether evidence is mirrored to object storage.
func (c *Config) MirrorEnabled() bool {
	return c.EvidenceBucket != ""
}

// PrintSummary writes a human-readable summary of the configuration. Secrets are never printed.
func (c *Config) PrintSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "stackcheck")
	fmt.Fprintf(w, "  Target:   %s\n", c.NASHost)
	fmt.Fprintf(w, "  Evidence: %s\n", c.ScreenshotsDir)
	if c.MirrorEnabled() {
		fmt.Fprintf(w, "  Mirror:   s3://%s/%s\n", c.EvidenceBucket, c.EvidencePrefix)
	} else {
		fmt.Fprintln(w, "  Mirror:   disabled")
	}
	fmt.Fprintf(w, "  Browser:  chromium (headless=%t)\n", c.Headless)
	fmt.Fprintf(w, "  Timeout:  %s (slow %s)\n", c.TestTimeout, c.SlowTestTimeout)

	sets := make([]string, 0, len(c.Credentials))
	for set := range c.Credentials {
		sets = append(sets, set)
	}
	sort.Strings(sets)
	fmt.Fprintf(w, "  Creds:    %s\n", strings.Join(sets, ", "))
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

func lookupTrimmed(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(key))
}

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
