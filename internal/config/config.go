package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the dispatch triggers
type Config struct {
	Resend    ResendConfig    `yaml:"resend"`
	Storage   StorageConfig   `yaml:"storage"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Redis     RedisConfig     `yaml:"redis"`
}

// ResendConfig holds delivery provider API configuration
type ResendConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	TestFromEmail  string `yaml:"test_from_email"`
	ReplyTo        string `yaml:"reply_to"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c ResendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FromAddress returns the production sender identity, with an optional
// display name: "Name <addr>" or just "addr".
func (c ResendConfig) FromAddress() string {
	if c.FromName != "" {
		return fmt.Sprintf("%s <%s>", c.FromName, c.FromEmail)
	}
	return c.FromEmail
}

// TestFromAddress returns the sender identity for test sends, falling back
// to the production address when no test address is configured.
func (c ResendConfig) TestFromAddress() string {
	email := c.TestFromEmail
	if email == "" {
		email = c.FromEmail
	}
	if c.FromName != "" {
		return fmt.Sprintf("%s <%s>", c.FromName, email)
	}
	return email
}

// StorageConfig holds the archive bucket configuration
type StorageConfig struct {
	S3Bucket   string `yaml:"s3_bucket"`
	BaseURL    string `yaml:"base_url"` // public URL assets are rewritten against
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // empty uses the default credential chain
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On CI runners and ECS, use the ambient role instead of a profile
	if os.Getenv("GITHUB_ACTIONS") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// DispatchConfig holds trigger-level settings
type DispatchConfig struct {
	TestSegmentID    string `yaml:"test_segment_id"` // fixed destination for test sends
	LeaseTTLSeconds  int    `yaml:"lease_ttl_seconds"`
	RecipientSamples int    `yaml:"recipient_samples"` // contacts shown in the test summary
}

// LeaseTTL returns the dispatch lease TTL as a duration
func (c DispatchConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// SchedulerConfig holds the scheduled trigger's due-window configuration.
// WindowMinutes must match the cron cadence of the scheduled trigger: the
// lookback window assumes the trigger fires at least once per window, and a
// wider cadence would silently drop due campaigns.
type SchedulerConfig struct {
	WindowMinutes int `yaml:"window_minutes"`
}

// Window returns the due window as a duration
func (c SchedulerConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// RedisConfig holds the optional lease backend. With no address configured,
// triggers rely on the cooperative status/sentAt gate alone.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a lease backend is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Load reads and parses the configuration file. A missing file is not an
// error: the triggers can run from environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Resend.BaseURL == "" {
		cfg.Resend.BaseURL = "https://api.resend.com"
	}
	if cfg.Resend.TimeoutSeconds == 0 {
		cfg.Resend.TimeoutSeconds = 30
	}
	if cfg.Resend.FromEmail == "" {
		cfg.Resend.FromEmail = "onboarding@resend.dev"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "ap-northeast-1"
	}
	if cfg.Scheduler.WindowMinutes == 0 {
		cfg.Scheduler.WindowMinutes = 5
	}
	if cfg.Dispatch.LeaseTTLSeconds == 0 {
		cfg.Dispatch.LeaseTTLSeconds = 300
	}
	if cfg.Dispatch.RecipientSamples == 0 {
		cfg.Dispatch.RecipientSamples = 3
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars on CI.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Resend.APIKey = v
	}
	if v := os.Getenv("RESEND_BASE_URL"); v != "" {
		cfg.Resend.BaseURL = v
	}
	if v := os.Getenv("RESEND_FROM_EMAIL"); v != "" {
		cfg.Resend.FromEmail = v
	}
	if v := os.Getenv("RESEND_FROM_NAME"); v != "" {
		cfg.Resend.FromName = v
	}
	if v := os.Getenv("RESEND_TEST_FROM_EMAIL"); v != "" {
		cfg.Resend.TestFromEmail = v
	}
	if v := os.Getenv("RESEND_REPLY_TO"); v != "" {
		cfg.Resend.ReplyTo = v
	}
	if v := os.Getenv("S3_BUCKET_NAME"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("S3_BUCKET_URL"); v != "" {
		cfg.Storage.BaseURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}
	if v := os.Getenv("TEST_SEGMENT_ID"); v != "" {
		cfg.Dispatch.TestSegmentID = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	return cfg, nil
}
