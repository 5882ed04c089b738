// Package config provides YAML-based configuration loading for itc.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for its config file.
const DefaultPath = "itc.yaml"

// Config is the top-level itc configuration, loaded from itc.yaml.
type Config struct {
	API       APIConfig        `yaml:"api"`
	Intake    IntakeConfig     `yaml:"intake"`
	Poll      PollConfig       `yaml:"poll"`
	Database  DatabaseConfig   `yaml:"database"`
	Dashboard DashboardConfig  `yaml:"dashboard"`
	Notify    NotifyConfig     `yaml:"notify"`
	Schedules []ScheduleConfig `yaml:"schedules"`
	Archive   ArchiveConfig    `yaml:"archive"`
}

// APIConfig holds connection settings for the compliance service.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	Token     string        `yaml:"token"`
	TokenFile string        `yaml:"token_file"`
	OAuth     OAuthConfig   `yaml:"oauth"`
}

// OAuthConfig enables the client-credentials grant instead of a static token.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether client credentials are configured.
func (o OAuthConfig) Enabled() bool { return o.ClientID != "" }

// IntakeConfig holds local upload ceilings.
type IntakeConfig struct {
	BatchMaxBytes     int64 `yaml:"batch_max_bytes"`
	ReconcileMaxBytes int64 `yaml:"reconcile_max_bytes"`
}

// PollConfig controls job status polling.
type PollConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	Timeout    time.Duration `yaml:"timeout"`
}

// DatabaseConfig selects the local job ledger.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, mysql or postgres
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DSN      string `yaml:"dsn"` // overrides the fields above
}

// DashboardConfig configures `itc serve`.
type DashboardConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// NotifyConfig holds chat notification targets. Both are optional.
type NotifyConfig struct {
	Slack   ChatConfig `yaml:"slack"`
	Discord ChatConfig `yaml:"discord"`
}

// ChatConfig is a bot token and the channel to post to.
type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether the target is configured.
func (c ChatConfig) Enabled() bool { return c.BotToken != "" && c.ChannelID != "" }

// ScheduleConfig is a recurring reconciliation run.
type ScheduleConfig struct {
	Name   string `yaml:"name"`
	Cron   string `yaml:"cron"`
	File   string `yaml:"file"`
	Period string `yaml:"period"` // previous, current or MMYYYY
}

// ArchiveConfig enables copying reconciliation payloads to a GCS bucket.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Environment overrides, applied after the file is read.
const (
	EnvBaseURL      = "ITC_API_BASE_URL"
	EnvToken        = "ITC_API_TOKEN"
	EnvDatabaseDSN  = "ITC_DATABASE_DSN"
	EnvSlackToken   = "ITC_SLACK_BOT_TOKEN"
	EnvDiscordToken = "ITC_DISCORD_BOT_TOKEN"
)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// overrides are applied before defaults and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.API.BaseURL, EnvBaseURL)
	set(&c.API.Token, EnvToken)
	set(&c.Database.DSN, EnvDatabaseDSN)
	set(&c.Notify.Slack.BotToken, EnvSlackToken)
	set(&c.Notify.Discord.BotToken, EnvDiscordToken)
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.API.Timeout == 0 {
		c.API.Timeout = 60 * time.Second
	}
	if c.API.TokenFile == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			c.API.TokenFile = filepath.Join(dir, "itc", "token")
		}
	}
	if c.Intake.BatchMaxBytes == 0 {
		c.Intake.BatchMaxBytes = 5 << 20
	}
	if c.Intake.ReconcileMaxBytes == 0 {
		c.Intake.ReconcileMaxBytes = 10 << 20
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = 3 * time.Second
	}
	if c.Poll.MaxBackoff == 0 {
		c.Poll.MaxBackoff = 30 * time.Second
	}
	if c.Poll.Timeout == 0 {
		c.Poll.Timeout = 30 * time.Minute
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "itc.db"
		}
	case "mysql", "postgres":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 && c.Database.Driver == "mysql" {
			c.Database.Port = 3306
		}
		if c.Database.Port == 0 && c.Database.Driver == "postgres" {
			c.Database.Port = 5432
		}
		if c.Database.Name == "" {
			c.Database.Name = "itc"
		}
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	for i := range c.Schedules {
		if c.Schedules[i].Period == "" {
			c.Schedules[i].Period = "previous"
		}
	}
}

var periodPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])\d{4}$`)

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	} else if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		errs = append(errs, "api.base_url must start with http:// or https://")
	}
	if c.API.Timeout < 0 {
		errs = append(errs, "api.timeout must be positive")
	}
	if c.API.OAuth.Enabled() {
		if c.API.OAuth.ClientSecret == "" {
			errs = append(errs, "api.oauth.client_secret is required with client_id")
		}
		if c.API.OAuth.TokenURL == "" {
			errs = append(errs, "api.oauth.token_url is required with client_id")
		}
	}
	if c.Intake.BatchMaxBytes < 0 || c.Intake.ReconcileMaxBytes < 0 {
		errs = append(errs, "intake ceilings must be positive")
	}
	if c.Poll.Interval < 0 {
		errs = append(errs, "poll.interval must be positive")
	}
	if c.Poll.MaxBackoff > 0 && c.Poll.MaxBackoff < c.Poll.Interval {
		errs = append(errs, "poll.max_backoff must not be shorter than poll.interval")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite, mysql or postgres", c.Database.Driver))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Sprintf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if c.Notify.Slack.BotToken != "" && c.Notify.Slack.ChannelID == "" {
		errs = append(errs, "notify.slack.channel_id is required with bot_token")
	}
	if c.Notify.Discord.BotToken != "" && c.Notify.Discord.ChannelID == "" {
		errs = append(errs, "notify.discord.channel_id is required with bot_token")
	}
	names := make(map[string]bool)
	for i, s := range c.Schedules {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d].name is required", i))
		} else if names[s.Name] {
			errs = append(errs, fmt.Sprintf("schedules[%d].name %q is duplicated", i, s.Name))
		}
		names[s.Name] = true
		if s.Cron == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d].cron is required", i))
		}
		if s.File == "" {
			errs = append(errs, fmt.Sprintf("schedules[%d].file is required", i))
		}
		if s.Period != "previous" && s.Period != "current" && !periodPattern.MatchString(s.Period) {
			errs = append(errs, fmt.Sprintf("schedules[%d].period %q must be previous, current or MMYYYY", i, s.Period))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
