package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fullYAML = `
api:
  base_url: https://api.itcshield.example/api/v1
  timeout: 45s
  token_file: /tmp/itc-token
  oauth:
    client_id: itc-cli
    client_secret: s3cret
    token_url: https://auth.itcshield.example/oauth/token
    scopes: [batch, reconcile]

intake:
  batch_max_bytes: 1048576
  reconcile_max_bytes: 2097152

poll:
  interval: 5s
  max_backoff: 1m
  timeout: 10m

database:
  driver: postgres
  host: db.internal
  name: itc_ledger
  user: itc
  password: pw

dashboard:
  port: 9090
  allowed_origins: ["http://localhost:3000"]

notify:
  slack:
    bot_token: xoxb-1
    channel_id: C123
  discord:
    bot_token: dsc-1
    channel_id: "998877"

schedules:
  - name: monthly-pr
    cron: "0 6 14 * *"
    file: /data/pr.xlsx
  - name: fixed
    cron: "30 2 * * 1"
    file: /data/pr-sep.csv
    period: "092025"

archive:
  bucket: itc-archive
  prefix: recon/
`

const minimalYAML = `
api:
  base_url: http://localhost:8000/api/v1
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvBaseURL, EnvToken, EnvDatabaseDSN, EnvSlackToken, EnvDiscordToken} {
		t.Setenv(k, "")
	}
}

func TestParse_FullConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.BaseURL != "https://api.itcshield.example/api/v1" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 45*time.Second {
		t.Errorf("API.Timeout = %v, want 45s", cfg.API.Timeout)
	}
	if !cfg.API.OAuth.Enabled() || len(cfg.API.OAuth.Scopes) != 2 {
		t.Errorf("API.OAuth = %+v", cfg.API.OAuth)
	}
	if cfg.Intake.BatchMaxBytes != 1<<20 {
		t.Errorf("Intake.BatchMaxBytes = %d", cfg.Intake.BatchMaxBytes)
	}
	if cfg.Poll.Interval != 5*time.Second || cfg.Poll.MaxBackoff != time.Minute || cfg.Poll.Timeout != 10*time.Minute {
		t.Errorf("Poll = %+v", cfg.Poll)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.Port != 5432 {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Dashboard.Port != 9090 {
		t.Errorf("Dashboard.Port = %d, want 9090", cfg.Dashboard.Port)
	}
	if !cfg.Notify.Slack.Enabled() || !cfg.Notify.Discord.Enabled() {
		t.Errorf("Notify = %+v", cfg.Notify)
	}
	if len(cfg.Schedules) != 2 {
		t.Fatalf("len(Schedules) = %d, want 2", len(cfg.Schedules))
	}
	if cfg.Schedules[0].Period != "previous" {
		t.Errorf("Schedules[0].Period = %q, want previous", cfg.Schedules[0].Period)
	}
	if cfg.Schedules[1].Period != "092025" {
		t.Errorf("Schedules[1].Period = %q, want 092025", cfg.Schedules[1].Period)
	}
	if cfg.Archive.Bucket != "itc-archive" {
		t.Errorf("Archive.Bucket = %q", cfg.Archive.Bucket)
	}
}

func TestParse_MinimalConfig_AppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.API.Timeout != 60*time.Second {
		t.Errorf("API.Timeout = %v, want 60s", cfg.API.Timeout)
	}
	if cfg.Intake.BatchMaxBytes != 5<<20 {
		t.Errorf("Intake.BatchMaxBytes = %d, want 5 MiB", cfg.Intake.BatchMaxBytes)
	}
	if cfg.Intake.ReconcileMaxBytes != 10<<20 {
		t.Errorf("Intake.ReconcileMaxBytes = %d, want 10 MiB", cfg.Intake.ReconcileMaxBytes)
	}
	if cfg.Poll.Interval != 3*time.Second {
		t.Errorf("Poll.Interval = %v, want 3s", cfg.Poll.Interval)
	}
	if cfg.Poll.MaxBackoff != 30*time.Second {
		t.Errorf("Poll.MaxBackoff = %v, want 30s", cfg.Poll.MaxBackoff)
	}
	if cfg.Poll.Timeout != 30*time.Minute {
		t.Errorf("Poll.Timeout = %v, want 30m", cfg.Poll.Timeout)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "itc.db" {
		t.Errorf("Database = %+v, want sqlite itc.db", cfg.Database)
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Dashboard.Port = %d, want 8080", cfg.Dashboard.Port)
	}
	if cfg.Notify.Slack.Enabled() || cfg.Notify.Discord.Enabled() {
		t.Error("notifications enabled without config")
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(minimalYAML + "database:\n  driver: mysql\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "127.0.0.1" || cfg.Database.Port != 3306 || cfg.Database.Name != "itc" {
		t.Errorf("Database = %+v", cfg.Database)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBaseURL, "https://override.example/api/v1")
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvDatabaseDSN, "file:override.db")

	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "https://override.example/api/v1" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if cfg.API.Token != "env-token" {
		t.Errorf("API.Token = %q", cfg.API.Token)
	}
	if cfg.Database.DSN != "file:override.db" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
}

func TestParse_EnvSuppliesBaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBaseURL, "http://localhost:8000/api/v1")
	if _, err := Parse([]byte("poll:\n  interval: 1s\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParse_MissingBaseURL(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]byte("poll:\n  interval: 1s\n"))
	if err == nil {
		t.Fatal("expected error for missing base_url")
	}
	if !strings.Contains(err.Error(), "api.base_url is required") {
		t.Errorf("error = %q, want mention of api.base_url", err.Error())
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad scheme", "api:\n  base_url: ftp://x\n", "must start with http"},
		{"oauth without secret", minimalYAML + "  oauth:\n    client_id: x\n    token_url: https://t\n", "client_secret is required"},
		{"bad driver", minimalYAML + "database:\n  driver: oracle\n", `database.driver "oracle"`},
		{"backoff below interval", minimalYAML + "poll:\n  interval: 10s\n  max_backoff: 5s\n", "max_backoff"},
		{"slack without channel", minimalYAML + "notify:\n  slack:\n    bot_token: x\n", "notify.slack.channel_id"},
		{"schedule missing fields", minimalYAML + "schedules:\n  - period: current\n", "schedules[0].name is required"},
		{"schedule bad period", minimalYAML + "schedules:\n  - name: a\n    cron: '* * * * *'\n    file: f\n    period: \"132025\"\n", "schedules[0].period"},
		{"duplicate schedule", minimalYAML + "schedules:\n  - {name: a, cron: '* * * * *', file: f}\n  - {name: a, cron: '* * * * *', file: g}\n", "duplicated"},
		{"bad port", minimalYAML + "dashboard:\n  port: 70000\n", "dashboard.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_MultipleValidationErrors(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]byte("database:\n  driver: oracle\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "api.base_url") || !strings.Contains(err.Error(), "database.driver") {
		t.Errorf("error = %q, want both problems reported", err.Error())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("api: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.HasPrefix(err.Error(), "config: parse") {
		t.Errorf("error = %q, want config: parse prefix", err.Error())
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(minimalYAML + "poll:\n  interval: soon\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "itc.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000/api/v1" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want config: read prefix", err.Error())
	}
}
