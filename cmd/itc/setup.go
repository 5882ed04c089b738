package main

import (
	"context"
	"errors"

	"github.com/itcshield/itc/internal/archive"
	"github.com/itcshield/itc/internal/auth"
	"github.com/itcshield/itc/internal/config"
	"github.com/itcshield/itc/internal/db"
	"github.com/itcshield/itc/internal/notify"
	"github.com/itcshield/itc/internal/notify/discord"
	"github.com/itcshield/itc/internal/notify/slack"
	"github.com/itcshield/itc/internal/remote"
	"github.com/itcshield/itc/internal/workflow"
	"gorm.io/gorm"
)

// loadConfig loads the config for commands that need no ledger.
func loadConfig(configPath string) (*config.Config, error) {
	return config.Load(configPath)
}

// connectFromConfig loads the config and opens the migrated ledger.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newClient builds the service client. A missing token is not an error
// here; the service answers 401 and the user is told to log in.
func newClient(ctx context.Context, cfg *config.Config) (*remote.Client, error) {
	ts, err := auth.TokenSource(ctx, cfg.API)
	if err != nil && !errors.Is(err, auth.ErrNoToken) {
		return nil, err
	}
	return remote.NewClient(remote.ClientOpts{
		BaseURL:     cfg.API.BaseURL,
		Timeout:     cfg.API.Timeout,
		TokenSource: ts,
	})
}

// newNotifier fans out to every configured chat target.
func newNotifier(cfg config.NotifyConfig) (notify.Adapter, error) {
	var targets notify.Multi
	if cfg.Slack.Enabled() {
		a, err := slack.New(slack.AdapterOpts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
		if err != nil {
			return nil, err
		}
		targets = append(targets, a)
	}
	if cfg.Discord.Enabled() {
		a, err := discord.New(discord.AdapterOpts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
		if err != nil {
			return nil, err
		}
		targets = append(targets, a)
	}
	if len(targets) == 0 {
		return notify.Nop{}, nil
	}
	return targets, nil
}

// newRunner wires the client, ledger, notifier and archive together. The
// returned cleanup closes the archive client.
func newRunner(ctx context.Context, cfg *config.Config, gormDB *gorm.DB) (*workflow.Runner, func(), error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	notifier, err := newNotifier(cfg.Notify)
	if err != nil {
		return nil, nil, err
	}

	opts := workflow.Opts{
		API:      client,
		DB:       gormDB,
		Notifier: notifier,
		Intake:   cfg.Intake,
		Poll:     cfg.Poll,
	}
	cleanup := func() {}
	if cfg.Archive.Bucket != "" {
		gcs, err := archive.NewGCS(ctx, cfg.Archive.Bucket)
		if err != nil {
			return nil, nil, err
		}
		opts.Archive = gcs
		opts.ArchivePrefix = cfg.Archive.Prefix
		cleanup = func() { _ = gcs.Close() }
	}

	runner, err := workflow.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return runner, cleanup, nil
}
