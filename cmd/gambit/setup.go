package main

import (
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/gambitfleet/gambit/internal/cloud"
	"github.com/gambitfleet/gambit/internal/config"
	"github.com/gambitfleet/gambit/internal/db"
	"github.com/gambitfleet/gambit/internal/notify"
	"github.com/gambitfleet/gambit/internal/notify/discord"
	"github.com/gambitfleet/gambit/internal/notify/slack"
)

// loadSetup loads the config and opens (and migrates) the fleet database.
func loadSetup(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// buildProvider creates the cloud API client from config. The API key comes
// from the environment, never the config file.
func buildProvider(cfg *config.Config) (*cloud.API, error) {
	key := cfg.APIKey()
	if key == "" {
		return nil, fmt.Errorf("provider API key not set (export %s)", cfg.Provider.APIKeyEnv)
	}
	return cloud.NewAPI(cfg.Provider.BaseURL, key)
}

// buildNotifier assembles the configured chat notifiers. A channel configured
// without its token in the environment is an error; no channels configured
// means no notifier at all.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	var multi notify.Multi

	if s := cfg.Notify.Slack; s.ChannelID != "" {
		token := os.Getenv(s.BotTokenEnv)
		if token == "" {
			return nil, fmt.Errorf("slack channel configured but %s is not set", s.BotTokenEnv)
		}
		n, err := slack.New(slack.Opts{BotToken: token, ChannelID: s.ChannelID})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
	}

	if d := cfg.Notify.Discord; d.ChannelID != "" {
		token := os.Getenv(d.TokenEnv)
		if token == "" {
			return nil, fmt.Errorf("discord channel configured but %s is not set", d.TokenEnv)
		}
		n, err := discord.New(discord.Opts{BotToken: token, ChannelID: d.ChannelID})
		if err != nil {
			return nil, err
		}
		multi = append(multi, n)
	}

	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}
