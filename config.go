package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"stagetimer/autosave"
	"stagetimer/server"
	"stagetimer/storage"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// config is the process configuration. Keys match the YAML file; the
// environment equivalent is STAGETIMER_ plus the upper-cased key with
// dashes turned into underscores.
type config struct {
	Port             string        `mapstructure:"port"`
	DataDir          string        `mapstructure:"data-dir"`
	Bucket           string        `mapstructure:"bucket"`
	CredentialsJSON  string        `mapstructure:"credentials-json"`
	Allowlist        []string      `mapstructure:"allowlist"`
	AllowlistFile    string        `mapstructure:"allowlist-file"`
	CORSOrigins      []string      `mapstructure:"cors-origins"`
	AutosaveInterval time.Duration `mapstructure:"autosave-interval"`
	ReloadDebounce   time.Duration `mapstructure:"reload-debounce"`
	ViewerTimeout    time.Duration `mapstructure:"viewer-timeout"`
	Timezone         string        `mapstructure:"timezone"`
	LogLevel         string        `mapstructure:"log-level"`
}

func loadConfig(configPath string) (config, error) {
	var cfg config

	v := viper.New()
	v.SetEnvPrefix("STAGETIMER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Names used by earlier deployments.
	for key, legacy := range map[string]string{
		"port":             "PORT",
		"data-dir":         "LOCAL_STORAGE",
		"bucket":           "STORAGE_BUCKET",
		"credentials-json": "GOOGLE_CREDENTIALS_JSON",
	} {
		envKey := "STAGETIMER_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return cfg, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	v.SetDefault("port", "8080")
	v.SetDefault("data-dir", "")
	v.SetDefault("bucket", "")
	v.SetDefault("credentials-json", "")
	v.SetDefault("allowlist", []string{"127.0.0.1", "::1"})
	v.SetDefault("allowlist-file", "control_allowlist.json")
	v.SetDefault("cors-origins", []string{})
	v.SetDefault("autosave-interval", autosave.DefaultInterval)
	v.SetDefault("reload-debounce", storage.DefaultDebounce)
	v.SetDefault("viewer-timeout", server.DefaultViewerTimeout)
	v.SetDefault("timezone", "")
	v.SetDefault("log-level", "info")

	if configPath == "" {
		configPath = "stagetimer.yml"
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	// Default to local mode if no bucket specified
	if cfg.Bucket == "" && cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	return cfg, nil
}

// level maps the configured log level onto slog.
func (c config) level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// location resolves the zone target dates are interpreted in.
func (c config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// allowlistEntries merges configured entries with those in the allow-list
// file, a JSON array of addresses and prefixes. A missing file is not an
// error; an unreadable one is returned alongside the configured entries.
func (c config) allowlistEntries() ([]string, error) {
	entries := append([]string{}, c.Allowlist...)
	if c.AllowlistFile == "" {
		return entries, nil
	}

	data, err := os.ReadFile(c.AllowlistFile)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return entries, fmt.Errorf("read allowlist file: %w", err)
	}

	var fromFile []string
	if err := json.Unmarshal(data, &fromFile); err != nil {
		return entries, fmt.Errorf("parse allowlist file %s: %w", c.AllowlistFile, err)
	}
	return append(entries, fromFile...), nil
}
