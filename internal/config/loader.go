package config

import (
	"fmt"
	"time"

	"github.com/rpattn/trackdim/internal/db"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// SourceConfig holds the catalog API settings.
type SourceConfig struct {
	BaseURL      string
	TokenURL     string
	SecretName   string
	ReleaseLimit int
	Retries      int
	Timeout      time.Duration
}

// PipelineConfig holds orchestration policy knobs.
type PipelineConfig struct {
	// AbortOnMalformed fails the batch on the first payload without a track
	// id; the default policy drops the record and keeps going.
	AbortOnMalformed bool
}

// ExportConfig holds dimension export settings.
type ExportConfig struct {
	Dir string
}

// Config is the explicit configuration threaded into construction; nothing in
// the pipeline reads ambient process state directly.
type Config struct {
	Database   db.Config
	Server     ServerConfig
	Source     SourceConfig
	Pipeline   PipelineConfig
	Export     ExportConfig
	SecretsDir string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Source: SourceConfig{
			BaseURL:      "https://api.spotify.com/v1",
			TokenURL:     "https://accounts.spotify.com/api/token",
			SecretName:   "spotify",
			ReleaseLimit: 5,
			Retries:      3,
			Timeout:      15 * time.Second,
		},
		Export:     ExportConfig{Dir: "exports"},
		SecretsDir: "secrets",
	}
}

// Load reads config.yaml from configPath, layering environment overrides
// (TRACKDIM_DATABASE_HOST etc.) over the defaults.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("TRACKDIM")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("source.secret_name")
	v.BindEnv("secrets_dir")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if v.IsSet("source.base_url") {
		cfg.Source.BaseURL = v.GetString("source.base_url")
	}
	if v.IsSet("source.token_url") {
		cfg.Source.TokenURL = v.GetString("source.token_url")
	}
	if v.IsSet("source.secret_name") {
		cfg.Source.SecretName = v.GetString("source.secret_name")
	}
	if v.IsSet("source.release_limit") {
		cfg.Source.ReleaseLimit = v.GetInt("source.release_limit")
	}
	if v.IsSet("source.retries") {
		cfg.Source.Retries = v.GetInt("source.retries")
	}
	if v.IsSet("source.timeout") {
		cfg.Source.Timeout = v.GetDuration("source.timeout")
	}

	if v.IsSet("pipeline.abort_on_malformed") {
		cfg.Pipeline.AbortOnMalformed = v.GetBool("pipeline.abort_on_malformed")
	}

	if v.IsSet("export.dir") {
		cfg.Export.Dir = v.GetString("export.dir")
	}
	if v.IsSet("secrets_dir") {
		cfg.SecretsDir = v.GetString("secrets_dir")
	}

	return cfg, nil
}
