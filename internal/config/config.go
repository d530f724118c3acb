// Package config loads the pipeline configuration from environment
// variables (BIBLIOFLOW_* prefix) and an optional config file, with
// defaults suitable for a local single-operator setup.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig
	Library   LibraryConfig
	OpenAlex  OpenAlexConfig
	Crossref  CrossrefConfig
	Extractor ExtractorConfig
	Enrich    EnrichConfig
	Download  DownloadConfig
	Server    ServerConfig
}

type DatabaseConfig struct {
	Path string
}

type LibraryConfig struct {
	Dir string
}

type OpenAlexConfig struct {
	Email          string
	RequestsPerMin int
	MaxInFlight    int
}

type CrossrefConfig struct {
	Mailto         string
	RequestsPerMin int
	MaxInFlight    int
}

type ExtractorConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// TailChars bounds how much document tail is sent to the model.
	TailChars int
}

type EnrichConfig struct {
	BatchSize  int
	Workers    int
	MaxRelated int
	Depth      int
}

type DownloadConfig struct {
	BatchSize    int
	Workers      int
	LeaseSeconds int64
	MaxAttempts  int
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
}

// Load reads configuration from the environment and, when present, from
// biblioflow.yaml in the working directory. Environment wins.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BIBLIOFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database.path", "biblioflow.db")
	v.SetDefault("library.dir", "library")

	v.SetDefault("openalex.email", "")
	v.SetDefault("openalex.requests_per_min", 100)
	v.SetDefault("openalex.max_in_flight", 8)

	v.SetDefault("crossref.mailto", "")
	v.SetDefault("crossref.requests_per_min", 50)
	v.SetDefault("crossref.max_in_flight", 4)

	v.SetDefault("extractor.api_key", "")
	v.SetDefault("extractor.base_url", "")
	v.SetDefault("extractor.model", "")
	v.SetDefault("extractor.tail_chars", 30000)

	v.SetDefault("enrich.batch_size", 50)
	v.SetDefault("enrich.workers", 4)
	v.SetDefault("enrich.max_related", 40)
	v.SetDefault("enrich.depth", 1)

	v.SetDefault("download.batch_size", 20)
	v.SetDefault("download.workers", 4)
	v.SetDefault("download.lease_seconds", 600)
	v.SetDefault("download.max_attempts", 3)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetConfigName("biblioflow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Library: LibraryConfig{
			Dir: v.GetString("library.dir"),
		},
		OpenAlex: OpenAlexConfig{
			Email:          v.GetString("openalex.email"),
			RequestsPerMin: v.GetInt("openalex.requests_per_min"),
			MaxInFlight:    v.GetInt("openalex.max_in_flight"),
		},
		Crossref: CrossrefConfig{
			Mailto:         v.GetString("crossref.mailto"),
			RequestsPerMin: v.GetInt("crossref.requests_per_min"),
			MaxInFlight:    v.GetInt("crossref.max_in_flight"),
		},
		Extractor: ExtractorConfig{
			APIKey:    v.GetString("extractor.api_key"),
			BaseURL:   v.GetString("extractor.base_url"),
			Model:     v.GetString("extractor.model"),
			TailChars: v.GetInt("extractor.tail_chars"),
		},
		Enrich: EnrichConfig{
			BatchSize:  v.GetInt("enrich.batch_size"),
			Workers:    v.GetInt("enrich.workers"),
			MaxRelated: v.GetInt("enrich.max_related"),
			Depth:      v.GetInt("enrich.depth"),
		},
		Download: DownloadConfig{
			BatchSize:    v.GetInt("download.batch_size"),
			Workers:      v.GetInt("download.workers"),
			LeaseSeconds: v.GetInt64("download.lease_seconds"),
			MaxAttempts:  v.GetInt("download.max_attempts"),
		},
		Server: ServerConfig{
			Port:           v.GetString("server.port"),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		},
	}
	return cfg, nil
}
