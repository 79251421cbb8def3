package config

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/manupuranic/dataflow-hub/internal/util"
)

// LoadConfig reads, parses, and validates the YAML configuration file,
// applying defaults before returning.
func LoadConfig(filename string) (*Config, error) {
	fileBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(fileBytes, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in '%s': %w", filename, err)
	}

	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Default returns a Config with every default applied, used when no config
// file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Importer.ChunkSize == 0 {
		cfg.Importer.ChunkSize = DefaultChunkSize
	}
	if cfg.Importer.MaxRetries == 0 {
		cfg.Importer.MaxRetries = DefaultMaxRetries
	}
	if cfg.Importer.TimeoutSeconds == 0 {
		cfg.Importer.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.Paths.InputDir == "" {
		cfg.Paths.InputDir = DefaultInputDir
	}
	if cfg.Paths.ReportDir == "" {
		cfg.Paths.ReportDir = DefaultReportDir
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
}

// ResolveConnString assembles the PostgreSQL connection string from the database
// section, preferring an explicit conn_string. Environment variables are
// expanded in every component.
func (dc DatabaseConfig) ResolveConnString() string {
	if dc.ConnString != "" {
		return util.ExpandEnvUniversal(dc.ConnString)
	}
	if dc.Host == "" && dc.User == "" && dc.DBName == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%s", util.ExpandEnvUniversal(dc.Host), util.ExpandEnvUniversal(dc.Port)),
		Path:   "/" + util.ExpandEnvUniversal(dc.DBName),
	}
	user := util.ExpandEnvUniversal(dc.User)
	if user != "" {
		u.User = url.UserPassword(user, util.ExpandEnvUniversal(dc.Password))
	}
	if dc.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", util.ExpandEnvUniversal(dc.SSLMode))
		u.RawQuery = q.Encode()
	}
	return u.String()
}
