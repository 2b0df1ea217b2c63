package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/priyankadasarigt/ytdown/internal/api"
	"github.com/priyankadasarigt/ytdown/internal/extract"
	"github.com/priyankadasarigt/ytdown/internal/ffmpeg"
	"github.com/priyankadasarigt/ytdown/internal/job"
	"github.com/priyankadasarigt/ytdown/internal/storage"
	"github.com/priyankadasarigt/ytdown/internal/token"
	"github.com/priyankadasarigt/ytdown/internal/upload"
)

const (
	DefaultConfigPath = "~/.config/ytdown/config.yaml"
	RedactedValue     = "********"
)

// Config is the struct used to contain the
// various user config supplied by file, or
// by the environment.
type Config struct {
	RestConfig api.RestConfig `yaml:"api"`
	Tokens     token.Config   `yaml:"tokens"`
	Jobs       job.Config     `yaml:"jobs"`
	Extractor  extract.Config `yaml:"extractor"`
	Ffmpeg     ffmpeg.Config  `yaml:"ffmpeg"`
	Storage    storage.Config `yaml:"storage"`
	Upload     upload.Config  `yaml:"upload"`
	LogLevel   string         `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
}

// LoadConfig loads the YAML configuration file at the path provided, with any
// environment variables taking precedence over the file. A leading '~' in the
// path is expanded to the users home directory. A missing file is not an error,
// in which case the config is read from the environment alone.
//
// Any .env file found beside the config file, or in the working directory, is
// loaded in to the environment first. Variables which are already set are not
// overridden.
// Redacted returns a copy of the config with storage credentials masked, for
// printing and logging.
func (config Config) Redacted() Config {
	if config.Storage.AccessKeyID != "" {
		config.Storage.AccessKeyID = RedactedValue
	}
	if config.Storage.SecretAccessKey != "" {
		config.Storage.SecretAccessKey = RedactedValue
	}

	return config
}

func LoadConfig(configPath string) (*Config, error) {
	path, err := homedir.Expand(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to expand config path %q: %w", configPath, err)
	}

	loadEnvFiles(path)

	config := &Config{}
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s - %w", path, err)
		}

		return config, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
	}

	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment - %w", err)
	}

	return config, nil
}

func loadEnvFiles(configPath string) {
	candidates := []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"}

	files := make([]string, 0, len(candidates))
	seen := make(map[string]struct{})
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(abs); err == nil {
			files = append(files, abs)
		}
	}

	if len(files) > 0 {
		_ = godotenv.Load(files...)
	}
}
