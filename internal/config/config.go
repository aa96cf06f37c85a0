package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Whisper struct {
		Model          string `yaml:"model"`
		Device         string `yaml:"device"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"whisper"`

	Ollama struct {
		BaseURL               string `yaml:"base_url"`
		Model                 string `yaml:"model"`
		CorrectTimeoutSeconds int    `yaml:"correct_timeout_seconds"`
		SummaryTimeoutSeconds int    `yaml:"summary_timeout_seconds"`
	} `yaml:"ollama"`

	Workers struct {
		Count int `yaml:"count"`
	} `yaml:"workers"`

	Storage struct {
		DataDir   string `yaml:"data_dir"`
		UploadDir string `yaml:"upload_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes   int `yaml:"interval_minutes"`
		FileRetentionDays int `yaml:"file_retention_days"`
	} `yaml:"cleanup"`

	Limits struct {
		MaxFileSizeBytes int64 `yaml:"max_file_size_bytes"`
	} `yaml:"limits"`
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8100
	cfg.Server.Host = "0.0.0.0"
	cfg.Whisper.Model = "large-v3-turbo"
	cfg.Whisper.Device = "cpu"
	cfg.Whisper.TimeoutSeconds = 900
	cfg.Ollama.BaseURL = "http://127.0.0.1:11434"
	cfg.Ollama.Model = "gemma-2-2b-jpn-it"
	cfg.Ollama.CorrectTimeoutSeconds = 120
	cfg.Ollama.SummaryTimeoutSeconds = 300
	cfg.Workers.Count = 1
	cfg.Storage.DataDir = "./data"
	cfg.Storage.UploadDir = "./uploads"
	cfg.Cleanup.IntervalMinutes = 60
	cfg.Cleanup.FileRetentionDays = 7
	cfg.Limits.MaxFileSizeBytes = 52_428_800
	return cfg
}

// Load reads the YAML config file (optional) and applies environment
// overrides. A missing file is not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Storage.Database == "" {
		cfg.Storage.Database = cfg.Storage.DataDir + "/meeting_minutes.db"
	}
	if cfg.Workers.Count < 1 {
		return nil, fmt.Errorf("workers.count must be >= 1, got %d", cfg.Workers.Count)
	}
	if cfg.Limits.MaxFileSizeBytes <= 0 {
		return nil, fmt.Errorf("limits.max_file_size_bytes must be > 0")
	}
	return cfg, nil
}

// applyEnv overrides config fields from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("WHISPER_MODEL"); v != "" {
		cfg.Whisper.Model = v
	}
	if v := os.Getenv("WHISPER_DEVICE"); v != "" {
		cfg.Whisper.Device = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.Ollama.Model = v
	}
	if v := os.Getenv("MAX_FILE_SIZE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Limits.MaxFileSizeBytes = n
		}
	}
	if v := os.Getenv("WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.Count = n
		}
	}
	if v := os.Getenv("FILE_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cleanup.FileRetentionDays = n
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
		cfg.Storage.Database = ""
	}
	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Storage.UploadDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
}
