package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// WorkerConfig controls the download worker pool.
type WorkerConfig struct {
	PoolSize          int `yaml:"poolSize"`
	PollIntervalMs    int `yaml:"pollIntervalMs"`
	DownloadTimeoutMs int `yaml:"downloadTimeoutMs"`
	ShutdownGraceMs   int `yaml:"shutdownGraceMs"`
}

// QuotaConfig caps the number of non-terminal jobs admitted per requester
// and across the whole service.
type QuotaConfig struct {
	PerRequester int `yaml:"perRequester"`
	Global       int `yaml:"global"`
}

// RetryConfig controls re-enqueueing of transiently failed downloads.
type RetryConfig struct {
	MaxAttempts int `yaml:"maxAttempts"`
	BaseDelayMs int `yaml:"baseDelayMs"`
	MaxDelayMs  int `yaml:"maxDelayMs"`
}

// DownloaderConfig configures the yt-dlp backed fetcher.
type DownloaderConfig struct {
	OutputDir     string `yaml:"outputDir"`
	DefaultFormat string `yaml:"defaultFormat"`
	RestrictNames bool   `yaml:"restrictNames"`
}

// ClassifierConfig maps backend error text to transient/permanent kinds.
// The substring lists are matched case-insensitively against the error
// message reported by the download backend.
type ClassifierConfig struct {
	PermanentPatterns []string `yaml:"permanentPatterns"`
	TransientPatterns []string `yaml:"transientPatterns"`
	DefaultKind       string   `yaml:"defaultKind"`
}

// NotifyConfig selects where terminal job outcomes are delivered.
type NotifyConfig struct {
	RedisChannelPrefix string `yaml:"redisChannelPrefix"`
}

type RateLimitConfig struct {
	SubmitPerMinute int `yaml:"submitPerMinute"`
}

// RetentionConfig controls TTL-like deletion of terminal jobs so that the
// database does not grow without bound over time.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes"`
	TerminalJobDays        int  `yaml:"terminalJobDays"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Admins     []string         `yaml:"admins"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Worker     WorkerConfig     `yaml:"worker"`
	Quota      QuotaConfig      `yaml:"quota"`
	Retry      RetryConfig      `yaml:"retry"`
	Downloader DownloaderConfig `yaml:"downloader"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Notify     NotifyConfig     `yaml:"notify"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit"`
	Retention  RetentionConfig  `yaml:"retention"`
}

func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	return &cfg
}
