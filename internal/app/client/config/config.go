package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"

	defaultServerAddress = "localhost:8080"
	defaultConfigDir     = ".tether"
	configFileName       = "config.yaml"
)

type Config struct {
	Env           string
	ServerAddress string
	EnableTLS     bool
	ConfigDir     string
	DBPath        string
	TokenPath     string
	LogFile       string

	Sync      Sync
	Retry     Retry
	Storage   Storage
	Realtime  bool
	HTTPRetry int
}

type Sync struct {
	Interval          time.Duration
	PushBatchSize     int
	PullPageSize      int
	PullMaxPages      int
	ConnectivityCheck time.Duration
}

type Retry struct {
	// Errored включает автоматический повтор транзакций со статусом error.
	Errored bool
	Base    time.Duration
	Max     time.Duration
}

type Storage struct {
	QuotaBytes        int64
	EvictionThreshold float64
	EvictionTarget    float64
	EvictionInterval  time.Duration
}

// Load загружает конфигурацию клиента из окружения, .env и необязательного
// YAML файла. Пустой path означает <CONFIG_DIR>/config.yaml, если он есть.
func Load(path string) (*Config, error) {
	// .env рядом с местом запуска, ошибки игнорируем: файл необязателен
	_ = godotenv.Load(".env")

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	configDir := v.GetString("config_dir")
	if configDir == defaultConfigDir {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		configDir = filepath.Join(homeDir, configDir)
	}

	if path == "" {
		candidate := filepath.Join(configDir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации %s: %w", path, err)
		}
	}

	cfg := &Config{
		Env:           v.GetString("app_env"),
		ServerAddress: v.GetString("server_address"),
		EnableTLS:     v.GetBool("enable_tls"),
		ConfigDir:     configDir,
		DBPath:        inDir(configDir, v.GetString("db_path")),
		TokenPath:     inDir(configDir, v.GetString("token_path")),
		LogFile:       inDir(configDir, v.GetString("log_file")),
		Sync: Sync{
			Interval:          time.Duration(v.GetInt("sync_interval_seconds")) * time.Second,
			PushBatchSize:     v.GetInt("push_batch_size"),
			PullPageSize:      v.GetInt("pull_page_size"),
			PullMaxPages:      v.GetInt("pull_max_pages"),
			ConnectivityCheck: time.Duration(v.GetInt("connectivity_check_seconds")) * time.Second,
		},
		Retry: Retry{
			Errored: v.GetBool("retry_errored"),
			Base:    time.Duration(v.GetInt("retry_base_seconds")) * time.Second,
			Max:     time.Duration(v.GetInt("retry_max_seconds")) * time.Second,
		},
		Storage: Storage{
			QuotaBytes:        v.GetInt64("storage_quota_mb") << 20,
			EvictionThreshold: v.GetFloat64("eviction_threshold"),
			EvictionTarget:    v.GetFloat64("eviction_target"),
			EvictionInterval:  v.GetDuration("eviction_interval"),
		},
		Realtime:  v.GetBool("realtime_enabled"),
		HTTPRetry: v.GetInt("http_max_retries"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("ошибка конфигурации: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", EnvLocal)
	v.SetDefault("server_address", defaultServerAddress)
	v.SetDefault("enable_tls", false)
	v.SetDefault("config_dir", defaultConfigDir)
	v.SetDefault("db_path", "replica.db")
	v.SetDefault("token_path", "token")
	v.SetDefault("log_file", "tether.log")
	v.SetDefault("sync_interval_seconds", 5)
	v.SetDefault("push_batch_size", 50)
	v.SetDefault("pull_page_size", 500)
	v.SetDefault("pull_max_pages", 5)
	v.SetDefault("retry_errored", true)
	v.SetDefault("retry_base_seconds", 5)
	v.SetDefault("retry_max_seconds", 300)
	v.SetDefault("http_max_retries", 3)
	v.SetDefault("connectivity_check_seconds", 10)
	v.SetDefault("storage_quota_mb", 256)
	v.SetDefault("eviction_threshold", 0.9)
	v.SetDefault("eviction_target", 0.75)
	v.SetDefault("eviction_interval", "10m")
	v.SetDefault("realtime_enabled", true)
}

// inDir делает относительные пути файлов относительными к каталогу конфигурации
func inDir(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// EnsureDir создает каталог конфигурации, если его нет
func (c *Config) EnsureDir() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return fmt.Errorf("ошибка создания директории конфигурации: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return errors.New("APP_ENV должен быть одним из local, dev, prod")
	}
	if c.ServerAddress == "" {
		return errors.New("SERVER_ADDRESS не может быть пустым")
	}
	if c.Sync.Interval <= 0 {
		return errors.New("SYNC_INTERVAL_SECONDS должен быть положительным")
	}
	if c.Sync.PushBatchSize <= 0 || c.Sync.PullPageSize <= 0 || c.Sync.PullMaxPages <= 0 {
		return errors.New("размеры пакетов синхронизации должны быть положительными")
	}
	if c.Retry.Base <= 0 || c.Retry.Max < c.Retry.Base {
		return errors.New("RETRY_MAX_SECONDS должен быть не меньше RETRY_BASE_SECONDS")
	}
	if c.HTTPRetry < 0 {
		return errors.New("HTTP_MAX_RETRIES не может быть отрицательным")
	}
	if c.Storage.EvictionThreshold <= 0 || c.Storage.EvictionThreshold > 1 {
		return errors.New("EVICTION_THRESHOLD должен быть в диапазоне (0, 1]")
	}
	if c.Storage.EvictionTarget <= 0 || c.Storage.EvictionTarget > c.Storage.EvictionThreshold {
		return errors.New("EVICTION_TARGET должен быть в диапазоне (0, EVICTION_THRESHOLD]")
	}
	if c.Storage.EvictionInterval <= 0 {
		return errors.New("EVICTION_INTERVAL должен быть положительным")
	}
	return nil
}

// BaseURL возвращает адрес сервера со схемой
func (c *Config) BaseURL() string {
	scheme := "http"
	if c.EnableTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, c.ServerAddress)
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == EnvProd
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == EnvLocal || c.Env == ""
}
