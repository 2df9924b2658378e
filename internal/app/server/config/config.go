package config

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPath  = ".env"
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env    string
	DB     db
	Server server
	Auth   auth
	Logger logger
}

type db struct {
	DatabaseURI string `env:"DATABASE_URI"`
	Migrations  string `env:"MIGRATIONS_PATH"`
}

type server struct {
	RunAddress string `env:"RUN_ADDRESS"`
}

type auth struct {
	// TokenHashes are bcrypt hashes of static bearer tokens. Tokens issued
	// with `tether-server token issue` live in the database instead.
	TokenHashes []string `env:"AUTH_TOKEN_HASHES"`
}

type logger struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the server configuration from the environment and an optional
// .env file next to the binary.
func Load() (*Config, error) {
	_ = godotenv.Load(envPath)

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("app_env", EnvLocal)
	v.SetDefault("run_address", ":8080")
	v.SetDefault("migrations_path", "migrations")
	v.SetDefault("log_level", "info")

	cfg := &Config{
		Env: v.GetString("app_env"),
		DB: db{
			DatabaseURI: v.GetString("database_uri"),
			Migrations:  v.GetString("migrations_path"),
		},
		Server: server{RunAddress: v.GetString("run_address")},
		Auth:   auth{TokenHashes: splitList(v.GetString("auth_token_hashes"))},
		Logger: logger{LogLevel: v.GetString("log_level")},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return errors.New("APP_ENV must be one of local, dev, prod")
	}
	if c.DB.DatabaseURI == "" {
		return errors.New("DATABASE_URI is required")
	}
	if c.Server.RunAddress == "" {
		return errors.New("RUN_ADDRESS is required")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
