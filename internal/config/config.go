package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	API      APIConfig      `yaml:"api"`
	Booking  BookingConfig  `yaml:"booking"`
	QR       QRConfig       `yaml:"qr"`
	Telegram TelegramConfig `yaml:"telegram"`
	Google   GoogleConfig   `yaml:"google"`
	Exports  ExportConfig   `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig      `yaml:"metrics"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type BookingConfig struct {
	// ExpiryGraceHours is how long after the confirmed pickup a booking
	// may stay CONFIRMED before the sweeper expires it.
	ExpiryGraceHours  int `yaml:"expiry_grace_hours"`
	SweepIntervalMins int `yaml:"sweep_interval_mins"`
}

type QRConfig struct {
	Origin string `yaml:"origin"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
	Debug    bool   `yaml:"debug"`
}

type GoogleConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; values referenced from the YAML via ${VAR}
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.API.HTTP.Port <= 0 || c.API.HTTP.Port > 65535 {
		return fmt.Errorf("api.http.port is invalid: %d", c.API.HTTP.Port)
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis.address is required when redis is enabled")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return errors.New("telegram.bot_token is required when telegram is enabled")
	}
	if c.Google.Enabled {
		if c.Google.CredentialsFile == "" {
			return errors.New("google.credentials_file is required when google is enabled")
		}
		if c.Google.SpreadsheetID == "" {
			return errors.New("google.spreadsheet_id is required when google is enabled")
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "leihsy"
	}
	if c.App.Environment == "" {
		c.App.Environment = "development"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Metrics.Port == 0 {
		c.API.Metrics.Port = 9090
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.Booking.ExpiryGraceHours == 0 {
		c.Booking.ExpiryGraceHours = 24
	}
	if c.Booking.SweepIntervalMins == 0 {
		c.Booking.SweepIntervalMins = 15
	}
	if c.QR.Origin == "" {
		c.QR.Origin = "http://localhost:4200"
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Bookings"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
