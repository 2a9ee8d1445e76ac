package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Stream   StreamConfig   `json:"stream"`
	Backend  BackendConfig  `json:"backend"`
	Geo      GeoConfig      `json:"geo"`
	History  HistoryConfig  `json:"history"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type StreamConfig struct {
	URL              string        `json:"url"`
	CameraID         int           `json:"camera_id"`
	ReconnectDelay   time.Duration `json:"reconnect_delay"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
}

type BackendConfig struct {
	BaseURL   string `json:"base_url"`
	AuthToken string `json:"auth_token"`
}

// GeoConfig selects the position source: an HTTP positioning endpoint when
// ProviderURL is set, fixed installation coordinates otherwise. With neither
// configured, detections are recorded without a location.
type GeoConfig struct {
	ProviderURL string        `json:"provider_url"`
	Latitude    float64       `json:"latitude"`
	Longitude   float64       `json:"longitude"`
	Accuracy    float64       `json:"accuracy"`
	Interval    time.Duration `json:"interval"`
	Static      bool          `json:"static"`
}

type HistoryConfig struct {
	Path     string `json:"path"`
	Capacity int    `json:"capacity"`
}

type SecurityConfig struct {
	APIToken       string   `json:"api_token"`
	AllowedOrigins []string `json:"allowed_origins"`
	MaxRequestSize int64    `json:"max_request_size"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func LoadConfig() *Config {
	// Optional; the console also runs on plain environment variables.
	godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8090),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Stream: StreamConfig{
			URL:              getEnv("STREAM_URL", "ws://localhost:8000/camera/ws/camera"),
			CameraID:         getEnvAsInt("STREAM_CAMERA_ID", 0),
			ReconnectDelay:   getEnvAsDuration("STREAM_RECONNECT_DELAY", 3*time.Second),
			HandshakeTimeout: getEnvAsDuration("STREAM_HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		Backend: BackendConfig{
			BaseURL:   getEnv("BACKEND_BASE_URL", "http://localhost:8000"),
			AuthToken: getEnv("BACKEND_AUTH_TOKEN", ""),
		},
		Geo: GeoConfig{
			ProviderURL: getEnv("GEO_PROVIDER_URL", ""),
			Latitude:    getEnvAsFloat("GEO_LATITUDE", 0),
			Longitude:   getEnvAsFloat("GEO_LONGITUDE", 0),
			Accuracy:    getEnvAsFloat("GEO_ACCURACY", 0),
			Interval:    getEnvAsDuration("GEO_INTERVAL", 30*time.Second),
			Static:      getEnvAsBool("GEO_STATIC", false),
		},
		History: HistoryConfig{
			Path:     getEnv("HISTORY_PATH", "guardx-history.db"),
			Capacity: getEnvAsInt("HISTORY_CAPACITY", 1000),
		},
		Security: SecurityConfig{
			APIToken:       getEnv("API_TOKEN", ""),
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			MaxRequestSize: getEnvAsInt64("MAX_REQUEST_SIZE", 10*1024*1024), // 10MB
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 20),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	if c.Stream.URL == "" {
		errors = append(errors, "stream URL is required")
	} else if !strings.HasPrefix(c.Stream.URL, "ws://") && !strings.HasPrefix(c.Stream.URL, "wss://") {
		errors = append(errors, "stream URL must use ws:// or wss://")
	}

	if c.Stream.ReconnectDelay <= 0 {
		errors = append(errors, "reconnect delay must be positive")
	}

	if c.Backend.BaseURL == "" {
		errors = append(errors, "backend base URL is required")
	}

	if c.History.Capacity <= 0 {
		errors = append(errors, "history capacity must be positive")
	}

	if c.Security.MaxRequestSize <= 0 {
		errors = append(errors, "max request size must be positive")
	}

	if c.Security.APIToken == "" {
		logger.Warn("API token not set, operator API is unauthenticated")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
