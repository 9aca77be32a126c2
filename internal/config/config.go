package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"livepoll/pkg/types"
)

const envPrefix = "LIVEPOLL_"

// Config is the process-wide configuration. Each section is consumed by one
// component when the application is assembled.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Database  *DatabaseConfig  `json:"database"`
	Redis     *RedisConfig     `json:"redis"`
	Poll      *types.PollRules `json:"poll"`
	Chat      *ChatConfig      `json:"chat"`
	Log       *LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	CORSOrigins     string        `json:"cors_origins"`
}

// Addr returns host:port for the listener.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// DatabaseConfig controls the SQLite result archive.
type DatabaseConfig struct {
	Enabled         bool          `json:"enabled"`
	Path            string        `json:"path"`
	MaxConnections  int           `json:"max_connections"`
	WriteRetryDelay time.Duration `json:"write_retry_delay"`
	// ArchiveTimeout bounds each result sink write, retries included.
	ArchiveTimeout time.Duration `json:"archive_timeout"`
}

// RedisConfig controls the result relay. Disabled unless an address is set.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

type ChatConfig struct {
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// DefaultConfig returns a classroom-ready configuration: HTTP on 8080, 30s
// websocket heartbeat, archive on local disk, relay off.
func DefaultConfig() *Config {
	rules := types.DefaultPollRules()
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     "*",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   5 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 64 * 1024,
		},
		Database: &DatabaseConfig{
			Enabled:         true,
			Path:            "./data/livepoll.db",
			MaxConnections:  10,
			WriteRetryDelay: time.Second,
			ArchiveTimeout:  5 * time.Second,
		},
		Redis: &RedisConfig{
			Addr:    "localhost:6379",
			Channel: "livepoll:results",
		},
		Poll: &rules,
		Chat: &ChatConfig{RateLimitPerMinute: 30},
		Log:  &LogConfig{Level: "info"},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return errors.New("WebSocket max message size must be positive")
	}

	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if c.Database.Enabled {
		if c.Database.Path == "" {
			return errors.New("database path cannot be empty")
		}
		if c.Database.MaxConnections <= 0 {
			return errors.New("database max connections must be positive")
		}
	}

	if c.Database.ArchiveTimeout <= 0 {
		return errors.New("archive timeout must be positive")
	}
	if c.Database.Enabled && c.Database.WriteRetryDelay >= c.Database.ArchiveTimeout {
		return errors.New("database write retry delay must be shorter than the archive timeout")
	}

	if c.Redis == nil {
		return errors.New("redis configuration is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis address cannot be empty when the relay is enabled")
	}

	if c.Poll == nil {
		return errors.New("poll rules are required")
	}
	if c.Poll.MinOptions < 2 {
		return errors.New("poll min options must be at least 2")
	}
	if !c.Poll.AllowsTimeLimit(c.Poll.DefaultTimeLimitSeconds) {
		return fmt.Errorf("poll default time limit %d is not an allowed time limit", c.Poll.DefaultTimeLimitSeconds)
	}

	if c.Chat == nil {
		return errors.New("chat configuration is required")
	}
	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files (".env" when none are
// named). Missing files are skipped and existing variables are never overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// LoadFromEnv applies LIVEPOLL_* variables on top of the defaults. Values that
// fail to parse keep the default.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("HTTP_HOST", &config.HTTP.Host)
	envInt("HTTP_PORT", &config.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)
	envString("HTTP_CORS_ORIGINS", &config.HTTP.CORSOrigins)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if v := os.Getenv(envPrefix + "WEBSOCKET_MAX_MESSAGE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.WebSocket.MaxMessageSize = n
		}
	}

	envBool("DATABASE_ENABLED", &config.Database.Enabled)
	envString("DATABASE_PATH", &config.Database.Path)
	envInt("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)
	envDuration("DATABASE_WRITE_RETRY_DELAY", &config.Database.WriteRetryDelay)
	envDuration("DATABASE_ARCHIVE_TIMEOUT", &config.Database.ArchiveTimeout)

	envBool("REDIS_ENABLED", &config.Redis.Enabled)
	envString("REDIS_ADDR", &config.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Redis.Password)
	envInt("REDIS_DB", &config.Redis.DB)
	envString("REDIS_CHANNEL", &config.Redis.Channel)

	if v := os.Getenv(envPrefix + "POLL_TIME_LIMITS"); v != "" {
		if limits, err := parseInts(v); err == nil {
			config.Poll.AllowedTimeLimits = limits
		}
	}
	envInt("POLL_DEFAULT_TIME_LIMIT", &config.Poll.DefaultTimeLimitSeconds)
	envInt("POLL_MAX_QUESTION_LENGTH", &config.Poll.MaxQuestionLength)
	envInt("POLL_MIN_OPTIONS", &config.Poll.MinOptions)

	envInt("CHAT_RATE_LIMIT", &config.Chat.RateLimitPerMinute)

	envString("LOG_LEVEL", &config.Log.Level)
	envBool("LOG_DEVELOPMENT", &config.Log.Development)
}

func envString(key string, dst *string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func parseInts(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// ConfigFile is the JSON layout on disk. Durations are strings such as "30s".
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Database  *DatabaseConfigFile  `json:"database"`
	Redis     *RedisConfigFile     `json:"redis"`
	Poll      *PollConfigFile      `json:"poll"`
	Chat      *ChatConfig          `json:"chat"`
	Log       *LogConfigFile       `json:"log"`
}

type HTTPConfigFile struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	ReadTimeout     string `json:"read_timeout"`
	WriteTimeout    string `json:"write_timeout"`
	ShutdownTimeout string `json:"shutdown_timeout"`
	CORSOrigins     string `json:"cors_origins"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type DatabaseConfigFile struct {
	Enabled         *bool  `json:"enabled"`
	Path            string `json:"path"`
	MaxConnections  int    `json:"max_connections"`
	WriteRetryDelay string `json:"write_retry_delay"`
	ArchiveTimeout  string `json:"archive_timeout"`
}

type RedisConfigFile struct {
	Enabled  *bool  `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

type PollConfigFile struct {
	AllowedTimeLimits       []int `json:"allowed_time_limits"`
	DefaultTimeLimitSeconds int   `json:"default_time_limit"`
	MaxQuestionLength       int   `json:"max_question_length"`
	MinOptions              int   `json:"min_options"`
}

type LogConfigFile struct {
	Level       string `json:"level"`
	Development *bool  `json:"development"`
}

// LoadFromFile reads a JSON configuration file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if f := file.HTTP; f != nil {
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		if f.CORSOrigins != "" {
			config.HTTP.CORSOrigins = f.CORSOrigins
		}
		if err := parseDuration(f.ReadTimeout, &config.HTTP.ReadTimeout); err != nil {
			return fmt.Errorf("http.read_timeout: %w", err)
		}
		if err := parseDuration(f.WriteTimeout, &config.HTTP.WriteTimeout); err != nil {
			return fmt.Errorf("http.write_timeout: %w", err)
		}
		if err := parseDuration(f.ShutdownTimeout, &config.HTTP.ShutdownTimeout); err != nil {
			return fmt.Errorf("http.shutdown_timeout: %w", err)
		}
	}

	if f := file.WebSocket; f != nil {
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		if err := parseDuration(f.PingInterval, &config.WebSocket.PingInterval); err != nil {
			return fmt.Errorf("websocket.ping_interval: %w", err)
		}
		if err := parseDuration(f.ReadTimeout, &config.WebSocket.ReadTimeout); err != nil {
			return fmt.Errorf("websocket.read_timeout: %w", err)
		}
		if err := parseDuration(f.WriteTimeout, &config.WebSocket.WriteTimeout); err != nil {
			return fmt.Errorf("websocket.write_timeout: %w", err)
		}
	}

	if f := file.Database; f != nil {
		if f.Enabled != nil {
			config.Database.Enabled = *f.Enabled
		}
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		if f.MaxConnections > 0 {
			config.Database.MaxConnections = f.MaxConnections
		}
		if err := parseDuration(f.WriteRetryDelay, &config.Database.WriteRetryDelay); err != nil {
			return fmt.Errorf("database.write_retry_delay: %w", err)
		}
		if err := parseDuration(f.ArchiveTimeout, &config.Database.ArchiveTimeout); err != nil {
			return fmt.Errorf("database.archive_timeout: %w", err)
		}
	}

	if f := file.Redis; f != nil {
		if f.Enabled != nil {
			config.Redis.Enabled = *f.Enabled
		}
		if f.Addr != "" {
			config.Redis.Addr = f.Addr
		}
		if f.Password != "" {
			config.Redis.Password = f.Password
		}
		if f.DB > 0 {
			config.Redis.DB = f.DB
		}
		if f.Channel != "" {
			config.Redis.Channel = f.Channel
		}
	}

	if f := file.Poll; f != nil {
		if len(f.AllowedTimeLimits) > 0 {
			config.Poll.AllowedTimeLimits = f.AllowedTimeLimits
		}
		if f.DefaultTimeLimitSeconds > 0 {
			config.Poll.DefaultTimeLimitSeconds = f.DefaultTimeLimitSeconds
		}
		if f.MaxQuestionLength > 0 {
			config.Poll.MaxQuestionLength = f.MaxQuestionLength
		}
		if f.MinOptions > 0 {
			config.Poll.MinOptions = f.MinOptions
		}
	}

	if file.Chat != nil {
		config.Chat.RateLimitPerMinute = file.Chat.RateLimitPerMinute
	}

	if f := file.Log; f != nil {
		if f.Level != "" {
			config.Log.Level = f.Level
		}
		if f.Development != nil {
			config.Log.Development = *f.Development
		}
	}
	return nil
}

func parseDuration(s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment >
// defaults. The .env file feeds the environment layer. An empty or missing
// path skips the file layer; a malformed file is an error.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	config := LoadFromEnv()

	if path != "" {
		if err := applyFile(config, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
