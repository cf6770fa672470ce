package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	Redis          RedisConfig
	Judge          JudgeConfig
	Log            LogConfig
}

type RedisConfig struct {
	// Enabled turns on the presence mirror. The relay never needs Redis.
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr is the host:port to dial.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type JudgeConfig struct {
	URL     string
	APIKey  string
	APIHost string
	Timeout time.Duration
}

// Configured reports whether code execution can be offered. RapidAPI
// endpoints need a key; self-hosted Judge0 does not.
func (j JudgeConfig) Configured() bool {
	if j.URL == "" {
		return false
	}
	u, err := url.Parse(j.URL)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.HasSuffix(u.Hostname(), "rapidapi.com") {
		return j.APIKey != ""
	}
	return true
}

type LogConfig struct {
	Level  string
	Format string
}

// Options override environment values when set, the way CLI flags do.
type Options struct {
	Port            string
	AllowedOrigins  string
	RedisHost       string
	PresenceEnabled *bool
	JudgeURL        string
	LogLevel        string
	LogFormat       string
}

// Load reads configuration with flag > env > default priority. A .env file
// in the working directory is read first when present; it never overrides
// variables already set.
func Load(opts Options) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// Parse allowed origins (comma-separated)
	origins := splitList(pick(opts.AllowedOrigins, "ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}

	presence, err := strconv.ParseBool(getEnv("PRESENCE_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("PRESENCE_ENABLED: %w", err)
	}
	if opts.PresenceEnabled != nil {
		presence = *opts.PresenceEnabled
	}

	judgeTimeout, err := time.ParseDuration(getEnv("JUDGE0_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("JUDGE0_TIMEOUT: %w", err)
	}

	return &Config{
		Port:           pick(opts.Port, "PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		Redis: RedisConfig{
			Enabled:  presence,
			Host:     pick(opts.RedisHost, "REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Judge: JudgeConfig{
			URL:     pick(opts.JudgeURL, "JUDGE0_URL", "https://judge0-ce.p.rapidapi.com"),
			APIKey:  getEnv("JUDGE0_API_KEY", ""),
			APIHost: getEnv("JUDGE0_API_HOST", "judge0-ce.p.rapidapi.com"),
			Timeout: judgeTimeout,
		},
		Log: LogConfig{
			Level:  pick(opts.LogLevel, "LOG_LEVEL", "info"),
			Format: pick(opts.LogFormat, "LOG_FORMAT", "text"),
		},
	}, nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func pick(flag, key, defaultValue string) string {
	if flag != "" {
		return flag
	}
	return getEnv(key, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
