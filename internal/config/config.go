package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Audit        AuditConfig
	Override     OverrideConfig
	Attribute    AttributeConfig
	Notification NotificationConfig
	RateLimit    RateLimitConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// JWTConfig covers token verification only. Tokens are minted by the
// identity gateway; this service never issues them.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type AuditConfig struct {
	AppendTimeoutSeconds int `mapstructure:"append_timeout_seconds"`
	RetentionDays        int `mapstructure:"retention_days"`
}

type OverrideConfig struct {
	MinJustificationLen int      `mapstructure:"min_justification_len"`
	AccessWindowMinutes int      `mapstructure:"access_window_minutes"`
	AllowedRoles        []string `mapstructure:"allowed_roles"`
	LockoutThreshold    int      `mapstructure:"lockout_threshold"`
	LockoutWindowDays   int      `mapstructure:"lockout_window_days"`
}

type AttributeConfig struct {
	WorkdayStartHour int `mapstructure:"workday_start_hour"`
	WorkdayEndHour   int `mapstructure:"workday_end_hour"`
	CacheTTLSeconds  int `mapstructure:"cache_ttl_seconds"`
}

type NotificationConfig struct {
	EmailEnabled bool     `mapstructure:"email_enabled"`
	SMTPHost     string   `mapstructure:"smtp_host"`
	SMTPPort     int      `mapstructure:"smtp_port"`
	SMTPUser     string   `mapstructure:"smtp_user"`
	SMTPPassword string   `mapstructure:"smtp_password"`
	EmailFrom    string   `mapstructure:"email_from"`
	Reviewers    []string `mapstructure:"reviewers"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.timeoutSeconds", 30)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("audit.append_timeout_seconds", 2)
	viper.SetDefault("audit.retention_days", 365)
	viper.SetDefault("override.min_justification_len", 20)
	viper.SetDefault("override.access_window_minutes", 60)
	viper.SetDefault("override.lockout_threshold", 3)
	viper.SetDefault("override.lockout_window_days", 30)
	viper.SetDefault("attribute.workday_start_hour", 7)
	viper.SetDefault("attribute.workday_end_hour", 19)
	viper.SetDefault("attribute.cache_ttl_seconds", 30)
	viper.SetDefault("ratelimit.requests_per_second", 100)
	viper.SetDefault("ratelimit.burst", 200)
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c AuditConfig) AppendTimeout() time.Duration {
	return time.Duration(c.AppendTimeoutSeconds) * time.Second
}

func (c OverrideConfig) AccessWindow() time.Duration {
	return time.Duration(c.AccessWindowMinutes) * time.Minute
}

func (c OverrideConfig) LockoutWindow() time.Duration {
	return time.Duration(c.LockoutWindowDays) * 24 * time.Hour
}

func (c AttributeConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
