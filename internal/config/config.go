package config

import (
	"errors"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	UploadDir    string `mapstructure:"upload_dir" yaml:"upload_dir"`

	MaxImageBytes   int64 `mapstructure:"max_image_bytes" yaml:"max_image_bytes"`
	MaxMessageBytes int   `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	SendRatePerSecond float64 `mapstructure:"send_rate_per_second" yaml:"send_rate_per_second"`
	SendRateBurst     int     `mapstructure:"send_rate_burst" yaml:"send_rate_burst"`

	PresenceTimeout time.Duration `mapstructure:"presence_timeout" yaml:"presence_timeout"`
	ChannelBuffer   int           `mapstructure:"channel_buffer" yaml:"channel_buffer"`
	MetricsEnabled  bool          `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "wiredm.db",
		UploadDir:         "uploads",
		MaxImageBytes:     5 << 20,
		MaxMessageBytes:   4096,
		JWTSecret:         "change-me-in-production",
		JWTIssuer:         "wiredm",
		JWTAudience:       "wiredm-clients",
		JWTTTL:            24 * time.Hour,
		SendRatePerSecond: 5,
		SendRateBurst:     10,
		PresenceTimeout:   3 * time.Second,
		ChannelBuffer:     64,
		MetricsEnabled:    true,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.UploadDir != "" {
		c.UploadDir = other.UploadDir
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("upload_dir is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("jwt_ttl must be positive"))
	}
	if c.SendRatePerSecond < 0 || c.SendRateBurst < 0 {
		errs = append(errs, errors.New("send rate settings must not be negative"))
	}
	return errors.Join(errs...)
}
