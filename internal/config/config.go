package config

import "time"

// Config is the full service configuration, decoded from YAML with
// environment expansion and per-field env overrides (see loader.go).
type Config struct {
	Env         string       `yaml:"env" env:"APP_ENV"`
	Port        int          `yaml:"port" env:"PORT"`
	DatabaseURL string       `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string       `yaml:"redis_url" env:"REDIS_URL"`
	Logger      LoggerConfig `yaml:"logger"`

	CORS      CORSConfig      `yaml:"cors"`
	OTP       OTPConfig       `yaml:"otp"`
	Token     TokenConfig     `yaml:"token"`
	Session   SessionConfig   `yaml:"session"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type LoggerConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`
	Encoding string `yaml:"encoding"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// OTPConfig carries the verification-window knobs. Zero values fall back
// to the defaults applied in applyDefaults.
type OTPConfig struct {
	Expiration      time.Duration `yaml:"expiration"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RequestLimit    int           `yaml:"request_limit"`
	RequestWindow   time.Duration `yaml:"request_window"`
	FailureLimit    int           `yaml:"failure_limit"`
	LockoutDuration time.Duration `yaml:"lockout_duration"`
}

type TokenConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type SessionConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	AbsoluteTTL     time.Duration `yaml:"absolute_ttl"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type MonitorConfig struct {
	MaxEvents            int           `yaml:"max_events"`
	BruteForceThreshold  int           `yaml:"brute_force_threshold"`
	BruteForceWindow     time.Duration `yaml:"brute_force_window"`
	VelocityThreshold    int           `yaml:"velocity_threshold"`
	VelocityWindow       time.Duration `yaml:"velocity_window"`
	FailureWarnThreshold int           `yaml:"failure_warn_threshold"`
}

// RateLimitConfig throttles requests per client IP at the transport layer,
// independent of the per-identity OTP windows.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

type TelemetryConfig struct {
	Kafka KafkaAuditConfig `yaml:"kafka"`
}

type KafkaAuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers" env:"KAFKA_BROKERS"`
	TopicAuth     string        `yaml:"topic_auth"`
	TopicThreat   string        `yaml:"topic_threat"`
	QueueCapacity int           `yaml:"queue_capacity"`
	BatchSize     int           `yaml:"batch_size"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Encoding == "" {
		cfg.Logger.Encoding = "console"
	}
	if cfg.OTP.Expiration == 0 {
		cfg.OTP.Expiration = 10 * time.Minute
	}
	if cfg.OTP.MaxAttempts == 0 {
		cfg.OTP.MaxAttempts = 5
	}
	if cfg.OTP.RequestLimit == 0 {
		cfg.OTP.RequestLimit = 3
	}
	if cfg.OTP.RequestWindow == 0 {
		cfg.OTP.RequestWindow = time.Minute
	}
	if cfg.OTP.FailureLimit == 0 {
		cfg.OTP.FailureLimit = 5
	}
	if cfg.OTP.LockoutDuration == 0 {
		cfg.OTP.LockoutDuration = 15 * time.Minute
	}
	if cfg.Token.TTL == 0 {
		cfg.Token.TTL = 24 * time.Hour
	}
	if cfg.Session.MaxConcurrent == 0 {
		cfg.Session.MaxConcurrent = 3
	}
	if cfg.Session.AbsoluteTTL == 0 {
		cfg.Session.AbsoluteTTL = 24 * time.Hour
	}
	if cfg.Session.IdleTimeout == 0 {
		cfg.Session.IdleTimeout = 30 * time.Minute
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = 5 * time.Minute
	}
	if cfg.Monitor.MaxEvents == 0 {
		cfg.Monitor.MaxEvents = 10000
	}
	if cfg.Monitor.BruteForceThreshold == 0 {
		cfg.Monitor.BruteForceThreshold = 10
	}
	if cfg.Monitor.BruteForceWindow == 0 {
		cfg.Monitor.BruteForceWindow = time.Minute
	}
	if cfg.Monitor.VelocityThreshold == 0 {
		cfg.Monitor.VelocityThreshold = 20
	}
	if cfg.Monitor.VelocityWindow == 0 {
		cfg.Monitor.VelocityWindow = 5 * time.Minute
	}
	if cfg.Monitor.FailureWarnThreshold == 0 {
		cfg.Monitor.FailureWarnThreshold = 5
	}
	if cfg.RateLimit.Limit == 0 {
		cfg.RateLimit.Limit = 60
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Telemetry.Kafka.QueueCapacity == 0 {
		cfg.Telemetry.Kafka.QueueCapacity = 1024
	}
	if cfg.Telemetry.Kafka.BatchSize == 0 {
		cfg.Telemetry.Kafka.BatchSize = 100
	}
	if cfg.Telemetry.Kafka.WriteTimeout == 0 {
		cfg.Telemetry.Kafka.WriteTimeout = 5 * time.Second
	}
	if cfg.Telemetry.Kafka.TopicAuth == "" {
		cfg.Telemetry.Kafka.TopicAuth = "auth-audit"
	}
	if cfg.Telemetry.Kafka.TopicThreat == "" {
		cfg.Telemetry.Kafka.TopicThreat = "threat-audit"
	}
}
