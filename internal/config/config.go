package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Email    EmailConfig
	SMS      SMSConfig
	Dispatch DispatchConfig
	Worker   WorkerConfig
	Frontend FrontendConfig
}

type ServerConfig struct {
	Port           int `mapstructure:"port" envconfig:"SERVER_PORT"`
	TimeoutSeconds int `mapstructure:"timeoutSeconds" envconfig:"SERVER_TIMEOUT_SECONDS"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host" envconfig:"DB_HOST"`
	Port         int    `mapstructure:"port" envconfig:"DB_PORT"`
	User         string `mapstructure:"user" envconfig:"DB_USER"`
	Password     string `mapstructure:"password" envconfig:"DB_PASSWORD"`
	Name         string `mapstructure:"name" envconfig:"DB_NAME"`
	SSLMode      string `mapstructure:"sslmode" envconfig:"DB_SSLMODE"`
	MaxOpenConns int    `mapstructure:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url" envconfig:"REDIS_URL"`
	MaxRetries   int           `mapstructure:"max_retries" envconfig:"REDIS_MAX_RETRIES"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" envconfig:"REDIS_RETRY_BACKOFF"`
	PoolSize     int           `mapstructure:"pool_size" envconfig:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"min_idle_conns" envconfig:"REDIS_MIN_IDLE_CONNS"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host" envconfig:"SMTP_HOST"`
	Port     int    `mapstructure:"port" envconfig:"SMTP_PORT"`
	Username string `mapstructure:"username" envconfig:"SMTP_USERNAME"`
	Password string `mapstructure:"password" envconfig:"SMTP_PASSWORD"`
	From     string `mapstructure:"from" envconfig:"SMTP_FROM"`
}

type SMSConfig struct {
	DefaultProvider string `mapstructure:"default_provider" envconfig:"SMS_DEFAULT_PROVIDER"`
	// AllowProviderFallback lets a customer with no binding fall back to
	// the default provider's shared number. Off by default: an unbound
	// customer is a configuration error, not a routing choice.
	AllowProviderFallback bool            `mapstructure:"allow_provider_fallback" envconfig:"SMS_ALLOW_PROVIDER_FALLBACK"`
	Twilio                TwilioConfig    `mapstructure:"twilio"`
	Fonecloud             FonecloudConfig `mapstructure:"fonecloud"`
}

type TwilioConfig struct {
	AccountSID  string  `mapstructure:"account_sid" envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken   string  `mapstructure:"auth_token" envconfig:"TWILIO_AUTH_TOKEN"`
	DefaultFrom string  `mapstructure:"default_from" envconfig:"TWILIO_DEFAULT_FROM"`
	AreaCode    string  `mapstructure:"area_code" envconfig:"TWILIO_AREA_CODE"`
	WebhookURL  string  `mapstructure:"webhook_url" envconfig:"TWILIO_WEBHOOK_URL"`
	RateLimit   float64 `mapstructure:"rate_limit" envconfig:"TWILIO_RATE_LIMIT"`
}

type FonecloudConfig struct {
	BaseURL       string  `mapstructure:"base_url" envconfig:"FONECLOUD_BASE_URL"`
	APIKey        string  `mapstructure:"api_key" envconfig:"FONECLOUD_API_KEY"`
	SigningSecret string  `mapstructure:"signing_secret" envconfig:"FONECLOUD_SIGNING_SECRET"`
	RateLimit     float64 `mapstructure:"rate_limit" envconfig:"FONECLOUD_RATE_LIMIT"`
}

type DispatchConfig struct {
	PreferenceCacheTTL time.Duration `mapstructure:"preference_cache_ttl" envconfig:"DISPATCH_PREFERENCE_CACHE_TTL"`
}

type WorkerConfig struct {
	HTTPPort      int           `mapstructure:"http_port" envconfig:"WORKER_HTTP_PORT"`
	PollInterval  time.Duration `mapstructure:"poll_interval" envconfig:"WORKER_POLL_INTERVAL"`
	BatchSize     int           `mapstructure:"batch_size" envconfig:"WORKER_BATCH_SIZE"`
	MaxAttempts   int           `mapstructure:"max_attempts" envconfig:"WORKER_MAX_ATTEMPTS"`
	QueueKey      string        `mapstructure:"queue_key" envconfig:"WORKER_QUEUE_KEY"`
	JobVisibility time.Duration `mapstructure:"job_visibility" envconfig:"WORKER_JOB_VISIBILITY"`
}

type FrontendConfig struct {
	BaseURL string `mapstructure:"base_url" envconfig:"FRONTEND_BASE_URL"`
}

// LoadConfig reads config.yaml (working dir or ./config), then overlays
// NOTIFY_-prefixed environment variables. The file is optional so the
// binary can run on env alone.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	var config Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("notify", &config); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.TimeoutSeconds == 0 {
		c.Server.TimeoutSeconds = 30
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.SMS.DefaultProvider == "" {
		c.SMS.DefaultProvider = "twilio"
	}
	if c.Dispatch.PreferenceCacheTTL == 0 {
		c.Dispatch.PreferenceCacheTTL = time.Minute
	}
	if c.Worker.HTTPPort == 0 {
		c.Worker.HTTPPort = 8081
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 5 * time.Second
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 50
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 5
	}
	if c.Worker.QueueKey == "" {
		c.Worker.QueueKey = "notify:jobs"
	}
	if c.Worker.JobVisibility == 0 {
		c.Worker.JobVisibility = 2 * time.Minute
	}
}
