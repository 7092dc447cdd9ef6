package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	ServerAddr string `env:"SERVER_ADDR" envDefault:":8080"`
	AdminAddr  string `env:"ADMIN_ADDR" envDefault:":9091"`

	RedisAddr   string `env:"REDIS_ADDR,required"`
	PostgresURL string `env:"POSTGRES_URL,required"`
	JWTSecret   string `env:"JWT_SECRET,required"`

	QueueCapacity       int           `env:"QUEUE_CAPACITY" envDefault:"1000"`
	QueueMaxRetries     int           `env:"QUEUE_MAX_RETRIES" envDefault:"3"`
	QueueRetryBaseDelay time.Duration `env:"QUEUE_RETRY_BASE_DELAY" envDefault:"1s"`
	QueueDrainInterval  time.Duration `env:"QUEUE_DRAIN_INTERVAL" envDefault:"1s"`
	QueueHandlerTimeout time.Duration `env:"QUEUE_HANDLER_TIMEOUT" envDefault:"30s"`

	DeadLetterTTL        time.Duration `env:"DEAD_LETTER_TTL" envDefault:"168h"`
	DeadLetterMaxEntries int64         `env:"DEAD_LETTER_MAX_ENTRIES" envDefault:"1000"`

	EventLogRetention  time.Duration `env:"EVENT_LOG_RETENTION" envDefault:"24h"`
	EventLogPerSession int64         `env:"EVENT_LOG_PER_SESSION" envDefault:"100"`

	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"10s"`
	RateLimitMax    int           `env:"RATE_LIMIT_MAX" envDefault:"30"`

	AllowedEventTypes  string `env:"ALLOWED_EVENT_TYPES" envDefault:"page-sync,help-request,feedback-submission,session-start,session-end"`
	PIIRedactionFields string `env:"PII_REDACTION_FIELDS" envDefault:"email,password,credit_card,ssn"`

	WALDir         string `env:"WAL_DIR" envDefault:"./wal"`
	WALMaxDiskSize int64  `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
