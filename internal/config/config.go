package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// RabbitMQ
	RabbitHost     string
	RabbitPort     int
	RabbitUser     string
	RabbitPassword string
	RabbitVHost    string

	// PublishTimeout bounds the wait for a publisher confirm so a slow
	// broker cannot stall the request path.
	PublishTimeout time.Duration

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS services used by the delivery worker
	AWSRegion    string
	SESFromEmail string
	SNSRegion    string

	// Delivery queue consumed by the worker
	DeliveryQueue string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "ticketera",
		DBPassword: "",
		DBName:     "ticketera",
		DBSSLMode:  "disable",

		// RabbitMQ defaults
		RabbitHost:     "localhost",
		RabbitPort:     5672,
		RabbitUser:     "guest",
		RabbitPassword: "guest",
		RabbitVHost:    "/",
		PublishTimeout: 5 * time.Second,

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@ticketera.local",

		DeliveryQueue: "notification_queue",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// RabbitMQ config
	if host := os.Getenv("RABBITMQ_HOST"); host != "" {
		cfg.RabbitHost = host
	}

	if port := os.Getenv("RABBITMQ_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid RABBITMQ_PORT: %w", err)
		}
		cfg.RabbitPort = p
	}

	if user := os.Getenv("RABBITMQ_USER"); user != "" {
		cfg.RabbitUser = user
	}

	if password := os.Getenv("RABBITMQ_PASSWORD"); password != "" {
		cfg.RabbitPassword = password
	}

	if vhost := os.Getenv("RABBITMQ_VHOST"); vhost != "" {
		cfg.RabbitVHost = vhost
	}

	if timeout := os.Getenv("PUBLISH_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid PUBLISH_TIMEOUT: %w", err)
		}
		cfg.PublishTimeout = d
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	// SNS config for SMS
	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if queue := os.Getenv("DELIVERY_QUEUE"); queue != "" {
		cfg.DeliveryQueue = queue
	}

	return cfg, nil
}

// RabbitURL assembles the broker dial string from the credential parts.
// Credentials are escaped so passwords containing @, / or : survive URI
// parsing.
func (c *Config) RabbitURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.RabbitUser, c.RabbitPassword),
		Host:   fmt.Sprintf("%s:%d", c.RabbitHost, c.RabbitPort),
		Path:   c.RabbitVHost,
	}
	return u.String()
}
