package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverR2       = "r2"
)

type Config struct {
	ServiceName   string
	Port          string
	Env           string
	LogLevel      string
	JWTSecret     string
	AllowedOrigin string
	// Record store
	StoreDriver       string
	DBUrl             string
	DBMaxConns        int32
	DBMinConns        int32
	DBMaxConnIdleTime time.Duration
	DBNotifyChannel   string
	// Evidence storage
	BlobDriver        string
	R2AccountID       string
	R2AccessKeyID     string
	R2AccessKeySecret string
	R2BucketName      string
	R2PublicURL       string
	R2UploadTimeout   time.Duration
	MaxUploadSizeMB   int64
	// Business rules
	LowStockThreshold int
	LedgerMaxRetries  int
	BatchConcurrency  int
	SweepInterval     time.Duration
	OrphanGracePeriod time.Duration
	// Notifier
	RedisAddr          string
	DedupTTL           time.Duration
	KafkaBrokers       []string
	KafkaCustomerTopic string
	KafkaAdminTopic    string
}

func LoadConfig() (*Config, error) {
	configFile := os.Getenv("CONFIG_FILE")
	if configFile != "" {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("Warning: Failed to load config file '%s': %v", configFile, err)
		} else {
			log.Printf("Loaded configuration from %s", configFile)
		}
	} else if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading it, relying on system env vars")
	}

	cfg := &Config{
		ServiceName:   getEnv("SERVICE_NAME", "fulfillment"),
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		JWTSecret:     getEnv("JWT_SECRET", "default_secret_CHANGE_ME"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://localhost:3000"),

		StoreDriver:       getEnv("STORE_DRIVER", DriverPostgres),
		DBUrl:             getEnv("DB_DSN", ""),
		DBMaxConns:        getInt32Env("DB_MAX_CONNS", 50),
		DBMinConns:        getInt32Env("DB_MIN_CONNS", 10),
		DBMaxConnIdleTime: getDurationEnv("DB_MAX_CONN_IDLE_TIME", time.Minute*15),
		DBNotifyChannel:   getEnv("DB_NOTIFY_CHANNEL", "fulfillment_changes"),

		BlobDriver:        getEnv("BLOB_DRIVER", DriverR2),
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2AccessKeySecret: getEnv("R2_ACCESS_KEY_SECRET", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),
		R2UploadTimeout:   getDurationEnv("R2_UPLOAD_TIMEOUT", 30*time.Second),
		MaxUploadSizeMB:   getInt64Env("MAX_UPLOAD_SIZE_MB", 10),

		LowStockThreshold: getIntEnv("LOW_STOCK_THRESHOLD", 5),
		LedgerMaxRetries:  getIntEnv("LEDGER_MAX_RETRIES", 5),
		BatchConcurrency:  getIntEnv("BATCH_CONCURRENCY", 8),
		SweepInterval:     getDurationEnv("SWEEP_INTERVAL", 10*time.Minute),
		OrphanGracePeriod: getDurationEnv("ORPHAN_GRACE_PERIOD", time.Hour),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		DedupTTL:           getDurationEnv("DEDUP_TTL", 24*time.Hour),
		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaCustomerTopic: getEnv("KAFKA_CUSTOMER_TOPIC", "fulfillment.customer"),
		KafkaAdminTopic:    getEnv("KAFKA_ADMIN_TOPIC", "fulfillment.admin"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values required by the selected drivers.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBUrl == "" {
			errs = append(errs, errors.New("DB_DSN is required for the postgres store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER '%s'", c.StoreDriver))
	}

	switch c.BlobDriver {
	case DriverR2:
		if c.R2AccountID == "" || c.R2BucketName == "" || c.R2PublicURL == "" {
			errs = append(errs, errors.New("R2_ACCOUNT_ID, R2_BUCKET_NAME and R2_PUBLIC_URL are required for the r2 blob store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown BLOB_DRIVER '%s'", c.BlobDriver))
	}

	if c.LedgerMaxRetries < 1 {
		errs = append(errs, errors.New("LEDGER_MAX_RETRIES must be at least 1"))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, errors.New("BATCH_CONCURRENCY must be at least 1"))
	}
	if c.MaxUploadSizeMB < 1 {
		errs = append(errs, errors.New("MAX_UPLOAD_SIZE_MB must be at least 1"))
	}

	if c.JWTSecret == "default_secret_CHANGE_ME" {
		log.Println("WARNING: Using default JWT secret. Setting up for failure in production.")
	}
	return errors.Join(errs...)
}
