package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "TDPOS"

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Port              string        `envconfig:"PORT" default:"8080"`
	AllowedOrigin     string        `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat         string        `envconfig:"LOG_FORMAT" default:"json"`
	StoreDriver       string        `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL       string        `envconfig:"DATABASE_URL"`
	AutoMigrate       bool          `envconfig:"AUTO_MIGRATE" default:"true"`
	MongoURI          string        `envconfig:"MONGO_URI"`
	MongoDatabase     string        `envconfig:"MONGO_DATABASE" default:"td_holdings_db"`
	RedisAddr         string        `envconfig:"REDIS_ADDR"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD"`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	HeldCartTTL       time.Duration `envconfig:"HELD_CART_TTL" default:"12h"`
	AuthSecret        string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL    time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	Timezone          string        `envconfig:"TIMEZONE" default:"Africa/Maseru"`
	CurrencySymbol    string        `envconfig:"CURRENCY_SYMBOL" default:"M"`
	DeadStockDays     int           `envconfig:"DEAD_STOCK_DAYS" default:"90"`
	LowStockThreshold int           `envconfig:"LOW_STOCK_THRESHOLD" default:"10"`
	ReceiptWidth      int           `envconfig:"RECEIPT_WIDTH" default:"48"`
	SeedDemoData      bool          `envconfig:"SEED_DEMO_DATA" default:"true"`
	SeedAdminPassword string        `envconfig:"SEED_ADMIN_PASSWORD"`
	SeedCashierPass   string        `envconfig:"SEED_CASHIER_PASSWORD"`
}

// Load reads an optional .env file and then the TDPOS_* environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	switch cfg.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("%s_DATABASE_URL is required for the postgres driver", EnvPrefix)
		}
	case DriverMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("%s_MONGO_URI is required for the mongo driver", EnvPrefix)
		}
	default:
		return Config{}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if cfg.DeadStockDays < 1 {
		cfg.DeadStockDays = 90
	}
	if cfg.LowStockThreshold < 1 {
		cfg.LowStockThreshold = 10
	}
	if cfg.ReceiptWidth < 24 {
		cfg.ReceiptWidth = 48
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves the configured timezone, falling back to the process local zone.
func (c Config) Location() *time.Location {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
