package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Exchange    ExchangeConfig   `mapstructure:"exchange"`
	Redis       RedisConfig      `mapstructure:"redis"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Telegram    TelegramConfig   `mapstructure:"telegram"`
	Automation  AutomationConfig `mapstructure:"automation"`
	Risk        RiskConfig       `mapstructure:"risk"`
	Storage     StorageConfig    `mapstructure:"storage"`
	Security    SecurityConfig   `mapstructure:"security"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type ExchangeConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	Timeout    int    `mapstructure:"timeout"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig configures the optional relational mirror of the learning
// ledger. When disabled the ledger persists only its JSON snapshot.
type DatabaseConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	DatabaseURL string `mapstructure:"database_url"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

type AutomationConfig struct {
	WatchedSymbols   []string `mapstructure:"watched_symbols"`
	CheckIntervalSec int      `mapstructure:"check_interval_sec"`
	QueueCapacity    int      `mapstructure:"queue_capacity"`
	GraceTimeoutSec  int      `mapstructure:"grace_timeout_sec"`
	SinglePosition   bool     `mapstructure:"single_position"`
	PracticeOnly     bool     `mapstructure:"practice_only"`
	PortfolioUSD     float64  `mapstructure:"portfolio_usd"`
}

type RiskConfig struct {
	MaxOrderUSD          float64 `mapstructure:"max_order_usd"`
	MaxDailyOrders       int     `mapstructure:"max_daily_orders"`
	MinStopLossPct       float64 `mapstructure:"min_stop_loss_pct"`
	MaxStopLossPct       float64 `mapstructure:"max_stop_loss_pct"`
	MaxDailyLossPct      float64 `mapstructure:"max_daily_loss_pct"`
	MaxPositionPct       float64 `mapstructure:"max_position_pct"`
	MaxATRPct            float64 `mapstructure:"max_atr_pct"`
	MaxConsecutiveLosses int     `mapstructure:"max_consecutive_losses"`
}

type StorageConfig struct {
	DataDir             string `mapstructure:"data_dir"`
	BackupDir           string `mapstructure:"backup_dir"`
	BackupRetentionDays int    `mapstructure:"backup_retention_days"`
	SnapshotMinGapSec   int    `mapstructure:"snapshot_min_gap_sec"`
}

type SecurityConfig struct {
	JWTSecret         string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry         string `mapstructure:"jwt_expiry"`
	BcryptCost        int    `mapstructure:"bcrypt_cost"`
	AdminPasswordHash string `mapstructure:"admin_password_hash" json:"-" yaml:"-"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv("security.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}
	if err := viper.BindEnv("security.admin_password_hash", "ADMIN_PASSWORD_HASH"); err != nil {
		return nil, fmt.Errorf("failed to bind ADMIN_PASSWORD_HASH environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	environment := strings.ToLower(config.Environment)

	if environment != "development" && config.Security.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required in non-development environments")
	}

	if config.Security.JWTExpiry != "" {
		if _, err := time.ParseDuration(config.Security.JWTExpiry); err != nil {
			return nil, fmt.Errorf("invalid JWT expiry duration: %w", err)
		}
	}

	if config.Security.BcryptCost < bcrypt.MinCost || config.Security.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, config.Security.BcryptCost)
	}

	if err := validateRisk(&config.Risk); err != nil {
		return nil, err
	}
	if err := validateAutomation(&config.Automation); err != nil {
		return nil, err
	}

	config.Environment = environment

	return &config, nil
}

func validateRisk(r *RiskConfig) error {
	if r.MaxOrderUSD <= 0 {
		return fmt.Errorf("risk.max_order_usd must be positive, got %.2f", r.MaxOrderUSD)
	}
	if r.MaxDailyOrders <= 0 {
		return fmt.Errorf("risk.max_daily_orders must be positive, got %d", r.MaxDailyOrders)
	}
	if r.MinStopLossPct <= 0 || r.MinStopLossPct >= r.MaxStopLossPct {
		return fmt.Errorf("risk stop-loss band [%.2f%%, %.2f%%] is invalid", r.MinStopLossPct, r.MaxStopLossPct)
	}
	if r.MaxDailyLossPct <= 0 || r.MaxDailyLossPct > 100 {
		return fmt.Errorf("risk.max_daily_loss_pct must be in (0, 100], got %.2f", r.MaxDailyLossPct)
	}
	if r.MaxPositionPct <= 0 || r.MaxPositionPct > 100 {
		return fmt.Errorf("risk.max_position_pct must be in (0, 100], got %.2f", r.MaxPositionPct)
	}
	return nil
}

func validateAutomation(a *AutomationConfig) error {
	if len(a.WatchedSymbols) == 0 {
		return errors.New("automation.watched_symbols must not be empty")
	}
	if a.CheckIntervalSec < 5 {
		return fmt.Errorf("automation.check_interval_sec must be at least 5, got %d", a.CheckIntervalSec)
	}
	if a.QueueCapacity < 1 {
		return fmt.Errorf("automation.queue_capacity must be positive, got %d", a.QueueCapacity)
	}
	if a.PortfolioUSD <= 0 {
		return fmt.Errorf("automation.portfolio_usd must be positive, got %f", a.PortfolioUSD)
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Exchange bridge
	viper.SetDefault("exchange.service_url", "http://localhost:3001")
	viper.SetDefault("exchange.timeout", 10)

	// Redis candle cache
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Relational learning mirror
	viper.SetDefault("database.enabled", false)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "autopilot")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")

	// Telegram alerts
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", 0)

	// Automation
	viper.SetDefault("automation.watched_symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	viper.SetDefault("automation.check_interval_sec", 30)
	viper.SetDefault("automation.queue_capacity", 50)
	viper.SetDefault("automation.grace_timeout_sec", 5)
	viper.SetDefault("automation.single_position", true)
	viper.SetDefault("automation.practice_only", true)
	viper.SetDefault("automation.portfolio_usd", 1000.0)

	// Risk gates
	viper.SetDefault("risk.max_order_usd", 50.0)
	viper.SetDefault("risk.max_daily_orders", 10)
	viper.SetDefault("risk.min_stop_loss_pct", 2.0)
	viper.SetDefault("risk.max_stop_loss_pct", 10.0)
	viper.SetDefault("risk.max_daily_loss_pct", 5.0)
	viper.SetDefault("risk.max_position_pct", 20.0)
	viper.SetDefault("risk.max_atr_pct", 5.0)
	viper.SetDefault("risk.max_consecutive_losses", 3)

	// Storage
	viper.SetDefault("storage.data_dir", "./data")
	viper.SetDefault("storage.backup_dir", "./data/backups")
	viper.SetDefault("storage.backup_retention_days", 30)
	viper.SetDefault("storage.snapshot_min_gap_sec", 60)

	// Security
	viper.SetDefault("security.jwt_secret", "")
	viper.SetDefault("security.jwt_expiry", "24h")
	viper.SetDefault("security.bcrypt_cost", 12)
	viper.SetDefault("security.admin_password_hash", "")
}
