package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. WALLET_MYSQL_HOST.
const EnvPrefix = "WALLET"

// Config is the service configuration loaded from YAML and WALLET_* env vars.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Business BusinessConfig `mapstructure:"business"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Pricing  PricingConfig  `mapstructure:"pricing"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	WorkerID int64  `mapstructure:"worker_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig leaves Redis disabled when Host is empty.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig leaves event publishing disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type BusinessConfig struct {
	WelcomeCredit         int64         `mapstructure:"welcome_credit"`
	Currency              string        `mapstructure:"currency"`
	DefaultReservationTTL time.Duration `mapstructure:"default_reservation_ttl"`
	MinReservationTTL     time.Duration `mapstructure:"min_reservation_ttl"`
	MaxReservationTTL     time.Duration `mapstructure:"max_reservation_ttl"`
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize        int           `mapstructure:"sweep_batch_size"`
	ReconcileInterval     time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatchSize    int           `mapstructure:"reconcile_batch_size"`
	ReconcileOnRead       bool          `mapstructure:"reconcile_on_read"`
	ReconcileOnReserve    bool          `mapstructure:"reconcile_on_reserve"`
	DefaultPageSize       int           `mapstructure:"default_page_size"`
	MaxPageSize           int           `mapstructure:"max_page_size"`
	OutboxInterval        time.Duration `mapstructure:"outbox_interval"`
	OutboxMaxRetry        int           `mapstructure:"outbox_max_retry"`
}

// RetryConfig bounds the internal retries of ConcurrencyConflict and DependencyFailure.
type RetryConfig struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// PaymentConfig: webhook deliveries are rejected while WebhookSecret is empty unless
// AllowUnsignedWebhooks is set.
type PaymentConfig struct {
	MinTopUpAmount        int64  `mapstructure:"min_topup_amount"`
	DefaultProvider       string `mapstructure:"default_provider"`
	CheckoutBaseURL       string `mapstructure:"checkout_base_url"`
	WebhookSecret         string `mapstructure:"webhook_secret"`
	AllowUnsignedWebhooks bool   `mapstructure:"allow_unsigned_webhooks"`
}

type PricingConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "credit_ledger")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.log_sql", false)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic.ledger_events", "ledger-events")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("business.welcome_credit", 200)
	v.SetDefault("business.currency", "CREDIT")
	v.SetDefault("business.default_reservation_ttl", "30m")
	v.SetDefault("business.min_reservation_ttl", "5m")
	v.SetDefault("business.max_reservation_ttl", "240m")
	v.SetDefault("business.sweep_interval", "5m")
	v.SetDefault("business.sweep_batch_size", 100)
	v.SetDefault("business.reconcile_interval", "10m")
	v.SetDefault("business.reconcile_batch_size", 200)
	v.SetDefault("business.reconcile_on_read", false)
	v.SetDefault("business.reconcile_on_reserve", true)
	v.SetDefault("business.default_page_size", 20)
	v.SetDefault("business.max_page_size", 100)
	v.SetDefault("business.outbox_interval", "500ms")
	v.SetDefault("business.outbox_max_retry", 5)

	v.SetDefault("retry.max_tries", 3)
	v.SetDefault("retry.initial_interval", "20ms")
	v.SetDefault("retry.max_interval", "500ms")

	v.SetDefault("payment.min_topup_amount", 100)
	v.SetDefault("payment.default_provider", "stripe")
	v.SetDefault("payment.checkout_base_url", "https://checkout.example.com/pay")
	v.SetDefault("payment.webhook_secret", "")
	v.SetDefault("payment.allow_unsigned_webhooks", false)

	v.SetDefault("pricing.cache_ttl", "5m")
}

// Default returns the configuration built from defaults only.
func Default() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig reads configPath. An empty path loads defaults and environment overrides only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	b := c.Business
	if b.WelcomeCredit < 0 {
		return fmt.Errorf("business.welcome_credit must not be negative")
	}
	if b.MinReservationTTL <= 0 || b.MaxReservationTTL < b.MinReservationTTL {
		return fmt.Errorf("business reservation ttl bounds are invalid: min=%s max=%s", b.MinReservationTTL, b.MaxReservationTTL)
	}
	if b.DefaultReservationTTL < b.MinReservationTTL || b.DefaultReservationTTL > b.MaxReservationTTL {
		return fmt.Errorf("business.default_reservation_ttl %s is outside [%s, %s]", b.DefaultReservationTTL, b.MinReservationTTL, b.MaxReservationTTL)
	}
	if b.SweepInterval <= 0 || b.SweepBatchSize <= 0 {
		return fmt.Errorf("business sweep settings must be positive")
	}
	if b.MaxPageSize <= 0 || b.DefaultPageSize <= 0 {
		return fmt.Errorf("business page sizes must be positive")
	}
	if c.Retry.MaxTries == 0 {
		return fmt.Errorf("retry.max_tries must be at least 1")
	}
	return nil
}
