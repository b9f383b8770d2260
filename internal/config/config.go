package config

import (
	"time"

	pkgconfig "github.com/th1s9uy/saas-billing/pkg/config"
	"github.com/th1s9uy/saas-billing/pkg/logger"
)

const serviceName = "billing"

type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      logger.Config  `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Email    EmailConfig    `mapstructure:"email"`
	Billing  BillingConfig  `mapstructure:"billing"`
}

// LoadConfig reads CONFIG_PATH (default ./configs/billing.yaml) with
// BILLING_-prefixed environment overrides.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := pkgconfig.Load(serviceName, defaults(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"service.name":        serviceName,
		"service.environment": "dev",

		"stripe.timeout": 10 * time.Second,

		"database.driver":             "postgres",
		"database.port":               5432,
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  time.Hour,
		"database.conn_max_idle_time": 10 * time.Minute,
		"database.slow_threshold":     200 * time.Millisecond,

		"server.http.host": "0.0.0.0",
		"server.http.port": 8080,
		"server.grpc.host": "0.0.0.0",
		"server.grpc.port": 9090,

		"log.level":  "info",
		"log.format": "json",
		"log.output": "stdout",

		"auth.membership_cache_ttl": 5 * time.Minute,

		"redis.enabled": false,
		"redis.addr":    "localhost:6379",
		"redis.channel": "billing.events",

		"email.enabled":      false,
		"email.smtp_port":    587,
		"email.from_name":    "Billing",
		"email.dial_timeout": 10 * time.Second,

		"billing.expiring_soon_window": 30 * 24 * time.Hour,
		"billing.audit_schedule":       "@every 6h",
		"billing.audit_concurrency":    4,
		"billing.plan_cache_size":      128,
	}
}
