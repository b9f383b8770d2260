package config

import "time"

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	ClientURL   string `mapstructure:"client_url"`
}

type StripeConfig struct {
	SecretKey     string        `mapstructure:"secret_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// Checkout redirect targets. Relative paths are resolved against service.client_url.
	SuccessURL      string `mapstructure:"success_url"`
	CancelURL       string `mapstructure:"cancel_url"`
	PortalReturnURL string `mapstructure:"portal_return_url"`
}

type AuthConfig struct {
	JWTSecret          string         `mapstructure:"jwt_secret"`
	Supabase           SupabaseConfig `mapstructure:"supabase"`
	MembershipCacheTTL time.Duration  `mapstructure:"membership_cache_ttl"`
}

type SupabaseConfig struct {
	ProjectURL string `mapstructure:"project_url"`
	APIKey     string `mapstructure:"api_key"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type EmailConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	SMTPHost    string        `mapstructure:"smtp_host"`
	SMTPPort    int           `mapstructure:"smtp_port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	FromEmail   string        `mapstructure:"from_email"`
	FromName    string        `mapstructure:"from_name"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// BillingConfig tunes the billing core.
type BillingConfig struct {
	ExpiringSoonWindow time.Duration `mapstructure:"expiring_soon_window"`
	// AuditSchedule is a cron spec for the ledger audit sweep; empty disables it.
	AuditSchedule    string `mapstructure:"audit_schedule"`
	AuditConcurrency int    `mapstructure:"audit_concurrency"`
	PlanCacheSize    int    `mapstructure:"plan_cache_size"`
}
