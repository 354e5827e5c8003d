package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSecret  string        `mapstructure:"JWT_SECRET"`
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`
	CronSecret string        `mapstructure:"CRON_SECRET"`
	JobLockTTL time.Duration `mapstructure:"JOB_LOCK_TTL"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
	AuthRateLimit  int     `mapstructure:"AUTH_RATE_LIMIT"`

	OTPLength               int           `mapstructure:"OTP_LENGTH"`
	OTPTTL                  time.Duration `mapstructure:"OTP_TTL"`
	OTPMaxAttempts          int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPAllowDeliveryFailure bool          `mapstructure:"OTP_ALLOW_DELIVERY_FAILURE"`
	OTPDevCode              string        `mapstructure:"OTP_DEV_CODE"`

	EmailAPIURL   string `mapstructure:"EMAIL_API_URL"`
	EmailAPIKey   string `mapstructure:"EMAIL_API_KEY"`
	EmailFrom     string `mapstructure:"EMAIL_FROM"`
	SMSAPIURL     string `mapstructure:"SMS_API_URL"`
	SMSAccountSID string `mapstructure:"SMS_ACCOUNT_SID"`
	SMSAuthToken  string `mapstructure:"SMS_AUTH_TOKEN"`
	SMSFrom       string `mapstructure:"SMS_FROM"`

	DevUserID     string `mapstructure:"DEV_USER_ID"`
	DevFacilityID string `mapstructure:"DEV_FACILITY_ID"`
	DevRoles      string `mapstructure:"DEV_ROLES"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CORS_ORIGINS",
	"JWT_SECRET", "SESSION_TTL", "CRON_SECRET", "JOB_LOCK_TTL",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "AUTH_RATE_LIMIT",
	"OTP_LENGTH", "OTP_TTL", "OTP_MAX_ATTEMPTS", "OTP_ALLOW_DELIVERY_FAILURE", "OTP_DEV_CODE",
	"EMAIL_API_URL", "EMAIL_API_KEY", "EMAIL_FROM",
	"SMS_API_URL", "SMS_ACCOUNT_SID", "SMS_AUTH_TOKEN", "SMS_FROM",
	"DEV_USER_ID", "DEV_FACILITY_ID", "DEV_ROLES",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("JOB_LOCK_TTL", "15m")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("AUTH_RATE_LIMIT", 5)
	v.SetDefault("OTP_LENGTH", 6)
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_ALLOW_DELIVERY_FAILURE", false)
	v.SetDefault("EMAIL_FROM", "no-reply@hivcare.local")
	v.SetDefault("DEV_USER_ID", "00000000-0000-0000-0000-000000000001")
	v.SetDefault("DEV_FACILITY_ID", "00000000-0000-0000-0000-0000000000f1")
	v.SetDefault("DEV_ROLES", "DIRECTOR")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ENV=development, requests without a session run as DEV_USER_ID with DEV_ROLES.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DevRoleList splits DEV_ROLES on commas.
func (c *Config) DevRoleList() []string {
	var roles []string
	for _, r := range strings.Split(c.DevRoles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, strings.ToUpper(r))
		}
	}
	return roles
}

// Validate checks that the configuration is safe to run. Outside development a
// real signing secret and a cron secret are required, and the fixed OTP code
// is refused.
func (c *Config) Validate() error {
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTPLength)
	}
	if c.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive, got %d", c.OTPMaxAttempts)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.IsDev() {
		return nil
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes outside development")
	}
	if c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required outside development")
	}
	if c.OTPDevCode != "" {
		return fmt.Errorf("OTP_DEV_CODE is only allowed when ENV=development")
	}
	return nil
}
