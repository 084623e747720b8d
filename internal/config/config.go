package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"crm-voice/pkg/utils"
)

// Config holds all configuration required by the signaling process.
// All values come from env (or a .env file loaded by main).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	Auth    AuthConfig
	Calls   CallsConfig
	WS      WSConfig
	Redis   RedisConfig
	History HistoryConfig
	DB      DBConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type CallsConfig struct {
	// RingTimeout is how long a session may ring before it ends with no-answer.
	RingTimeout time.Duration
	// MaxPerTenant caps concurrent live sessions per tenant. 0 disables the cap.
	MaxPerTenant int
}

type WSConfig struct {
	MaxMessageBytes int64
	PingInterval    time.Duration
	SendQueue       int
	RatePerSec      float64
	RateBurst       int
	// AllowedOrigins empty means same-origin only; "*" allows any.
	AllowedOrigins []string
}

// RedisConfig is optional. An empty Host disables the presence mirror and the call cap.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type HistoryConfig struct {
	// Export hands ended-call records to the CRM: "none", "postgres" (outbox table) or "redis" (stream).
	Export string
	// Retain bounds the in-process ring used for summaries.
	Retain int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

func Load() (Config, error) {
	c := Config{}
	var l envReader

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = l.requiredInt("APP_PORT")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = l.duration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = l.duration("JWT_REFRESH_TTL")

	c.Calls.RingTimeout = l.duration("CALL_RING_TIMEOUT")
	c.Calls.MaxPerTenant = l.int("MAX_CALLS_PER_TENANT")

	c.WS.MaxMessageBytes = int64(l.int("WS_MAX_MESSAGE_BYTES"))
	c.WS.PingInterval = l.duration("WS_PING_INTERVAL")
	c.WS.SendQueue = l.int("WS_SEND_QUEUE")
	c.WS.RatePerSec = l.float("WS_RATE_PER_SEC")
	c.WS.RateBurst = l.int("WS_RATE_BURST")
	c.WS.AllowedOrigins = splitList(os.Getenv("WS_ALLOWED_ORIGINS"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = l.int("REDIS_PORT")
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB = l.int("REDIS_DB")

	c.History.Export = strings.TrimSpace(os.Getenv("HISTORY_EXPORT"))
	c.History.Retain = l.int("HISTORY_RETAIN")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = l.int("DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	if err := joinErrors(l.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Calls.RingTimeout <= 0 {
		c.Calls.RingTimeout = 60 * time.Second
	}
	if c.Calls.MaxPerTenant < 0 {
		errs = append(errs, fmt.Errorf("MAX_CALLS_PER_TENANT must be >= 0, got %d", c.Calls.MaxPerTenant))
	}

	if c.WS.MaxMessageBytes <= 0 {
		c.WS.MaxMessageBytes = 64 << 10 // SDP blobs fit comfortably
	}
	if c.WS.PingInterval <= 0 {
		c.WS.PingInterval = 25 * time.Second
	}
	if c.WS.SendQueue <= 0 {
		c.WS.SendQueue = 64
	}
	if c.WS.RatePerSec <= 0 {
		c.WS.RatePerSec = 20
	}
	if c.WS.RateBurst <= 0 {
		c.WS.RateBurst = 40
	}

	if c.Redis.Host != "" {
		if c.Redis.Port == 0 {
			c.Redis.Port = 6379
		}
		if c.Redis.Port < 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
		if c.Redis.DB < 0 {
			errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0, got %d", c.Redis.DB))
		}
	}
	if c.Calls.MaxPerTenant > 0 && c.Redis.Host == "" {
		errs = append(errs, errors.New("MAX_CALLS_PER_TENANT requires REDIS_HOST"))
	}

	if c.History.Retain <= 0 {
		c.History.Retain = 10000
	}
	switch c.History.Export {
	case "":
		c.History.Export = "none"
	case "none":
	case "postgres":
		errs = append(errs, c.validateDB()...)
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("HISTORY_EXPORT=redis requires REDIS_HOST"))
		}
	default:
		errs = append(errs, fmt.Errorf("HISTORY_EXPORT must be one of none, postgres, redis, got %q", c.History.Export))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

// Postgres is the history outbox connection. It carries the password.
func (c Config) Postgres() utils.PostgresConfig {
	return utils.PostgresConfig{
		Host:     c.DB.Host,
		Port:     c.DB.Port,
		User:     c.DB.User,
		Password: c.DB.Password,
		Name:     c.DB.Name,
		SSLMode:  c.DB.SSLMode,
	}
}

// RedisOptions is the shared Redis used for presence, call caps and history.
func (c Config) RedisOptions() utils.RedisConfig {
	return utils.RedisConfig{
		Host:     c.Redis.Host,
		Port:     c.Redis.Port,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	}
}

// envReader parses typed env values and collects every parse error.
type envReader struct {
	errs []error
}

func (l *envReader) requiredInt(key string) int {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		l.errs = append(l.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	return l.int(key)
}

func (l *envReader) int(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

func (l *envReader) float(key string) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s must be a number, got %q", key, v))
		return 0
	}
	return f
}

func (l *envReader) duration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s must be a duration, got %q", key, v))
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
