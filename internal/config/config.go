package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "Sahl API Service"
	defaultAppEnv          = "development"
	defaultPort            = "8000"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"

	defaultPortalURL      = "https://www.cihnet.co.ma"
	defaultPageTimeout    = 30 * time.Second
	defaultControlTimeout = 10 * time.Second
	defaultBalanceTimeout = 15 * time.Second
	defaultKeystrokeDelay = time.Second
	defaultOtpSettleDelay = time.Second
	defaultLockWait       = 60 * time.Second
	defaultIdleTimeout    = 10 * time.Minute
	defaultReaperInterval = 60 * time.Second
	defaultRateLimit      = 5
	defaultRedisPoolSize  = 10
)

// defaultCORSOrigins are the browser front-ends allowed to call the API.
var defaultCORSOrigins = []string{
	"https://sahlfinancial.com",
	"https://app.sahlfinancial.com",
	"https://sahl-api-sandbox.onrender.com",
	"http://localhost:8080",
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	RedisPoolSize  int
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	// APIClients seeds the in-memory client registry as id -> secret.
	APIClients map[string]string
	// CORSOrigins lists the exact origins allowed to send credentialed
	// browser requests.
	CORSOrigins []string

	Browser BrowserConfig
	Scrape  ScrapeConfig
}

// BrowserConfig controls how Chrome instances are launched.
type BrowserConfig struct {
	Headless bool
	ExecPath string
}

// ScrapeConfig holds the portal address and every bounded wait used by the engine.
type ScrapeConfig struct {
	PortalURL      string
	PageTimeout    time.Duration
	ControlTimeout time.Duration
	BalanceTimeout time.Duration
	KeystrokeDelay time.Duration
	OtpSettleDelay time.Duration
	LockWait       time.Duration
	IdleTimeout    time.Duration
	ReaperInterval time.Duration
	// RateLimit is the number of scrape requests allowed per identity per minute.
	RateLimit int
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is applied first when present; real
// environment variables always win over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		Browser: BrowserConfig{
			Headless: true,
			ExecPath: os.Getenv("BROWSER_EXEC_PATH"),
		},
		Scrape: ScrapeConfig{
			PortalURL: getEnv("PORTAL_URL", defaultPortalURL),
		},
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid BROWSER_HEADLESS: %w", err)
		}
		cfg.Browser.Headless = headless
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"SCRAPE_PAGE_TIMEOUT", defaultPageTimeout, &cfg.Scrape.PageTimeout},
		{"SCRAPE_CONTROL_TIMEOUT", defaultControlTimeout, &cfg.Scrape.ControlTimeout},
		{"SCRAPE_BALANCE_TIMEOUT", defaultBalanceTimeout, &cfg.Scrape.BalanceTimeout},
		{"SCRAPE_KEYSTROKE_DELAY", defaultKeystrokeDelay, &cfg.Scrape.KeystrokeDelay},
		{"SCRAPE_OTP_SETTLE_DELAY", defaultOtpSettleDelay, &cfg.Scrape.OtpSettleDelay},
		{"SCRAPE_LOCK_WAIT", defaultLockWait, &cfg.Scrape.LockWait},
		{"SCRAPE_IDLE_TIMEOUT", defaultIdleTimeout, &cfg.Scrape.IdleTimeout},
		{"SCRAPE_REAPER_INTERVAL", defaultReaperInterval, &cfg.Scrape.ReaperInterval},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.fallback); err != nil {
			return Config{}, err
		}
	}

	cfg.Scrape.RateLimit = defaultRateLimit
	if v := os.Getenv("SCRAPE_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCRAPE_RATE_LIMIT: %w", err)
		}
		cfg.Scrape.RateLimit = n
	}

	cfg.RedisPoolSize = defaultRedisPoolSize
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid REDIS_POOL_SIZE %q", v)
		}
		cfg.RedisPoolSize = n
	}

	if cfg.APIClients, err = parseClients(os.Getenv("API_CLIENTS")); err != nil {
		return Config{}, err
	}
	if cfg.CORSOrigins, err = parseOrigins(os.Getenv("CORS_ORIGINS")); err != nil {
		return Config{}, err
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a local/development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return getDuration(durationKey, fallback)
}

// parseClients decodes "id:secret,id2:secret2".
func parseClients(raw string) (map[string]string, error) {
	clients := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return clients, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, secret, ok := strings.Cut(pair, ":")
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("invalid API_CLIENTS entry %q", pair)
		}
		clients[id] = secret
	}
	return clients, nil
}

// parseOrigins decodes a comma separated origin list. A wildcard is refused
// because the API allows credentials.
func parseOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultCORSOrigins...), nil
	}
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch {
		case origin == "":
			continue
		case origin == "*":
			return nil, errors.New("CORS_ORIGINS must list explicit origins, not *")
		case !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://"):
			return nil, fmt.Errorf("invalid CORS_ORIGINS entry %q", origin)
		}
		origins = append(origins, origin)
	}
	return origins, nil
}
