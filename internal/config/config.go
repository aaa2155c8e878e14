package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database. postgres:// and postgresql:// use pgx, sqlite:// the embedded store.
	DatabaseURL    string
	DBMaxConns     int32
	DBMinConns     int32
	MigrationsPath string

	// Scheduling. PollInServer runs the poller inside cmd/server.
	PollInServer  bool
	PollDelay     time.Duration
	Cadence       domain.Cadence
	BacklogCutoff time.Duration

	// Delivery tasks. An empty WorkEngineURL runs tasks on the in-process pool.
	WorkEngineURL  string
	WebhookBaseURL string
	WebhookSecret  string
	TaskTimeout    time.Duration
	TaskTokenTTL   time.Duration
	LocalWorkers   int
	LocalQueueSize int
	RetryBackoff   []time.Duration

	// Mapping and rendering
	MappingFile string
	TemplateDir string
	SiteEmail   string
	SiteTitle   string

	// Senders: "stub" logs payloads, "live" calls the transports.
	SenderMode       string
	EmailTransport   string // postmark | smtp
	TransportTimeout time.Duration
	RateLimit        int
	PostmarkURL      string
	PostmarkToken    string
	SMTPAddr         string
	SMTPUsername     string
	SMTPPassword     string
	TwilioURL        string
	TwilioSID        string
	TwilioToken      string
	SMSFrom          string
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:    dbURL,
		DBMaxConns:     int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:     int32(getInt("DB_MIN_CONNS", 2)),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "file://migrations"),

		PollInServer: getBool("POLL_IN_SERVER", false),
		PollDelay:    getSeconds("POLL_DELAY", 15*time.Second),
		Cadence: domain.Cadence{
			domain.FrequencyImmediately: 0,
			domain.FrequencyHourly:      getDuration("CADENCE_HOURLY", time.Hour),
			domain.FrequencyDaily:       getDuration("CADENCE_DAILY", 24*time.Hour),
			domain.FrequencyWeekly:      getDuration("CADENCE_WEEKLY", 7*24*time.Hour),
		},
		BacklogCutoff: getDuration("BACKLOG_CUTOFF", 48*time.Hour),

		WorkEngineURL:  getEnv("WORK_ENGINE_URL", ""),
		WebhookBaseURL: getEnv("WEBHOOK_BASE_URL", "http://localhost:8080"),
		WebhookSecret:  getEnv("WEBHOOK_SECRET", ""),
		TaskTimeout:    getDuration("TASK_TIMEOUT", 60*time.Second),
		TaskTokenTTL:   getDuration("TASK_TOKEN_TTL", 24*time.Hour),
		LocalWorkers:   getInt("LOCAL_WORKERS", 4),
		LocalQueueSize: getInt("LOCAL_QUEUE_SIZE", 1000),
		RetryBackoff: []time.Duration{
			getDuration("RETRY_BACKOFF_1", 5*time.Second),
			getDuration("RETRY_BACKOFF_2", 30*time.Second),
			getDuration("RETRY_BACKOFF_3", 120*time.Second),
		},

		MappingFile: getEnv("MAPPING_FILE", "notifications.yaml"),
		TemplateDir: getEnv("TEMPLATE_DIR", "templates"),
		SiteEmail:   getEnv("SITE_EMAIL", "notifications@example.com"),
		SiteTitle:   getEnv("SITE_TITLE", "Notifications"),

		SenderMode:       getEnv("SENDER_MODE", "stub"),
		EmailTransport:   getEnv("EMAIL_TRANSPORT", "postmark"),
		TransportTimeout: getDuration("TRANSPORT_TIMEOUT", 10*time.Second),
		RateLimit:        getInt("RATE_LIMIT_PER_CHANNEL", 50),
		PostmarkURL:      getEnv("POSTMARK_URL", "https://api.postmarkapp.com/email"),
		PostmarkToken:    getEnv("POSTMARK_TOKEN", ""),
		SMTPAddr:         getEnv("SMTP_ADDR", "localhost:25"),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		TwilioURL:        getEnv("TWILIO_URL", "https://api.twilio.com/2010-04-01"),
		TwilioSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioToken:      getEnv("TWILIO_AUTH_TOKEN", ""),
		SMSFrom:          getEnv("SMS_FROM", ""),
	}

	if cfg.SenderMode != "stub" && cfg.SenderMode != "live" {
		return nil, fmt.Errorf("SENDER_MODE must be stub or live, got %q", cfg.SenderMode)
	}
	if cfg.EmailTransport != "postmark" && cfg.EmailTransport != "smtp" {
		return nil, fmt.Errorf("EMAIL_TRANSPORT must be postmark or smtp, got %q", cfg.EmailTransport)
	}
	return cfg, nil
}

// FromAddress is the formatted sender used on outgoing email.
func (c *Config) FromAddress() string {
	return fmt.Sprintf("%s <%s>", c.SiteTitle, c.SiteEmail)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getSeconds accepts either a bare number of seconds or a Go duration string.
func getSeconds(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(n * float64(time.Second))
		}
	}
	return getDuration(key, defaultVal)
}
