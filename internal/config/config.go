package config // package config loads application configuration from environment variables

import (
	"errors"  // errors joins every missing or invalid variable into one report
	"fmt"     // fmt formats configuration errors
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"strings" // strings normalizes enum-like values
	"time"    // time parses the timeout variables

	"github.com/joho/godotenv" // godotenv loads a local .env file during development
)

// Store backends selectable with STORE_BACKEND.
const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Database fields are only required for the
// mysql store backend.
type Config struct {
	Env          string // application environment (e.g. "dev", "prod")
	Port         string // HTTP port to listen on
	StoreBackend string // "mysql" (default) or "memory"

	DBUser      string // database username
	DBPass      string // database password (optional)
	DBHost      string // database host address
	DBPort      string // database port number
	DBName      string // database name
	AutoMigrate bool   // create missing tables on startup

	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time‑to‑live in minutes
	RefreshTTLDays int    // refresh token time‑to‑live in days
	BcryptCost     int    // bcrypt cost for password hashing

	AdminEmail    string // ADMIN account ensured at startup (optional)
	AdminPassword string // its password; required with AdminEmail

	AMQPURL       string // RabbitMQ URL; empty logs events to stdout
	EventLogDir   string // directory of the consumer's waitlist.log
	EventConsumer bool   // run the event log consumer in this process

	LockTimeout    time.Duration // wait for a restaurant's mutation slot
	TxTimeout      time.Duration // bound on one mutation's store work
	PublishTimeout time.Duration // bound on handing a snapshot to subscribers
	SendTimeout    time.Duration // per-subscriber websocket write bound
	MaxPartySize   int           // largest party accepted on join

	JobsEnabled bool          // run the asynq worker and scheduler
	PurgeCron   string        // schedule of the stale-entry purge
	PurgeMaxAge time.Duration // entries older than this are purged
	TokenCron   string        // schedule of the expired refresh token sweep
}

// Load reads a .env file when present, then the environment.  Missing or
// invalid required variables cause the program to exit with a fatal log
// message listing all of them.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env")
	}
	cfg, err := FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// FromEnv builds a Config from the current environment.
func FromEnv() (Config, error) {
	var r reader
	cfg := Config{
		Env:          envStr("APP_ENV", "dev"),
		Port:         r.must("APP_PORT"),
		StoreBackend: strings.ToLower(envStr("STORE_BACKEND", StoreMySQL)),

		JWTSecret:      r.must("JWT_SECRET"),
		AccessTTLMin:   r.mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: r.mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     envInt("BCRYPT_COST", 12),

		AdminEmail:    strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		AMQPURL:       envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),
		EventLogDir:   envStr("EVENT_LOG_DIR", "logs"),
		EventConsumer: envBool("EVENT_CONSUMER_ENABLED", true),

		LockTimeout:    envDur("LOCK_TIMEOUT", 5*time.Second),
		TxTimeout:      envDur("TX_TIMEOUT", 5*time.Second),
		PublishTimeout: envDur("PUBLISH_TIMEOUT", 2*time.Second),
		SendTimeout:    envDur("SUBSCRIBER_SEND_TIMEOUT", time.Second),
		MaxPartySize:   envInt("MAX_PARTY_SIZE", 20),

		JobsEnabled: envBool("JOBS_ENABLED", true),
		PurgeCron:   envStr("PURGE_CRON", "0 4 * * *"),
		PurgeMaxAge: envDur("PURGE_MAX_AGE", 12*time.Hour),
		TokenCron:   envStr("TOKEN_PURGE_CRON", "30 4 * * *"),
	}

	switch cfg.StoreBackend {
	case StoreMySQL:
		cfg.DBUser = r.must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = r.must("DB_HOST")
		cfg.DBPort = r.must("DB_PORT")
		cfg.DBName = r.must("DB_NAME")
		cfg.AutoMigrate = envBool("DB_AUTO_MIGRATE", false)
	case StoreMemory:
	default:
		r.errs = append(r.errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreMySQL, StoreMemory, cfg.StoreBackend))
	}
	if cfg.AdminEmail != "" {
		if !strings.Contains(cfg.AdminEmail, "@") {
			r.errs = append(r.errs, fmt.Errorf("ADMIN_EMAIL is not an email address: %q", cfg.AdminEmail))
		}
		if len(cfg.AdminPassword) < 8 {
			r.errs = append(r.errs, fmt.Errorf("ADMIN_PASSWORD must be at least 8 characters when ADMIN_EMAIL is set"))
		}
	}
	if cfg.MaxPartySize < 1 {
		r.errs = append(r.errs, fmt.Errorf("MAX_PARTY_SIZE must be positive"))
	}
	if cfg.PurgeMaxAge <= 0 {
		r.errs = append(r.errs, fmt.Errorf("PURGE_MAX_AGE must be positive"))
	}
	return cfg, errors.Join(r.errs...)
}

// reader collects the failures of must and mustInt so every problem is
// reported at once.
type reader struct{ errs []error }

// must retrieves the value of a required environment variable.
func (r *reader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		r.errs = append(r.errs, fmt.Errorf("missing required env var: %s", key))
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func (r *reader) mustInt(key string) int {
	s := r.must(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid int for %s: %q", key, s))
	}
	return n
}
