package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time parses collaborator timeouts

	"github.com/joho/godotenv" // optional .env bootstrap for local development
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Required values are enforced by must(); optional
// collaborator settings (SMTP, Redis, RabbitMQ, inference/report services)
// fall back to defaults so the core API can start without them.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // process-wide secret for signing all token kinds

	AccessTTLMin     int // access token time-to-live in minutes
	ResetTTLMin      int // password-reset token time-to-live in minutes
	VerificationTTLH int // email-verification token time-to-live in hours
	BcryptCost       int // bcrypt cost for password hashing

	UploadRoot string // directory that receives study files

	InferenceURL     string        // base URL of the image inference collaborator
	ReportURL        string        // base URL of the report generation collaborator
	InferenceTimeout time.Duration // per-call ceiling for inference requests
	ReportTimeout    time.Duration // per-call ceiling for report requests

	SMTPHost string // SMTP relay host; empty disables outbound email
	SMTPPort string // SMTP relay port
	SMTPUser string // SMTP username, also the From address
	SMTPPass string // SMTP password

	BaseURL string // public base URL used in verification/reset links

	AdminPassword string // bootstrap password for the seeded admin account
	AdminEmail    string // bootstrap email for the seeded admin account
}

// Load reads configuration values from environment variables and returns a
// Config.  A .env file in the working directory is merged in first when
// present.  Missing required variables cause the process to exit.
func Load() Config {
	_ = godotenv.Load() // absence of .env is fine; real env always wins

	return Config{
		Env:       must("APP_ENV"),
		Port:      must("APP_PORT"),
		DBUser:    must("DB_USER"),
		DBPass:    os.Getenv("DB_PASS"),
		DBHost:    must("DB_HOST"),
		DBPort:    must("DB_PORT"),
		DBName:    must("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),

		AccessTTLMin:     envInt("ACCESS_TOKEN_TTL_MIN", 60),
		ResetTTLMin:      envInt("RESET_TOKEN_TTL_MIN", 30),
		VerificationTTLH: envInt("VERIFICATION_TOKEN_TTL_HOURS", 24),
		BcryptCost:       envInt("BCRYPT_COST", 12),

		UploadRoot: envStr("UPLOAD_ROOT", "uploads"),

		InferenceURL:     envStr("INFERENCE_URL", "http://localhost:8500"),
		ReportURL:        envStr("REPORT_URL", "http://localhost:8600"),
		InferenceTimeout: envDur("INFERENCE_TIMEOUT", 60*time.Second),
		ReportTimeout:    envDur("REPORT_TIMEOUT", 30*time.Second),

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: envStr("SMTP_PORT", "587"),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASSWORD"),

		BaseURL: envStr("BASE_URL", "http://localhost:3000"),

		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		AdminEmail:    envStr("ADMIN_EMAIL", "admin@hospital.org"),
	}
}

// EmailConfigured reports whether the SMTP transport has enough settings to
// attempt delivery.  Signup and the /api/auth/email-status endpoint use this
// to decide the email_sent flag.
func (c Config) EmailConfigured() bool {
	return c.SMTPHost != "" && c.SMTPUser != "" && c.SMTPPass != ""
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", k, v)
	}
	return n
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration for %s: %q", k, v)
	}
	return dur
}
