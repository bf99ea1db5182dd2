package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aweist/lab-booking/throttle"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Auth     AuthConfig      `yaml:"auth"`
	Throttle throttle.Config `yaml:"throttle"`
	Email    EmailConfig     `yaml:"email"`
	Storage  StorageConfig   `yaml:"storage"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	Web      WebConfig       `yaml:"web"`
	Log      LogConfig       `yaml:"log"`
	Report   ReportConfig    `yaml:"report"`
}

// AuthConfig holds the shared secrets. Passwords may be bcrypt hashes.
type AuthConfig struct {
	EnterPassword string        `yaml:"enter_password"`
	CSVPassword   string        `yaml:"csv_password"`
	AdminPassword string        `yaml:"admin_password"`
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
}

type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort string   `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	AppURL   string   `yaml:"app_url"`
}

type StorageConfig struct {
	Driver       string        `yaml:"driver"`
	DatabasePath string        `yaml:"database_path"`
	Timeout      time.Duration `yaml:"timeout"`
}

type ScheduleConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// Timezone in which reservation dates and times are read.
	Timezone string `yaml:"timezone"`
}

type WebConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustProxy makes the client address come from X-Forwarded-For.
	TrustProxy bool `yaml:"trust_proxy"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type ReportConfig struct {
	Prefix string `yaml:"prefix"`
}

func Default() *Config {
	return &Config{
		Auth: AuthConfig{
			SessionTTL: 48 * time.Hour,
		},
		Throttle: throttle.DefaultConfig(),
		Email: EmailConfig{
			SMTPHost: "smtp.gmail.com",
			SMTPPort: "587",
		},
		Storage: StorageConfig{
			Driver:       "bolt",
			DatabasePath: "./booking.db",
			Timeout:      5 * time.Second,
		},
		Schedule: ScheduleConfig{
			SweepInterval: 10 * time.Minute,
			Timezone:      "Local",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    "8080",
		},
		Log: LogConfig{
			Level: "info",
		},
		Report: ReportConfig{
			Prefix: "instrument-usage",
		},
	}
}

// Load reads .env if present, then the YAML file at path (or CONFIG_FILE when
// path is empty), then the environment. Later sources win. Without a file the
// result is the same as LoadFromEnv.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		return LoadFromEnv()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds the configuration from defaults and the environment only.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Auth.EnterPassword, "ENTER_PASSWORD")
	setString(&c.Auth.CSVPassword, "CSV_PASSWORD")
	setString(&c.Auth.AdminPassword, "ADMIN_PASSWORD")
	setString(&c.Auth.SessionSecret, "SESSION_SECRET")

	setString(&c.Email.SMTPHost, "SMTP_HOST")
	setString(&c.Email.SMTPPort, "SMTP_PORT")
	setString(&c.Email.Username, "SMTP_USERNAME")
	setString(&c.Email.Password, "SMTP_PASSWORD")
	setString(&c.Email.From, "EMAIL_FROM")
	setList(&c.Email.To, "EMAIL_TO")
	setString(&c.Email.AppURL, "APP_URL")

	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	setString(&c.Storage.DatabasePath, "DB_PATH")
	setString(&c.Schedule.Timezone, "TIMEZONE")
	setString(&c.Web.Port, "WEB_PORT")
	setList(&c.Web.AllowedOrigins, "CORS_ALLOWED_ORIGINS")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Report.Prefix, "REPORT_PREFIX")

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	collect(setDuration(&c.Auth.SessionTTL, "SESSION_TTL"))
	collect(setInt(&c.Throttle.MaxAttempts, "AUTH_MAX_ATTEMPTS"))
	collect(setDuration(&c.Throttle.ResetWindow, "AUTH_RESET_WINDOW"))
	collect(setDuration(&c.Throttle.MinInterval, "AUTH_MIN_INTERVAL"))
	collect(setDuration(&c.Storage.Timeout, "STORAGE_TIMEOUT"))
	collect(setDuration(&c.Schedule.SweepInterval, "SWEEP_INTERVAL"))
	collect(setBool(&c.Email.Enabled, "EMAIL_ENABLED"))
	collect(setBool(&c.Web.Enabled, "WEB_ENABLED"))
	collect(setBool(&c.Web.TrustProxy, "TRUST_PROXY"))
	collect(setBool(&c.Log.Pretty, "LOG_PRETTY"))

	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	if c.Auth.EnterPassword == "" {
		return fmt.Errorf("auth.enter_password is required")
	}

	if c.Auth.CSVPassword == "" {
		return fmt.Errorf("auth.csv_password is required")
	}

	if len(c.Auth.SessionSecret) < 16 {
		return fmt.Errorf("auth.session_secret must be at least 16 characters")
	}

	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("auth.session_ttl must be positive")
	}

	if c.Throttle.MaxAttempts <= 0 {
		return fmt.Errorf("throttle.max_attempts must be positive")
	}

	if c.Throttle.ResetWindow <= 0 {
		return fmt.Errorf("throttle.reset_window must be positive")
	}

	if c.Throttle.MinInterval < 0 {
		return fmt.Errorf("throttle.min_interval must not be negative")
	}

	switch c.Storage.Driver {
	case "bolt", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be bolt or sqlite, got %q", c.Storage.Driver)
	}

	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}

	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("storage.timeout must be positive")
	}

	if c.Schedule.SweepInterval <= 0 {
		return fmt.Errorf("schedule.sweep_interval must be positive")
	}

	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid schedule.timezone: %w", err)
	}

	if c.Email.Enabled {
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("email.smtp_host is required when email is enabled")
		}

		if c.Email.From == "" {
			return fmt.Errorf("email.from is required when email is enabled")
		}

		if len(c.Email.To) == 0 {
			return fmt.Errorf("email.to is required when email is enabled")
		}
	}

	return nil
}

// Location returns the timezone reservations are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" || c.Schedule.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setList(dst *[]string, key string) {
	value := os.Getenv(key)
	if value == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

func setBool(dst *bool, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
