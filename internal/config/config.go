// Package config resolves the service configuration from environment
// variables (prefix ATTENDANCE_) overridden by command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting of the attendance service.
type Config struct {
	Port     int    `env:"PORT" envDefault:"8088"`
	WebDir   string `env:"WEB_DIR" envDefault:"../web"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// LogFormat is "console" or "json".
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	PlacesURL  string        `env:"PLACES_URL" envDefault:"https://api-hh5m.vercel.app/api/place"`
	DevicesURL string        `env:"DEVICES_URL" envDefault:"https://api-hh5m.vercel.app/api/device"`
	CheckinURL string        `env:"CHECKIN_URL" envDefault:"https://partner.hanet.ai/person/getCheckinByPlaceIdInTimestamp"`
	Timeout    time.Duration `env:"REMOTE_TIMEOUT" envDefault:"15s"`

	// Credential sources; see security.CredentialSource.
	Credential     string `env:"CREDENTIAL"`
	CredentialFile string `env:"CREDENTIAL_FILE"`
	MasterKey      string `env:"MASTER_KEY"`

	// AccessKeyHash is a bcrypt hash guarding the HTTP API. Empty disables it.
	AccessKeyHash string   `env:"ACCESS_KEY_HASH"`
	CORSOrigins   []string `env:"CORS_ORIGINS" envSeparator:","`

	// TimeZone interprets the form's local datetimes. Empty means the process zone.
	TimeZone string `env:"TIMEZONE"`

	SessionIdle     time.Duration `env:"SESSION_IDLE" envDefault:"30m"`
	CleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
}

// Load parses the environment, then applies flags from args on top.
func Load(args []string, environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: "ATTENDANCE_"}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("attendance", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port to listen on")
	fs.StringVar(&cfg.WebDir, "web", cfg.WebDir, "Directory for static web files")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (console, json)")
	fs.StringVar(&cfg.TimeZone, "tz", cfg.TimeZone, "Time zone for form datetimes (e.g. Asia/Ho_Chi_Minh)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout for remote calls")
	fs.DurationVar(&cfg.SessionIdle, "session-idle", cfg.SessionIdle, "Close sessions idle for this long")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	for name, raw := range map[string]string{"places": c.PlacesURL, "devices": c.DevicesURL, "checkin": c.CheckinURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid %s url %q", name, raw))
		}
	}
	if c.Credential == "" && c.CredentialFile == "" {
		errs = append(errs, errors.New("a credential or credential file is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.SessionIdle <= 0 || c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("session timings must be positive"))
	}
	return errors.Join(errs...)
}

// Location resolves TimeZone.
func (c Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
