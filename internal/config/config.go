// Package config loads server settings from defaults, an optional config
// file, the environment and command-line flags, in increasing precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// CORSMode selects the allowed-origin policy.
type CORSMode string

const (
	CORSExact       CORSMode = "exact"
	CORSList        CORSMode = "list"
	CORSWildcard    CORSMode = "wildcard"
	CORSDevAllowAll CORSMode = "dev-allow-all"
)

var (
	errEmptyEnv      = errors.New("environment must not be empty")
	errUnknownDriver = errors.New("unknown store driver")
	errUnknownCORS   = errors.New("unknown cors mode")
	errNoOrigins     = errors.New("cors mode requires at least one origin")
	errBadFormat     = errors.New("unknown log format")
	errConfigFile    = errors.New("config file")
)

// Duration is a time.Duration that decodes from strings like "30s".
type Duration time.Duration

// UnmarshalText parses a time.ParseDuration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats d like time.Duration.String.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Store selects and addresses the persistence backend.
type Store struct {
	Driver        string `json:"driver" toml:"driver"`
	DSN           string `json:"dsn" toml:"dsn"`
	RedisAddr     string `json:"redis_addr" toml:"redis_addr"`
	RedisPassword string `json:"redis_password" toml:"redis_password"`
	RedisDB       int    `json:"redis_db" toml:"redis_db"`
}

// CORS holds the allowed-origin policy.
type CORS struct {
	Mode             CORSMode `json:"mode" toml:"mode"`
	Origins          []string `json:"origins" toml:"origins"`
	AllowCredentials bool     `json:"allow_credentials" toml:"allow_credentials"`
}

// Log sets the logger level and output format.
type Log struct {
	Level  string `json:"level" toml:"level"`
	Format string `json:"format" toml:"format"`
}

// Config holds all server settings.
type Config struct {
	HTTPAddr        string   `json:"http_addr" toml:"http_addr"`
	Env             string   `json:"env" toml:"env"`
	Store           Store    `json:"store" toml:"store"`
	CORS            CORS     `json:"cors" toml:"cors"`
	Log             Log      `json:"log" toml:"log"`
	RequestTimeout  Duration `json:"request_timeout" toml:"request_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" toml:"shutdown_timeout"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTPAddr: ":3000",
		Env:      EnvDevelopment,
		Store: Store{
			Driver:    DriverSQLite,
			DSN:       "todos.db",
			RedisAddr: "localhost:6379",
		},
		CORS: CORS{AllowCredentials: true},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		RequestTimeout:  Duration(30 * time.Second),
		ShutdownTimeout: Duration(10 * time.Second),
	}
}

// IsDevelopment reports whether the server runs in development mode.
func (c Config) IsDevelopment() bool { return c.Env == EnvDevelopment }

// Load builds a Config from args (without the program name) and getenv.
// It returns pflag.ErrHelp when -h or --help was given.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()

	fs := pflag.NewFlagSet("todocrud", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a .toml, .json or .jsonc config file")
	addr := fs.String("addr", cfg.HTTPAddr, "HTTP listen address")
	env := fs.String("env", cfg.Env, "environment: development, production or test")
	driver := fs.String("store", cfg.Store.Driver, "store driver: sqlite, postgres or redis")
	dsn := fs.String("dsn", cfg.Store.DSN, "database DSN (sqlite path or postgres URL)")
	redisAddr := fs.String("redis-addr", cfg.Store.RedisAddr, "redis address")
	corsMode := fs.String("cors-mode", "", "cors mode: exact, list, wildcard or dev-allow-all")
	origins := fs.StringSlice("cors-origin", nil, "allowed cors origin (repeatable)")
	level := fs.String("log-level", cfg.Log.Level, "log level: debug, info, warn or error")
	format := fs.String("log-format", cfg.Log.Format, "log format: text, json or logfmt")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if *configPath != "" {
		if err := loadFile(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	if fs.Changed("addr") {
		cfg.HTTPAddr = *addr
	}
	if fs.Changed("env") {
		cfg.Env = *env
	}
	if fs.Changed("store") {
		cfg.Store.Driver = *driver
	}
	if fs.Changed("dsn") {
		cfg.Store.DSN = *dsn
	}
	if fs.Changed("redis-addr") {
		cfg.Store.RedisAddr = *redisAddr
	}
	if fs.Changed("cors-mode") {
		cfg.CORS.Mode = CORSMode(*corsMode)
	}
	if fs.Changed("cors-origin") {
		cfg.CORS.Origins = *origins
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *level
	}
	if fs.Changed("log-format") {
		cfg.Log.Format = *format
	}

	cfg.CORS.Mode = cfg.corsMode()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfigFile, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("%w %s: %w", errConfigFile, path, err)
		}
	case ".json", ".jsonc":
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("%w %s: invalid JSONC: %w", errConfigFile, path, err)
		}
		if err := json.Unmarshal(standardized, cfg); err != nil {
			return fmt.Errorf("%w %s: %w", errConfigFile, path, err)
		}
	default:
		return fmt.Errorf("%w %s: unsupported extension", errConfigFile, path)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		cfg.HTTPAddr = ":" + v
	}
	if v := getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := getenv("NODE_ENV"); v != "" {
		cfg.Env = v
	}
	if v := getenv("APP_ENV"); v != "" {
		cfg.Env = v
	}
	if v := getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Store.DSN = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		cfg.Store.RedisPassword = v
	}
	if v := getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.Store.RedisDB = n
	}
	if v := getenv("CORS_MODE"); v != "" {
		cfg.CORS.Mode = CORSMode(v)
	}
	if v := getenv("FRONTEND_URL"); v != "" {
		cfg.CORS.Origins = []string{v}
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORS.Origins = splitList(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	for key, dst := range map[string]*Duration{
		"REQUEST_TIMEOUT":  &cfg.RequestTimeout,
		"SHUTDOWN_TIMEOUT": &cfg.ShutdownTimeout,
	} {
		if v := getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// corsMode returns the configured mode, or derives one from the origins.
func (c Config) corsMode() CORSMode {
	if c.CORS.Mode != "" {
		return c.CORS.Mode
	}
	switch {
	case len(c.CORS.Origins) == 0 && c.IsDevelopment():
		return CORSDevAllowAll
	case len(c.CORS.Origins) == 0:
		return CORSWildcard
	case len(c.CORS.Origins) == 1 && c.CORS.Origins[0] == "*":
		return CORSWildcard
	case len(c.CORS.Origins) == 1:
		return CORSExact
	default:
		return CORSList
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Env == "" {
		return errEmptyEnv
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverRedis:
	default:
		return fmt.Errorf("%w %q", errUnknownDriver, c.Store.Driver)
	}

	switch c.CORS.Mode {
	case CORSExact, CORSList:
		if len(c.CORS.Origins) == 0 {
			return fmt.Errorf("%w: %s", errNoOrigins, c.CORS.Mode)
		}
	case CORSWildcard, CORSDevAllowAll:
	default:
		return fmt.Errorf("%w %q", errUnknownCORS, c.CORS.Mode)
	}

	switch c.Log.Format {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("%w %q", errBadFormat, c.Log.Format)
	}
	return nil
}
