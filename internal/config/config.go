package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"

	"teamcal/internal/model"
)

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "UTC"
	defaultWeekStart   = "monday"
	defaultView        = "month"
	defaultRefreshCron = "0 */6 * * *"
	defaultLogLevel    = "info"
	defaultFeedCache   = "/var/lib/teamcal/feeds"
)

// HolidayFeed is an ICS subscription whose events become breaks of one season.
type HolidayFeed struct {
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Name is a human-friendly label.
	Name     string `yaml:"name" json:"name"`
	TenantID int64  `yaml:"tenant_id" json:"tenant_id"`
	SeasonID int64  `yaml:"season_id" json:"season_id"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
// PasswordHash is a bcrypt hash (see `teamcal -hash-password`).
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// DatabaseConfig describes the MariaDB connection. An empty Host selects the
// in-memory store.
type DatabaseConfig struct {
	Host            string        `yaml:"host" json:"host"`
	User            string        `yaml:"user" json:"user"`
	Password        string        `yaml:"password" json:"-"`
	Name            string        `yaml:"name" json:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// Enabled reports whether a MariaDB server is configured.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

// DSN returns the go-sql-driver/mysql connection string.
func (d DatabaseConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	cfg.MultiStatements = true
	return cfg.FormatDSN()
}

func ensurePort(host, port string) string {
	if _, _, err := net.SplitHostPort(host); err != nil {
		return net.JoinHostPort(host, port)
	}
	return host
}

// RedisConfig describes the calendar cache. An empty URL selects the
// in-memory cache.
type RedisConfig struct {
	URL string        `yaml:"url" json:"url"`
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone sessions are scheduled in (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// DefaultView is the calendar view used when a request names none.
	DefaultView string `yaml:"default_view" json:"default_view"`

	// RefreshCron schedules the holiday feed import (e.g. "0 */6 * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`

	// SeedFile preloads the in-memory store when no database is configured.
	SeedFile string `yaml:"seed_file,omitempty" json:"seed_file,omitempty"`

	HolidayFeeds []HolidayFeed `yaml:"holiday_feeds" json:"holiday_feeds"`

	// FeedCacheDir keeps the last good body and ETag of every holiday feed.
	FeedCacheDir string `yaml:"feed_cache_dir" json:"feed_cache_dir"`

	// GroupsDisplay is the fallback group naming used when a tenant has none stored.
	GroupsDisplay *model.GroupsDisplayConfig `yaml:"groups_display,omitempty" json:"groups_display,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		Timezone:     defaultTimezone,
		WeekStart:    defaultWeekStart,
		DefaultView:  defaultView,
		RefreshCron:  defaultRefreshCron,
		LogLevel:     defaultLogLevel,
		Database:     DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute},
		Redis:        RedisConfig{TTL: 5 * time.Minute},
		HolidayFeeds: []HolidayFeed{},
		FeedCacheDir: defaultFeedCache,
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.WeekStart = strings.ToLower(c.WeekStart)
	if c.WeekStart != "monday" && c.WeekStart != "sunday" {
		c.WeekStart = defaultWeekStart
	}
	switch c.DefaultView = strings.ToLower(c.DefaultView); c.DefaultView {
	case "month", "week", "day":
	default:
		c.DefaultView = defaultView
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 5 * time.Minute
	}
	if c.HolidayFeeds == nil {
		c.HolidayFeeds = []HolidayFeed{}
	}
	if c.FeedCacheDir == "" {
		c.FeedCacheDir = defaultFeedCache
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	seen := make(map[string]bool, len(c.HolidayFeeds))
	for i, f := range c.HolidayFeeds {
		if f.URL == "" {
			return fmt.Errorf("holiday_feeds[%d]: url is empty", i)
		}
		if f.SeasonID == 0 || f.TenantID == 0 {
			return fmt.Errorf("holiday_feeds[%d]: tenant_id and season_id are required", i)
		}
		if f.ID != "" && seen[f.ID] {
			return fmt.Errorf("holiday_feeds[%d]: duplicate id %q", i, f.ID)
		}
		seen[f.ID] = true
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.PasswordHash == "") {
		return errors.New("basic_auth: username and password_hash are required")
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// FirstWeekday maps WeekStart to a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// applyEnv lets secrets live outside the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TEAMCAL_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("TEAMCAL_REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist a default config is written with 0600 perms
// and returned. Otherwise the YAML is decoded and normalized. Environment
// overrides (TEAMCAL_DB_PASSWORD, TEAMCAL_REDIS_URL) are applied last and
// never written back.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.applyEnv()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".teamcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
