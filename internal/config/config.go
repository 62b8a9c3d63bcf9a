package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/lyndonlyu/sitereset/internal/redact"
)

type SiteConfig struct {
	Root       string `yaml:"root" validate:"required"`
	ContentDir string `yaml:"content_dir"`
	DBPath     string `yaml:"db_path"`
	Prefix     string `yaml:"table_prefix" validate:"required,tableprefix"`
	Multisite  bool   `yaml:"multisite"`
	Locale     string `yaml:"locale"`
}

type BrandConfig struct {
	ID       string `yaml:"id" validate:"required,alphanum,lowercase"`
	Name     string `yaml:"name"`
	Basename string `yaml:"plugin" validate:"omitempty,endswith=.php"`
	Theme    string `yaml:"theme"`
}

type RemoteConfig struct {
	ThemeRepository string `yaml:"theme_repository" validate:"required,url"`
	CoreEndpoint    string `yaml:"core_endpoint" validate:"required,url"`
	Timeout         int    `yaml:"timeout" validate:"gte=1"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
	// Token is the bearer token admin requests must present. Empty
	// disables the API.
	Token      string `yaml:"token"`
	TimeBudget int    `yaml:"time_budget" validate:"gte=1"`
	HandoffTTL int    `yaml:"handoff_ttl" validate:"gte=1"`
	// RateLimit is requests per minute per client address.
	RateLimit int `yaml:"rate_limit" validate:"gte=1"`
	RateBurst int `yaml:"rate_burst" validate:"gte=1"`
}

type NotifyConfig struct {
	Spool  bool   `yaml:"spool"`
	Stderr bool   `yaml:"stderr"`
	Level  string `yaml:"min_level" validate:"oneof=INFO WARN ERROR"`
}

type RetentionConfig struct {
	AuditDays int `yaml:"audit_days" validate:"gte=0"`
	RunDays   int `yaml:"run_days" validate:"gte=0"`
}

type Config struct {
	Site      SiteConfig             `yaml:"site"`
	Brand     BrandConfig            `yaml:"brand"`
	Remote    RemoteConfig           `yaml:"remote"`
	Server    ServerConfig           `yaml:"server"`
	Notify    NotifyConfig           `yaml:"notify"`
	Retention RetentionConfig        `yaml:"retention"`
	Redaction redact.RedactionConfig `yaml:"redaction"`
	// KeepPatterns are doublestar patterns relative to the content
	// directory that content cleanup leaves alone.
	KeepPatterns []string `yaml:"keep_patterns" validate:"dive,required"`
	LogLevel     string   `yaml:"log_level" validate:"oneof=debug info warn error"`
	BaseDir      string   `yaml:"state_dir"`
}

func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Site: SiteConfig{
			Root:   ".",
			Prefix: "wp_",
			Locale: "en_US",
		},
		Brand: BrandConfig{
			ID:       "bluehost",
			Name:     "Bluehost",
			Basename: "bluehost-wordpress-plugin/bluehost-wordpress-plugin.php",
		},
		Remote: RemoteConfig{
			ThemeRepository: "https://api.wordpress.org",
			CoreEndpoint:    "https://api.wordpress.org/core/version-check/1.7/",
			Timeout:         60,
		},
		Server: ServerConfig{
			Addr:       "127.0.0.1:8787",
			TimeBudget: 300,
			HandoffTTL: 300,
			RateLimit:  10,
			RateBurst:  3,
		},
		Notify: NotifyConfig{
			Spool: true,
			Level: "INFO",
		},
		Retention: RetentionConfig{
			AuditDays: 90,
			RunDays:   365,
		},
		Redaction: redact.DefaultConfig(),
		LogLevel:  "info",
		BaseDir:   filepath.Join(home, ".sitereset"),
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// Ensure defaults for zero values
	def := Default()
	if cfg.Site.Prefix == "" {
		cfg.Site.Prefix = def.Site.Prefix
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = def.Remote.Timeout
	}
	if cfg.Server.TimeBudget == 0 {
		cfg.Server.TimeBudget = def.Server.TimeBudget
	}
	if cfg.Server.HandoffTTL == 0 {
		cfg.Server.HandoffTTL = def.Server.HandoffTTL
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = def.Server.RateLimit
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = def.Server.RateBurst
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Notify.Level == "" {
		cfg.Notify.Level = def.Notify.Level
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = def.BaseDir
	}

	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("tableprefix", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return false
		}
		for _, r := range s {
			if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				return false
			}
		}
		return true
	})
	return v
}

// Validate checks the loaded configuration and returns one error per bad
// field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
	}
	return fmt.Errorf("config: invalid: %s", strings.Join(msgs, ", "))
}

func (c *Config) StateDir() string {
	return c.BaseDir
}

func (c *Config) AuditDir() string    { return filepath.Join(c.BaseDir, "audit") }
func (c *Config) SpoolPath() string   { return filepath.Join(c.BaseDir, "notifications.jsonl") }
func (c *Config) SessionPath() string { return filepath.Join(c.BaseDir, "session.json") }
func (c *Config) StateDBPath() string { return filepath.Join(c.BaseDir, "runs.db") }
func (c *Config) LockPath() string    { return filepath.Join(c.BaseDir, "reset.lock") }

// DBPath is the site database, <root>/site.db unless configured.
func (c *Config) DBPath() string {
	if c.Site.DBPath != "" {
		return c.Site.DBPath
	}
	return filepath.Join(c.Site.Root, "site.db")
}

func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.Timeout) * time.Second
}

func (c *Config) TimeBudget() time.Duration {
	return time.Duration(c.Server.TimeBudget) * time.Second
}

func (c *Config) HandoffTTL() time.Duration {
	return time.Duration(c.Server.HandoffTTL) * time.Second
}

func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.BaseDir,
		c.AuditDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}
