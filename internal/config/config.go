package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"

	"github.com/tracyhatemice/mailreader/internal/account"
	"github.com/tracyhatemice/mailreader/internal/reader"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel  string    `yaml:"log_level"`
	OutputDir string    `yaml:"output_dir"`
	Accounts  []Account `yaml:"accounts"`
}

// Account describes one mailbox to read from.
type Account struct {
	Name                 string `yaml:"name"`
	Protocol             string `yaml:"protocol"` // "pop3" or "imap"
	Email                string `yaml:"email"`
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	UseTLS               bool   `yaml:"use_tls"`
	IMAPFolder           string `yaml:"imap_folder"`
	Alias                string `yaml:"alias"`
	AutoDelete           bool   `yaml:"auto_delete"`
	FetchLimit           *int   `yaml:"fetch_limit"`
	Schedule             string `yaml:"schedule"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
}

// credentials can be supplied through MAILREADER_<KEY>_USERNAME and
// MAILREADER_<KEY>_PASSWORD instead of the config file.
type credentials struct {
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
}

// CheckInterval returns the check interval as a time.Duration.
func (a *Account) CheckInterval() time.Duration {
	if a.CheckIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(a.CheckIntervalSeconds) * time.Second
}

// CronSpec returns the watch schedule, derived from the check interval when
// no schedule is set.
func (a *Account) CronSpec() string {
	if s := strings.TrimSpace(a.Schedule); s != "" {
		return s
	}
	return "@every " + a.CheckInterval().String()
}

// Key is the account name reduced to characters safe for file names.
func (a *Account) Key() string {
	if a.Name == "" {
		return "default"
	}
	out := make([]byte, 0, len(a.Name))
	for _, b := range []byte(a.Name) {
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-' || b == '_' {
			out = append(out, b)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

// EnvPrefix returns the environment variable prefix for this account.
func (a *Account) EnvPrefix() string {
	return "MAILREADER_" + strings.ToUpper(strings.ReplaceAll(a.Key(), "-", "_")) + "_"
}

// ToAccount converts the config entry to the account the reader works with.
func (a *Account) ToAccount() (*account.Account, error) {
	p, err := account.ParseProtocol(a.Protocol)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", a.Name, err)
	}
	alias := a.Alias
	if alias == "" {
		alias = a.Name
	}
	return &account.Account{
		Protocol: p,
		Email:    a.Email,
		Username: a.Username,
		Password: a.Password,
		Host:     a.Host,
		Port:     a.Port,
		UseTLS:   a.UseTLS,
		Mailbox:  a.IMAPFolder,
		Alias:    alias,
	}, nil
}

// Request builds a fetch request for the account.
func (a *Account) Request() (*reader.Request, error) {
	acct, err := a.ToAccount()
	if err != nil {
		return nil, err
	}
	req := &reader.Request{Account: acct, AutoDelete: a.AutoDelete}
	if a.FetchLimit != nil {
		req.Limit = reader.LimitTo(*a.FetchLimit)
	}
	return req, nil
}

// LoadEnvFile loads variables from a dotenv file. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load reads and parses a YAML configuration file, then applies
// credentials from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{
		LogLevel:  "info",
		OutputDir: "data",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for i := range cfg.Accounts {
		if err := cfg.Accounts[i].applyEnv(); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (a *Account) applyEnv() error {
	var c credentials
	if err := env.Parse(&c, env.Options{Prefix: a.EnvPrefix()}); err != nil {
		return fmt.Errorf("account %s: parse environment: %w", a.Name, err)
	}
	if c.Username != "" {
		a.Username = c.Username
	}
	if c.Password != "" {
		a.Password = c.Password
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	names := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		label := a.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if names[a.Key()] {
			return fmt.Errorf("account %s: duplicate name", label)
		}
		names[a.Key()] = true

		if a.Protocol != "pop3" && a.Protocol != "imap" {
			return fmt.Errorf("account %s: protocol must be pop3 or imap", label)
		}
		if a.Host == "" {
			return fmt.Errorf("account %s: host is required", label)
		}
		if a.Port == 0 {
			return fmt.Errorf("account %s: port is required", label)
		}
		if a.Username == "" && a.Email == "" {
			return fmt.Errorf("account %s: username or email is required", label)
		}
		if a.FetchLimit != nil && *a.FetchLimit < 0 {
			return fmt.Errorf("account %s: fetch_limit must not be negative", label)
		}
	}
	return nil
}
