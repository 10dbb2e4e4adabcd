package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailreader/internal/account"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const sample = `
log_level: debug
output_dir: /var/mail/out
accounts:
  - name: work
    protocol: imap
    email: me@example.com
    host: imap.example.com
    port: 993
    username: me
    password: secret
    use_tls: true
    imap_folder: Archive
    alias: Work inbox
    auto_delete: true
    fetch_limit: 50
    schedule: "*/5 * * * *"
  - name: home-pop
    protocol: pop3
    email: home@example.com
    host: pop.example.com
    port: 995
    check_interval_seconds: 120
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/mail/out", cfg.OutputDir)
	require.Len(t, cfg.Accounts, 2)

	work := cfg.Accounts[0]
	assert.Equal(t, "Archive", work.IMAPFolder)
	require.NotNil(t, work.FetchLimit)
	assert.Equal(t, 50, *work.FetchLimit)
	assert.Equal(t, "*/5 * * * *", work.CronSpec())

	home := cfg.Accounts[1]
	assert.Nil(t, home.FetchLimit)
	assert.Equal(t, 2*time.Minute, home.CheckInterval())
	assert.Equal(t, "@every 2m0s", home.CronSpec())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", `
accounts:
  - name: a
    protocol: pop3
    host: h
    port: 110
    username: u
`))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "data", cfg.OutputDir)
	assert.Equal(t, 60*time.Second, cfg.Accounts[0].CheckInterval())
}

func TestLoadEnvironmentCredentials(t *testing.T) {
	t.Setenv("MAILREADER_HOME_POP_USERNAME", "env-user")
	t.Setenv("MAILREADER_HOME_POP_PASSWORD", "env-pass")

	cfg, err := Load(writeFile(t, "config.yaml", sample))
	require.NoError(t, err)

	home := cfg.Accounts[1]
	assert.Equal(t, "env-user", home.Username)
	assert.Equal(t, "env-pass", home.Password)

	// Other accounts keep their file values.
	assert.Equal(t, "me", cfg.Accounts[0].Username)
	assert.Equal(t, "secret", cfg.Accounts[0].Password)
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "MAILREADER_WORK_PASSWORD=from-dotenv\n")
	t.Cleanup(func() { os.Unsetenv("MAILREADER_WORK_PASSWORD") })

	require.NoError(t, LoadEnvFile(path))
	cfg, err := Load(writeFile(t, "config.yaml", sample))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Accounts[0].Password)

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	assert.NoError(t, LoadEnvFile(""))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeFile(t, "bad.yaml", "accounts: [\n"))
	assert.ErrorContains(t, err, "parse config")

	cases := map[string]string{
		"at least one account": `accounts: []`,
		"protocol must be pop3 or imap": `
accounts:
  - {name: a, protocol: smtp, host: h, port: 1, username: u}`,
		"host is required": `
accounts:
  - {name: a, protocol: imap, port: 1, username: u}`,
		"port is required": `
accounts:
  - {name: a, protocol: imap, host: h, username: u}`,
		"username or email is required": `
accounts:
  - {name: a, protocol: imap, host: h, port: 1}`,
		"fetch_limit must not be negative": `
accounts:
  - {name: a, protocol: imap, host: h, port: 1, username: u, fetch_limit: -1}`,
		"duplicate name": `
accounts:
  - {name: a, protocol: imap, host: h, port: 1, username: u}
  - {name: a, protocol: pop3, host: h, port: 1, username: u}`,
	}
	for want, content := range cases {
		_, err := Load(writeFile(t, "config.yaml", content))
		assert.ErrorContains(t, err, want)
	}
}

func TestRequest(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", sample))
	require.NoError(t, err)

	req, err := cfg.Accounts[0].Request()
	require.NoError(t, err)
	assert.True(t, req.AutoDelete)
	require.NotNil(t, req.Limit)
	assert.Equal(t, 50, *req.Limit)
	assert.Equal(t, &account.Account{
		Protocol: account.IMAP,
		Email:    "me@example.com",
		Username: "me",
		Password: "secret",
		Host:     "imap.example.com",
		Port:     993,
		UseTLS:   true,
		Mailbox:  "Archive",
		Alias:    "Work inbox",
	}, req.Account)

	req, err = cfg.Accounts[1].Request()
	require.NoError(t, err)
	assert.False(t, req.AutoDelete)
	assert.Nil(t, req.Limit)
	assert.Equal(t, account.POP3, req.Account.Protocol)
	assert.Equal(t, "home-pop", req.Account.Alias)
	assert.Equal(t, "home@example.com", req.Account.Login())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "default", (&Account{}).Key())
	assert.Equal(t, "my_work_box", (&Account{Name: "my work/box"}).Key())
	assert.Equal(t, "MAILREADER_HOME_POP_", (&Account{Name: "home-pop"}).EnvPrefix())
}
