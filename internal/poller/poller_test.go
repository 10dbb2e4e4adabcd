package poller

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/mailreader/internal/account"
	"github.com/tracyhatemice/mailreader/internal/config"
	"github.com/tracyhatemice/mailreader/internal/dedup"
	"github.com/tracyhatemice/mailreader/internal/mailtest"
	"github.com/tracyhatemice/mailreader/internal/message"
	"github.com/tracyhatemice/mailreader/internal/reader"
	"github.com/tracyhatemice/mailreader/internal/store"
)

func configAccount(name string, acct account.Account) config.Account {
	return config.Account{
		Name:     name,
		Protocol: acct.Protocol.String(),
		Email:    acct.Email,
		Host:     acct.Host,
		Port:     acct.Port,
		Username: acct.Username,
		Password: acct.Password,
		UseTLS:   acct.UseTLS,
	}
}

func newPoller(t *testing.T, acct config.Account) (*Poller, *store.Mbox) {
	t.Helper()

	dir := t.TempDir()
	mb, err := store.NewMbox(dir)
	require.NoError(t, err)
	tr, err := dedup.NewTracker(filepath.Join(dir, acct.Key()+".seen"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(acct, reader.New(logger), mb, tr, logger), mb
}

func storedSubjects(t *testing.T, path string) []string {
	t.Helper()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer f.Close()

	var subjects []string
	r := mbox.NewReader(f)
	for {
		mr, err := r.NextMessage()
		if err == io.EOF {
			return subjects
		}
		require.NoError(t, err)
		raw, err := io.ReadAll(mr)
		require.NoError(t, err)
		msg, err := message.Parse(raw)
		require.NoError(t, err)
		subjects = append(subjects, msg.Subject)
	}
}

func TestPollSkipsStoredMessages(t *testing.T) {
	srv := mailtest.NewPOP3Server(t, false)
	srv.Add(mailtest.NewMessage("one"), mailtest.NewMessage("two"))

	p, mb := newPoller(t, configAccount("home", srv.Account()))
	ctx := context.Background()

	res, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Stored: 2}, res)

	srv.Add(mailtest.NewMessage("three"))
	res, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Stored: 1, Duplicates: 2}, res)

	assert.Equal(t, []string{"one", "two", "three"}, storedSubjects(t, mb.Path("home")))
	assert.Equal(t, []string{"one", "two", "three"}, srv.Subjects())
}

func TestPollAutoDeleteWithLimit(t *testing.T) {
	srv := mailtest.NewIMAPServer(t, false)
	srv.Append(t, "INBOX",
		mailtest.NewMessage("Subject for-1"),
		mailtest.NewMessage("Subject for-2"),
		mailtest.NewMessage("Subject for-3"),
	)

	acct := configAccount("work", srv.Account())
	acct.AutoDelete = true
	acct.FetchLimit = reader.LimitTo(2)
	p, mb := newPoller(t, acct)

	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Stored: 2}, res)

	assert.Equal(t, []string{"Subject for-1", "Subject for-2"}, storedSubjects(t, mb.Path("work")))
	assert.Equal(t, []string{"Subject for-3"}, srv.Subjects(t, "INBOX"))
}

func TestPollCountsLoadErrors(t *testing.T) {
	srv := mailtest.NewPOP3Server(t, false)
	srv.Add(mailtest.NewMessage("good"), mailtest.NewMessage("bad"))
	srv.FailRetrieve("bad")

	p, mb := newPoller(t, configAccount("home", srv.Account()))
	res, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Stored: 1, LoadErrors: 1}, res)
	assert.Equal(t, []string{"good"}, storedSubjects(t, mb.Path("home")))
}

func TestPollConnectionError(t *testing.T) {
	srv := mailtest.NewPOP3Server(t, false)
	acct := configAccount("home", srv.Account())
	acct.Password = "wrong"

	p, _ := newPoller(t, acct)
	_, err := p.Poll(context.Background())
	assert.ErrorContains(t, err, "poll home")
}

func TestWatch(t *testing.T) {
	srv := mailtest.NewPOP3Server(t, false)
	srv.Add(mailtest.NewMessage("watched"))

	acct := configAccount("home", srv.Account())
	acct.Schedule = "@every 1h"
	p, mb := newPoller(t, acct)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, []*Poller{p}, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	assert.Eventually(t, func() bool {
		return p.tracker.Count() == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.Equal(t, []string{"watched"}, storedSubjects(t, mb.Path("home")))
}

func TestWatchInvalidSchedule(t *testing.T) {
	acct := config.Account{Name: "broken", Protocol: "imap", Host: "h", Port: 1, Username: "u", Schedule: "not a schedule"}
	p, _ := newPoller(t, acct)

	err := Watch(context.Background(), []*Poller{p}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "schedule account broken")
}
