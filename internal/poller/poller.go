// Package poller loads one account's messages into the mbox store, once or
// on a cron schedule.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/tracyhatemice/mailreader/internal/account"
	"github.com/tracyhatemice/mailreader/internal/config"
	"github.com/tracyhatemice/mailreader/internal/dedup"
	"github.com/tracyhatemice/mailreader/internal/message"
	"github.com/tracyhatemice/mailreader/internal/reader"
	"github.com/tracyhatemice/mailreader/internal/store"
)

// Poller stores new messages from one account.
type Poller struct {
	account config.Account
	reader  *reader.Reader
	store   *store.Mbox
	tracker *dedup.Tracker
	logger  *slog.Logger
}

// Result counts what happened in one poll.
type Result struct {
	Stored       int
	Duplicates   int
	StoreErrors  int
	LoadErrors   int
	DeleteErrors int
}

// New creates a Poller for the given account.
func New(
	acct config.Account,
	r *reader.Reader,
	mbox *store.Mbox,
	tracker *dedup.Tracker,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		account: acct,
		reader:  r,
		store:   mbox,
		tracker: tracker,
		logger:  logger.With("account", acct.Name),
	}
}

// Name returns the configured account name.
func (p *Poller) Name() string {
	return p.account.Name
}

// Poll runs one fetch against the server.
func (p *Poller) Poll(ctx context.Context) (Result, error) {
	var res Result

	req, err := p.account.Request()
	if err != nil {
		return res, err
	}

	p.logger.Debug("polling", "protocol", p.account.Protocol, "host", p.account.Host)

	err = p.reader.LoadFromServer(ctx, req, reader.Handler{
		OnMessageLoaded: func(_ *account.Account, msg *message.Message) {
			p.keep(msg, &res)
		},
		OnLoadError: func(_ *account.Account, _ string, _ error) {
			res.LoadErrors++
		},
		OnDeleteError: func(_ *account.Account, _ string, _ error) {
			res.DeleteErrors++
		},
	})
	if err != nil {
		return res, fmt.Errorf("poll %s: %w", p.account.Name, err)
	}
	return res, nil
}

func (p *Poller) keep(msg *message.Message, res *Result) {
	if p.tracker.Seen(msg.MessageID) {
		res.Duplicates++
		p.logger.Debug("already stored", "msg_id", msg.MessageID)
		return
	}

	if err := p.store.Append(p.account.Key(), msg); err != nil {
		res.StoreErrors++
		p.logger.Error("store failed", "msg_id", msg.MessageID, "error", err)
		return
	}

	if err := p.tracker.MarkSeen(msg.MessageID); err != nil {
		p.logger.Error("mark seen failed", "msg_id", msg.MessageID, "error", err)
	}

	res.Stored++
	p.logger.Info("stored",
		"msg_id", msg.MessageID,
		"from", msg.Sender(),
		"subject", msg.Subject,
	)
}

func (p *Poller) run(ctx context.Context) {
	res, err := p.Poll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.Debug("poll cancelled", "error", err)
			return
		}
		p.logger.Error("poll failed", "error", err)
		return
	}
	if res.Stored == 0 {
		p.logger.Debug("no new emails", "duplicates", res.Duplicates)
		return
	}
	p.logger.Info(fmt.Sprintf("stored %d new email(s)", res.Stored),
		"duplicates", res.Duplicates,
		"load_errors", res.LoadErrors,
		"store_errors", res.StoreErrors,
	)
}

// Watch polls every account immediately and then on its schedule until ctx
// is cancelled. A poll still running when its next tick fires is skipped.
func Watch(ctx context.Context, pollers []*Poller, logger *slog.Logger) error {
	cl := cronLogger{logger: logger}
	c := cron.New(cron.WithLogger(cl))

	jobs := make([]cron.Job, 0, len(pollers))
	for _, p := range pollers {
		p := p
		job := cron.NewChain(cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() { p.run(ctx) }))
		spec := p.account.CronSpec()
		if _, err := c.AddJob(spec, job); err != nil {
			return fmt.Errorf("schedule account %s (%q): %w", p.account.Name, spec, err)
		}
		logger.Info("watching",
			"account", p.account.Name,
			"protocol", p.account.Protocol,
			"host", p.account.Host,
			"schedule", spec,
		)
		jobs = append(jobs, job)
	}

	c.Start()
	var wg sync.WaitGroup
	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			job.Run()
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down, waiting for polls to finish...")
	<-c.Stop().Done()
	wg.Wait()
	return nil
}

// cronLogger routes cron's logging to slog. Routine scheduler messages are
// debug level.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
