package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tracyhatemice/mailreader/internal/config"
	"github.com/tracyhatemice/mailreader/internal/dedup"
	"github.com/tracyhatemice/mailreader/internal/poller"
	"github.com/tracyhatemice/mailreader/internal/reader"
	"github.com/tracyhatemice/mailreader/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "mailreader",
		Usage: "read mail from IMAP and POP3 accounts into mbox files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "path to configuration file",
				EnvVars: []string{"MAILREADER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "directory for mbox files and dedup state (overrides output_dir)",
				EnvVars: []string{"MAILREADER_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Value: ".env",
				Usage: "dotenv file with account credentials",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "fetch",
				Usage:  "fetch every account once",
				Action: fetch,
			},
			{
				Name:   "watch",
				Usage:  "poll every account on its schedule until interrupted",
				Action: watch,
			},
		},
	}
}

func fetch(c *cli.Context) error {
	pollers, _, err := setup(c)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range pollers {
		res, err := p.Poll(c.Context)
		if err != nil {
			errs = append(errs, err)
			fmt.Fprintf(c.App.Writer, "%s: failed: %v\n", p.Name(), err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s: stored %d, duplicates %d, load errors %d, delete errors %d, store errors %d\n",
			p.Name(), res.Stored, res.Duplicates, res.LoadErrors, res.DeleteErrors, res.StoreErrors)
	}
	return errors.Join(errs...)
}

func watch(c *cli.Context) error {
	pollers, logger, err := setup(c)
	if err != nil {
		return err
	}

	// Force exit on second signal.
	go func() {
		<-c.Context.Done()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	err = poller.Watch(c.Context, pollers, logger)
	logger.Info("mailreader stopped")
	return err
}

func setup(c *cli.Context) ([]*poller.Poller, *slog.Logger, error) {
	if err := config.LoadEnvFile(c.String("env-file")); err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	logger := setupLogger(c.App.ErrWriter, cfg.LogLevel)
	logger.Info("mailreader starting", "accounts", len(cfg.Accounts))

	dataDir := cfg.OutputDir
	if d := c.String("data-dir"); d != "" {
		dataDir = d
	}
	mbox, err := store.NewMbox(dataDir)
	if err != nil {
		return nil, nil, err
	}

	r := reader.New(logger)
	pollers := make([]*poller.Poller, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		tracker, err := dedup.NewTracker(filepath.Join(dataDir, acct.Key()+".seen"))
		if err != nil {
			return nil, nil, fmt.Errorf("account %s: %w", acct.Name, err)
		}
		logger.Info("loaded dedup state", "account", acct.Name, "seen_count", tracker.Count())
		pollers = append(pollers, poller.New(acct, r, mbox, tracker, logger))
	}
	return pollers, logger, nil
}

func setupLogger(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
