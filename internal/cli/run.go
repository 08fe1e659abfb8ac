package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yamada-sexta/touitomamout-next/internal/config"
	"github.com/yamada-sexta/touitomamout-next/internal/engine"
	"github.com/yamada-sexta/touitomamout-next/internal/feed"
	"github.com/yamada-sexta/touitomamout-next/internal/httpclient"
	"github.com/yamada-sexta/touitomamout-next/internal/media"
	"github.com/yamada-sexta/touitomamout-next/internal/platform"
	"github.com/yamada-sexta/touitomamout-next/internal/platform/bluesky"
	"github.com/yamada-sexta/touitomamout-next/internal/platform/mastodon"
	"github.com/yamada-sexta/touitomamout-next/internal/platform/misskey"
	"github.com/yamada-sexta/touitomamout-next/internal/platform/natsbus"
	"github.com/yamada-sexta/touitomamout-next/internal/platform/webhook"
	"github.com/yamada-sexta/touitomamout-next/internal/profile"
	"github.com/yamada-sexta/touitomamout-next/internal/store"
	"github.com/yamada-sexta/touitomamout-next/internal/telemetry"
)

// Factories lists every supported destination platform.
func Factories() []platform.Factory {
	return []platform.Factory{
		bluesky.Factory(),
		mastodon.Factory(),
		misskey.Factory(),
		webhook.Factory(),
		natsbus.Factory(),
	}
}

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Once     bool

	// Factories overrides the platform set (for testing).
	Factories []platform.Factory
	// RunIDs overrides the run id generator (for testing).
	RunIDs engine.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [env-file]",
		Short: "Sync profiles and posts",
		Long: `Sync every configured source account to its destination platforms.

Configuration comes from the environment and an optional dotenv file, given
either as the argument or with --env-file. With DAEMON=true (the default) the
sync repeats every SYNC_FREQUENCY_MIN minutes until interrupted.

Example:
  touitomamout run
  touitomamout run ./prod.env --once
  touitomamout run --db /var/lib/touitomamout/data.sqlite`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.EnvFile = args[0]
			}
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (overrides DATABASE_PATH)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single cycle even when DAEMON is set")

	return cmd
}

func runSync(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	logger, logCloser := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, finishing current post", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	shutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint, "touitomamout", Version)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start tracing", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.DatabasePath
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("error closing database", "error", err)
		}
	}()

	factories := opts.Factories
	if factories == nil {
		factories = Factories()
	}
	hc := httpclient.New()

	var (
		accounts []engine.Account
		regs     []*platform.Registry
	)
	defer func() {
		for _, reg := range regs {
			if err := reg.Close(); err != nil {
				logger.Warn("closing platforms failed", "error", err)
			}
		}
	}()
	for _, h := range cfg.Handles {
		reg, skipped := platform.Build(ctx, factories, h.Slot, cfg.Lookup, platform.CreateArgs{
			Handle:   h.Handle,
			Log:      logger.With("account", h.Handle),
			HTTP:     hc,
			Sessions: st,
		})
		regs = append(regs, reg)

		if reg.Len() == 0 {
			logger.Warn("no platform configured for account, skipping", "account", h.Handle, "key", h.Key, "skipped", len(skipped))
			continue
		}
		accounts = append(accounts, engine.Account{Handle: h.Handle, Slot: h.Slot, Registry: reg})
	}
	if len(accounts) == 0 {
		return NewExitError(ExitCommandError, "no account has a configured platform")
	}

	fetch := media.HTTPFetcher(hc)
	source := feed.NewHTTPSource(cfg.FeedURL, feed.WithToken(cfg.FeedToken), feed.WithHTTPClient(hc))

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithFetcher(fetch),
		engine.WithMaxConsecutiveCached(cfg.MaxConsecutiveCached),
		engine.WithFeedLimits(cfg.FeedInitialLimit, cfg.FeedIncrementalLimit),
		engine.WithForceResync(cfg.ForceSyncPosts),
		engine.WithForceRepost(cfg.ForceRepost),
		engine.WithParallelDispatch(cfg.ParallelDispatch),
		engine.WithProfileSync(cfg.ProfileCaps()),
		engine.WithPostSync(cfg.SyncPosts),
	}
	if opts.RunIDs != nil {
		engineOpts = append(engineOpts, engine.WithRunIDs(opts.RunIDs))
	}
	eng := engine.New(st, source, profile.New(st, fetch, logger), engineOpts...)

	var interval time.Duration
	if cfg.Daemon && !opts.Once {
		interval = cfg.SyncFrequency()
	}
	logger.Info("sync starting", "db", dbPath, "accounts", len(accounts), "interval", interval)

	if err := eng.Run(ctx, accounts, interval); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "sync finished with errors", err)
	}
	logger.Info("sync stopped")
	return nil
}
