package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/kinrule/internal/compiler"
	"github.com/roach88/kinrule/internal/engine"
	"github.com/roach88/kinrule/internal/webhook"
)

// DefaultAddr is the listen address when neither --addr nor KINRULE_ADDR is set.
const DefaultAddr = ":8080"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	UpdaterOptions
	Addr            string
	Database        string
	WebhookToken    string
	Watch           bool
	ShutdownTimeout time.Duration

	// ReloadDebounce overrides DefaultReloadDebounce (tests).
	ReloadDebounce time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <rules-dir>",
		Short: "Serve the rules over HTTP",
		Long: `Start the rule engine and its HTTP surface.

Endpoints:
  GET  /healthz   liveness
  POST /events    one event envelope, answered with the derived fields
  POST /webhook   kintone record webhooks (ADD_RECORD, UPDATE_RECORD)

Events are processed one at a time by a single engine loop. With --watch
the rules are recompiled whenever a .cue file in the directory changes;
a broken edit keeps the previous rules active.

Examples:
  kinrule serve ./rules --addr :8080 --db ./kinrule.db
  KINRULE_BASE_URL=https://example.cybozu.com KINRULE_API_TOKEN=... kinrule serve ./rules --watch`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	addUpdaterFlags(cmd, &opts.UpdaterOptions)
	cmd.Flags().StringVar(&opts.Addr, "addr", envOr(EnvAddr, DefaultAddr), "listen address (env "+EnvAddr+")")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite audit database (optional)")
	cmd.Flags().StringVar(&opts.WebhookToken, "webhook-token", envOr(EnvWebhookToken, ""), "shared secret required in "+webhook.HeaderToken+" (env "+EnvWebhookToken+")")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload rules when .cue files change")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests")

	return cmd
}

func runServe(opts *ServeOptions, rulesDir string, cmd *cobra.Command) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	slog.SetDefault(logger)

	logger.Info("loading rules", "dir", rulesDir)
	set, err := compiler.LoadRuleSet(rulesDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load rules", err)
	}
	logger.Info("rules loaded", "rules", len(set))

	updater, err := opts.Updater()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid kintone configuration", err)
	}
	if updater == nil {
		logger.Warn("no base url configured, remote updates are dry runs")
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if opts.Database != "" {
		st, clock, err := openAudit(ctx, opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		logger.Info("audit store ready", "path", opts.Database, "last_seq", clock.Current())
		engineOpts = append(engineOpts, engine.WithRecorder(st), engine.WithClock(clock))
	}

	eng := engine.New(set, updater, engineOpts...)
	srv := webhook.NewServer(eng, webhook.WithToken(opts.WebhookToken), webhook.WithLogger(logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		cfg := webhook.Config{Addr: opts.Addr, ShutdownTimeout: opts.ShutdownTimeout}
		if err := webhook.Run(gctx, logger, cfg, srv.Handler()); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if opts.Watch {
		debounce := opts.ReloadDebounce
		if debounce <= 0 {
			debounce = DefaultReloadDebounce
		}
		g.Go(func() error {
			return watchRules(gctx, logger, rulesDir, eng, debounce)
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "kinrule serving %d rule(s) on %s\n", len(set), opts.Addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("kinrule stopped")
	return nil
}
