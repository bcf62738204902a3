package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mmynk/tally/internal/config"
	"github.com/mmynk/tally/internal/events"
	"github.com/mmynk/tally/internal/ledger"
	"github.com/mmynk/tally/internal/storage"
	"github.com/mmynk/tally/internal/storage/sqlite"
	"github.com/mmynk/tally/pkg/logging"
)

const closeTimeout = 10 * time.Second

// app carries the state shared by every command of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  *slog.Logger

	// clock overrides the ledger clock, for tests.
	clock func() time.Time
	reg   *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	return newApp().rootCmd()
}

func newApp() *app {
	return &app{v: viper.New()}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tally",
		Short: "Local ledger for subscriptions and shared expenses",
		Long: `tally tracks recurring subscriptions, the people you share costs with,
and group expenses, and keeps everyone's balance in step.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.initConfig,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: $HOME/.config/tally/config.yaml)")
	flags.String("db", "", "database path (default: ~/.local/share/tally/tally.db)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("strict", false, "abort on balance consistency violations")

	_ = a.v.BindPFlag(config.KeyDBPath, flags.Lookup("db"))
	_ = a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyStrict, flags.Lookup("strict"))

	root.AddCommand(a.statusCmd())
	root.AddCommand(a.personCmd())
	root.AddCommand(a.balanceCmd())
	root.AddCommand(a.groupCmd())
	root.AddCommand(a.expenseCmd())
	root.AddCommand(a.settleCmd())
	root.AddCommand(a.subscriptionCmd())
	root.AddCommand(a.renewalsCmd())
	root.AddCommand(a.monthlyTotalCmd())
	root.AddCommand(a.pricesCmd())
	root.AddCommand(a.refreshCmd())

	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) initConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.logger = logging.Setup(level)
	return nil
}

// withLedger opens the ledger, runs fn, then waits for changes to be saved
// and closes the ledger.
func (a *app) withLedger(cmd *cobra.Command, fn func(ctx context.Context, l *ledger.Store) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	persistent := storage.Open(ctx, storage.OpenConfig{
		Path:   a.cfg.DBPath,
		Opener: sqlite.Opener,
		Logger: a.logger,
	})
	a.logger.Debug("Storage initialized", "database", a.cfg.DBPath, "mode", persistent.Status().Mode)
	if !persistent.Durable() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: changes will not be saved (%v)\n", persistent.Status().Err)
	}

	a.reg = prometheus.NewRegistry()
	opts := []ledger.Option{
		ledger.WithLogger(a.logger),
		ledger.WithMetrics(ledger.NewMetrics(a.reg)),
		ledger.WithStrictConsistency(a.cfg.Strict),
		ledger.WithPriceAlertDays(a.cfg.PriceAlertDays),
	}
	if a.clock != nil {
		opts = append(opts, ledger.WithClock(a.clock))
	}
	bus := events.NewBus()
	defer bus.Close()
	l := ledger.New(persistent, bus, opts...)

	runErr := fn(ctx, l)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := l.Close(closeCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
