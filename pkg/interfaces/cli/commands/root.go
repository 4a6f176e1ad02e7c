// Package commands wires the affect CLI: each command opens the configured
// SQLite store and runs one engine operation through the ledger.
package commands

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vsinha/affect/pkg/application/services/budget"
	"github.com/vsinha/affect/pkg/application/services/hierarchy"
	"github.com/vsinha/affect/pkg/application/services/ledger"
	"github.com/vsinha/affect/pkg/application/services/shared"
	"github.com/vsinha/affect/pkg/application/services/staging"
	"github.com/vsinha/affect/pkg/config"
	"github.com/vsinha/affect/pkg/infrastructure/events"
	"github.com/vsinha/affect/pkg/infrastructure/logging"
	"github.com/vsinha/affect/pkg/infrastructure/repositories/sqlite"
	"github.com/vsinha/affect/pkg/interfaces/cli/output"
)

// Options holds the persistent flags shared by every command
type Options struct {
	ConfigPath string
	DBPath     string
	Format     string
	Verbose    bool
}

// DefaultConfigPath is where the config file is read from when --config is not set
func DefaultConfigPath() string {
	return filepath.Join(config.DataDir(), "affect.toml")
}

// NewRootCommand builds the affect command tree
func NewRootCommand() *cobra.Command {
	opts := &Options{}
	root := &cobra.Command{
		Use:   "affect",
		Short: "Hierarchical allocation and budget reservation engine",
		Long: "Allocate positions to phases, claim phase allocations into launches, " +
			"and reserve category budgets for purchase orders, work orders and other sections.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath(), "Config file (TOML)")
	root.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (overrides config)")
	root.PersistentFlags().StringVarP(&opts.Format, "format", "f", output.FormatText, "Output format: text, json, csv")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log every edge change")

	root.AddCommand(
		newSeedCommand(opts),
		newLinkCommand(opts),
		newWriteCommand(opts),
		newToggleCommand(opts),
		newDeleteCommand(opts),
		newStateCommand(opts),
		newMatrixCommand(opts),
		newReserveCommand(opts),
		newGroupCommand(opts),
	)
	return root
}

// app is the engine assembled for one command invocation
type app struct {
	cfg       config.Config
	log       *logrus.Logger
	store     *sqlite.Store
	ledger    *ledger.Ledger
	hierarchy *hierarchy.Service
	staging   *staging.Service
	budget    *budget.Service
	out       output.Config
}

func (o *Options) open(cmd *cobra.Command) (*app, error) {
	out := output.Config{Format: o.Format, Writer: cmd.OutOrStdout()}
	if err := out.Validate(); err != nil {
		return nil, err
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if o.DBPath != "" {
		cfg.Database.Path = o.DBPath
	}

	log, err := logging.NewWithOutput(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if o.Verbose && log.GetLevel() < logrus.DebugLevel {
		log.SetLevel(logrus.DebugLevel)
	}

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ledgerConfig := ledger.Config{Logger: log, Registry: shared.NewRegistry()}
	if o.Verbose {
		ledgerConfig.Events = edgeLog(log)
	}
	l := ledger.NewLedgerWithConfig(store, ledgerConfig)

	return &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		ledger:    l,
		hierarchy: hierarchy.NewService(l),
		staging:   staging.NewService(l),
		budget:    budget.NewService(l, budget.Config{Logger: log, Precision: cfg.Budget.Precision}),
		out:       out,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// edgeLog returns an event store that logs every committed edge change
func edgeLog(log logrus.FieldLogger) events.EventStore {
	store := events.NewInMemoryEventStore()
	_ = store.Subscribe(events.AllEdgeEvents, &events.HandlerFunc{
		Fn: func(e events.Event) error {
			fields := logrus.Fields{"event": e.Type(), "stream": e.StreamID()}
			switch data := e.Data().(type) {
			case events.EdgeCreated:
				fields["edge"] = data.Edge.ID
				fields["quantity"] = data.Edge.Quantity.String()
			case events.EdgeUpdated:
				fields["edge"] = data.Edge.ID
				fields["quantity"] = data.Edge.Quantity.String()
				fields["old_quantity"] = data.OldQuantity.String()
				fields["affected"] = data.Edge.Affected
			case events.EdgeDeleted:
				fields["edge"] = data.Edge.ID
			}
			log.WithFields(fields).Info("edge changed")
			return nil
		},
	})
	return store
}

// run opens the app, runs fn and closes the store
func (o *Options) run(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.log.WithError(err).Warn("closing store")
		}
	}()
	return fn(a)
}
