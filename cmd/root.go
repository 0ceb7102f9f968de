package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/agentic-research/arbor/api"
	"github.com/agentic-research/arbor/internal/resource"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultDBPath = "arbor.db"

// app holds what the persistent flags resolve to for one invocation.
type app struct {
	configPath string
	dbPath     string
	verbose    bool

	log     zerolog.Logger
	res     *resource.Manager
	metrics *resource.Metrics
}

// newRootCmd builds the arbor command tree. The resource it opens stays
// open until a.close.
func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "arbor",
		Short:         "Revisioned document trees with a path summary and temporal queries",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to an HCL config file")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database path (overrides the config store)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(
		newImportCmd(a),
		newPathsCmd(a),
		newHistoryCmd(a),
		newStatsCmd(a),
	)
	return root, a
}

func (a *app) config() (api.Config, error) {
	cfg := resource.DefaultConfig()
	cfg.Store = api.Store{Backend: resource.BackendSQLite, Path: defaultDBPath}
	if a.configPath != "" {
		var err error
		if cfg, err = resource.LoadConfig(a.configPath); err != nil {
			return api.Config{}, err
		}
	}
	if a.dbPath != "" {
		cfg.Store = api.Store{Backend: resource.BackendSQLite, Path: a.dbPath}
	}
	return cfg, nil
}

func (a *app) open(stderr io.Writer) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	level, err := zerolog.ParseLevel(cfg.Resource.LogLevel)
	if err != nil || cfg.Resource.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if a.verbose {
		level = zerolog.DebugLevel
	}
	a.log = zerolog.New(zerolog.ConsoleWriter{Out: stderr}).Level(level).With().Timestamp().Logger()

	opts := []resource.Option{resource.WithLogger(a.log)}
	if cfg.Resource.Metrics {
		a.metrics = resource.NewMetrics(prometheus.NewRegistry())
		opts = append(opts, resource.WithMetrics(a.metrics))
	}
	if a.res, err = resource.Open(cfg, opts...); err != nil {
		return fmt.Errorf("open resource: %w", err)
	}
	return nil
}

func (a *app) close() error {
	if a.res == nil {
		return nil
	}
	if a.metrics != nil {
		ev := a.log.Info()
		for name, v := range a.metrics.Summary() {
			ev = ev.Float64(name, v)
		}
		ev.Msg("metrics")
	}
	err := a.res.Close()
	a.res = nil
	return err
}

// Execute runs the root command.
func Execute() {
	root, a := newRootCmd()
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
