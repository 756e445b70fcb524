package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/aquaform/aquaform/pkg/backends/rest"
	"github.com/aquaform/aquaform/pkg/backends/sqldb"
	"github.com/aquaform/aquaform/pkg/config"
	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/policy"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
	"github.com/aquaform/aquaform/pkg/stores"
	"github.com/aquaform/aquaform/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// backend is what the commands need from an adapter: the engine contract
// plus statement rendering for plan output.
type backend interface {
	engine.Backend
	Statements(action *engine.Action) ([]string, error)
}

// app carries the resolved settings and telemetry of one command
// invocation for one backend family.
type app struct {
	kind     schema.Kind
	opts     *globalOptions
	settings *config.Settings
	tel      *telemetry.Telemetry
	logger   zerolog.Logger

	out io.Writer
	in  io.Reader
}

// newApp loads settings and starts telemetry. Close must be called.
func newApp(cmd *cobra.Command, opts *globalOptions, kind schema.Kind) (*app, error) {
	settings, err := config.LoadSettings(config.SettingsSource{
		File:    opts.settingsFile,
		EnvFile: opts.envFile,
	})
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		settings.Log.Level = opts.logLevel
	}

	tel, err := telemetry.NewTelemetry(settings.Telemetry(opts.build.Version))
	if err != nil {
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}

	return &app{
		kind:     kind,
		opts:     opts,
		settings: settings,
		tel:      tel,
		logger:   tel.Logger.With().Str("family", family(kind)).Logger(),
		out:      cmd.OutOrStdout(),
		in:       cmd.InOrStdin(),
	}, nil
}

// Close flushes telemetry.
func (a *app) Close(ctx context.Context) {
	if err := a.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

// statePath resolves the state file: --state, then settings, then the
// family default.
func (a *app) statePath() string {
	if a.opts.statePath != "" {
		return a.opts.statePath
	}
	return a.settings.StatePath(a.kind)
}

// openState locks the state file.
func (a *app) openState(mode state.Mode) (*state.Store, error) {
	store, err := state.Open(a.statePath(), mode)
	if err != nil {
		return nil, engine.WrapStateError(err)
	}
	return store, nil
}

// loadDocuments reads files, or the default documents of the working
// directory, and returns the tables this family manages. Connection hints
// in the documents fill unset settings.
func (a *app) loadDocuments(files []string) (*schema.Graph, []string, error) {
	if len(files) == 0 {
		found, err := config.DefaultFiles(".")
		if err != nil {
			return nil, nil, err
		}
		if len(found) == 0 {
			return nil, nil, fmt.Errorf("no documents found; pass -c or create aqua.<name>.yaml")
		}
		files = found
	}

	loader, err := config.NewLoader()
	if err != nil {
		return nil, nil, err
	}
	result, err := loader.Load(files...)
	if err != nil {
		return nil, nil, err
	}
	a.settings.ApplyHints(result.Connection)

	graph := result.Graph.Filter(a.kind)
	if skipped := result.Graph.Len() - graph.Len(); skipped > 0 {
		a.logger.Debug().Int("skipped", skipped).Msg("Ignoring tables of the other family")
	}
	a.logger.Debug().Strs("files", result.Files).Int("tables", graph.Len()).Msg("Documents loaded")
	return graph, result.Files, nil
}

// capabilities reports what the configured backend can express without
// connecting to it.
func (a *app) capabilities() (engine.Capabilities, error) {
	if a.kind == schema.KindRESTTable {
		return rest.DefaultCapabilities(), nil
	}
	d, err := sqldb.DialectFor(a.settings.SQL.Dialect)
	if err != nil {
		return engine.Capabilities{}, err
	}
	return d.Capabilities(), nil
}

// previewer renders statements without connecting.
func (a *app) previewer() func(*engine.Action) ([]string, error) {
	if a.kind == schema.KindRESTTable {
		return rest.Preview
	}
	d, err := sqldb.DialectFor(a.settings.SQL.Dialect)
	if err != nil {
		return nil
	}
	return func(action *engine.Action) ([]string, error) {
		return sqldb.Statements(d, action)
	}
}

func (a *app) planner() (*engine.Planner, error) {
	caps, err := a.capabilities()
	if err != nil {
		return nil, err
	}
	return engine.NewPlanner(a.kind, caps, a.logger), nil
}

// openBackend connects to the configured backend.
func (a *app) openBackend(ctx context.Context) (backend, error) {
	if err := a.settings.ValidateBackend(a.kind); err != nil {
		return nil, err
	}
	if a.kind == schema.KindRESTTable {
		client, err := rest.New(a.settings.REST, a.logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	adapter, err := sqldb.Open(ctx, a.settings.SQL, a.logger)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// openHistory opens the run history, or returns nil when it is disabled.
func (a *app) openHistory(ctx context.Context) (*stores.SQLiteStore, error) {
	if !a.settings.History.Enabled {
		return nil, nil
	}
	return stores.Open(ctx, stores.Config{Path: a.settings.History.Path}, a.logger)
}

// policyEngine loads the built-in policies plus those named in settings
// and on the command line.
func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	eng, err := policy.NewEngine(a.logger, policy.WithEnvironment(a.settings.Environment))
	if err != nil {
		return nil, err
	}
	paths := append(append([]string{}, a.settings.Policy.Paths...), a.opts.policyPaths...)
	if len(paths) > 0 {
		if err := eng.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return eng, nil
}
