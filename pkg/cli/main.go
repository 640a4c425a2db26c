package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bdlab/biblioteca/pkg/catalog"
	"github.com/bdlab/biblioteca/pkg/config"
	"github.com/bdlab/biblioteca/pkg/health"
	"github.com/bdlab/biblioteca/pkg/observability/logger"
	"github.com/bdlab/biblioteca/pkg/observability/metrics"
	"github.com/bdlab/biblioteca/pkg/observability/tracing"
	"github.com/bdlab/biblioteca/pkg/store/mongodb"
	"github.com/bdlab/biblioteca/pkg/store/postgres"
	"github.com/bdlab/biblioteca/pkg/txdemo"
	"github.com/bdlab/biblioteca/pkg/version"
)

const shutdownTimeout = 10 * time.Second

// Session is the relational session the demo, authors and healthcheck commands use.
type Session interface {
	txdemo.Session
	health.Checkable
}

// SessionOpener opens the relational session.
type SessionOpener func(ctx context.Context, cfg config.PostgresConfig, log logger.Logger) (Session, error)

// DocumentStore is the document database the catalog commands work on.
type DocumentStore interface {
	catalog.SchemaStore
	health.Checkable
	Close() error
}

// DocumentStoreOpener connects to the document database.
type DocumentStoreOpener func(ctx context.Context, cfg config.MongoConfig, log logger.Logger) (DocumentStore, error)

// Options configures the command tree.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: replaces the PostgreSQL session opener (tests).
	OpenSession SessionOpener
	// Optional: replaces the MongoDB opener (tests).
	OpenDocumentStore DocumentStoreOpener
}

type app struct {
	opts       Options
	cfgPath    string
	secretFile string
}

// NewCommand creates the biblioteca CLI: demo (the default), authors, catalog,
// healthcheck, config and version.
func NewCommand(opts Options) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "biblioteca"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}
	if opts.OpenSession == nil {
		opts.OpenSession = OpenPostgresSession
	}
	if opts.OpenDocumentStore == nil {
		opts.OpenDocumentStore = OpenMongoStore
	}

	a := &app{opts: opts}
	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&a.cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&a.secretFile, "secret-file", "", "path to secrets file (overrides "+opts.EnvPrefix+"_SECRETS_FILE)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	demoCmd := newDemoCommand(a)
	rootCmd.AddCommand(
		demoCmd,
		newAuthorsCommand(a),
		newCatalogCommand(a),
		newHealthcheckCommand(a),
		newConfigCommand(a),
		newVersionCommand(a),
	)
	rootCmd.RunE = demoCmd.RunE

	return rootCmd
}

// Execute runs the command until it finishes or the process is interrupted and
// exits with a non-zero code on failure.
func Execute(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// LoadConfigAndLogger loads the configuration (with the secrets file view used
// for redaction) and builds the logger writing to logOutput.
func LoadConfigAndLogger(
	cfgPath,
	envPrefix,
	secretFilePath string,
	flags *pflag.FlagSet,
	logOutput io.Writer,
) (*config.Config, *config.Config, logger.Logger, error) {
	loader := config.NewViperLoader(cfgPath, envPrefix).
		WithSecretsFile(secretFilePath).
		WithFlags(flags)
	cfg, secrets, err := loader.LoadWithSecrets()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:   logger.LogLevel(cfg.Observability.LogLevel),
		Format:  logger.LogFormat(cfg.Observability.LogFormat),
		Service: cfg.Service.Name,
		Output:  logOutput,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}

	logConfigIfDebug(log, cfg, secrets)
	return cfg, secrets, log, nil
}

func logConfigIfDebug(log logger.Logger, cfg, secrets *config.Config) {
	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}
	log.Debug("effective configuration", "config", fmt.Sprintf("%+v", *cfg.Redacted(secrets)))
}

// environment is what a command needs once configuration is loaded.
type environment struct {
	cfg       *config.Config
	secrets   *config.Config
	log       logger.Logger
	registry  *metrics.Registry
	txMetrics *metrics.TransactionMetrics
	tracer    *tracing.TracerProvider
}

// run loads the environment, runs fn and tears the environment down, writing
// the metrics textfile when one is configured.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, env *environment) error) (err error) {
	cfg, secrets, log, err := LoadConfigAndLogger(a.cfgPath, a.opts.EnvPrefix, a.secretFile, cmd.Flags(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry()
	txMetrics, err := metrics.NewTransactionMetrics(registry)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tracer, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("create tracer provider: %w", err)
	}

	env := &environment{
		cfg:       cfg,
		secrets:   secrets,
		log:       log,
		registry:  registry,
		txMetrics: txMetrics,
		tracer:    tracer,
	}
	defer func() {
		err = errors.Join(err, env.close())
	}()

	return fn(ctx, env)
}

func (e *environment) close() error {
	var errs []error
	if path := e.cfg.Observability.MetricsTextfile; path != "" {
		if err := e.registry.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		} else {
			e.log.Debug("metrics written", "path", path)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *environment) runnerOptions() txdemo.Options {
	return txdemo.Options{
		Table:    e.cfg.Demo.Table,
		Logger:   e.log,
		Metrics:  e.txMetrics,
		Schema:   e.cfg.Postgres.Schema,
		Database: e.cfg.Postgres.Database,
	}
}

// PostgresSessionConfig maps the loaded configuration onto the session settings.
func PostgresSessionConfig(cfg config.PostgresConfig) postgres.Config {
	return postgres.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		Password:       cfg.Password,
		Database:       cfg.Database,
		Schema:         cfg.Schema,
		SSLMode:        cfg.SSLMode,
		ConnectTimeout: cfg.ConnectTimeout,
	}
}

// OpenPostgresSession is the default SessionOpener.
func OpenPostgresSession(ctx context.Context, cfg config.PostgresConfig, log logger.Logger) (Session, error) {
	session, err := postgres.OpenSession(ctx, PostgresSessionConfig(cfg), log)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// OpenMongoStore is the default DocumentStoreOpener.
func OpenMongoStore(ctx context.Context, cfg config.MongoConfig, log logger.Logger) (DocumentStore, error) {
	adapter, err := mongodb.NewAdapter(ctx, mongodb.Config{
		URL:              cfg.URL,
		Database:         cfg.Database,
		ConnectTimeout:   cfg.ConnectTimeout,
		OperationTimeout: cfg.OperationTimeout,
	}, log)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}
