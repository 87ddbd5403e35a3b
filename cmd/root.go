package cmd

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"parcelhub/internal/config"
	"parcelhub/internal/locator"
	"parcelhub/internal/observability"
	"parcelhub/internal/pipeline"
	"parcelhub/internal/run"
	"parcelhub/internal/transform"
	"parcelhub/internal/ui"
	"parcelhub/internal/warehouse"
	"parcelhub/pkg/errors"
)

// errRunFailed signals a completed run with failed results; the summary has
// already been printed.
var errRunFailed = stderrors.New("run finished with failures")

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	envFile    string
	configFile string
	noColor    bool
}

// flagKeys maps persistent flags onto the configuration keys they override
var flagKeys = map[string]string{
	"log-level":  config.KeyLogLevel,
	"log-format": config.KeyLogFormat,
}

type runOptions struct {
	mode     string
	date     string
	failFast bool
}

// connectGateway opens the warehouse session; tests replace it
var connectGateway = func(ctx context.Context, creds warehouse.Credentials, opts warehouse.Options) (warehouse.Gateway, error) {
	return warehouse.Connect(ctx, creds, opts)
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	global := &globalOptions{}
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "parcelhub",
		Short: "Load parcel tracking files into the warehouse and build its models",
		Long: `ParcelHub runs the daily parcel tracking ETL in two stages:

  ingest     load parcels, events, routes and hubs files into staging tables
  transform  run the SQL transformation catalog against the staged data

Without --processing_date every date found in the data directory is processed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if global.noColor {
				ui.DisableColor()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, global, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&global.envFile, "env-file", "", "dotenv file exported before configuration is read")
	pf.StringVar(&global.configFile, "config", "", "YAML configuration file")
	pf.String("log-level", "", "log level: debug, info, warn or error (overrides PARCELHUB_LOG_LEVEL)")
	pf.String("log-format", "", "log format: json or text (overrides PARCELHUB_LOG_FORMAT)")
	pf.BoolVar(&global.noColor, "no-color", false, "disable coloured output")

	f := cmd.Flags()
	f.StringVar(&opts.mode, "run", string(run.ModeAll), "stages to run: ingest, transform or all")
	f.StringVar(&opts.date, "processing_date", "", "process a single date (YYYY-MM-DD)")
	f.BoolVar(&opts.failFast, "fail-fast", false, "skip a date's remaining datasets after the first ingestion failure")

	cmd.AddCommand(
		newDatesCmd(global),
		newCatalogCmd(global),
		newCheckCmd(global),
		newEncryptPasswordCmd(),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command tree and exits non-zero on any failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints structured errors in full and anything else, such as
// flag parsing failures, on one line
func reportError(w io.Writer, err error) {
	var appErr *errors.AppError
	switch {
	case stderrors.Is(err, errRunFailed), stderrors.Is(err, errCheckFailed):
	case errors.As(err, &appErr):
		errors.Display(w, err)
	default:
		ui.ShowError(w, err)
	}
}

// environment is the resolved configuration plus the logger built from it
type environment struct {
	cfg    *config.Config
	logger *observability.Logger
}

func loadEnvironment(cmd *cobra.Command, global *globalOptions) (*environment, error) {
	if global.envFile != "" {
		if err := config.LoadEnvFile(global.envFile); err != nil {
			return nil, err
		}
	}
	v, err := config.NewViper(global.configFile)
	if err != nil {
		return nil, err
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			v.Set(key, f.Value.String())
		}
	})

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:   observability.LogLevelFromString(cfg.LogLevel),
		Output:  cmd.ErrOrStderr(),
		Service: "parcelhub",
		Version: Version,
		Encoder: observability.EncoderFromString(cfg.LogFormat),
	})
	observability.SetDefaultLogger(logger)
	return &environment{cfg: cfg, logger: logger}, nil
}

func (e *environment) source(ctx context.Context) (locator.Source, error) {
	return locator.NewSource(ctx, e.cfg.DataDir, locator.S3Options{
		Region:    e.cfg.S3Region,
		Endpoint:  e.cfg.S3Endpoint,
		AccessKey: e.cfg.S3AccessKey,
		SecretKey: e.cfg.S3SecretKey,
	})
}

func (e *environment) connect(ctx context.Context) (warehouse.Gateway, error) {
	creds, err := config.NewSecureLoader(e.cfg.Project, e.logger).Load(e.cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	return connectGateway(ctx, creds, warehouse.Options{
		MaxRetries:   uint64(e.cfg.MaxRetries),
		QueryTimeout: e.cfg.QueryTimeout,
		BatchSize:    e.cfg.BatchSize,
		Logger:       e.logger,
	})
}

func (e *environment) recorder(ctx context.Context) observability.Recorder {
	if e.cfg.MetricsBackend == config.MetricsDatadog {
		return observability.NewDatadogRecorder(ctx, observability.DatadogOptions{
			Tags: []string{"project:" + e.cfg.Project},
		})
	}
	return observability.NopRecorder{}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runPipeline(cmd *cobra.Command, global *globalOptions, opts *runOptions) error {
	mode, ok := run.ParseMode(opts.mode)
	if !ok {
		return errors.InvalidInput("run", opts.mode, "expected ingest, transform or all")
	}
	// A malformed date is rejected before configuration or credentials are touched
	if _, _, err := pipeline.ParseDateFlag(opts.date); err != nil {
		return err
	}

	env, err := loadEnvironment(cmd, global)
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	src, err := env.source(ctx)
	if err != nil {
		return err
	}
	catalog, err := transform.DefaultCatalog(env.cfg.SQLDir)
	if err != nil {
		return err
	}

	gw, err := env.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			env.logger.WithError(err).Warn("Failed to close warehouse session")
		}
	}()

	metrics := env.recorder(ctx)
	defer func() {
		if err := metrics.Close(); err != nil {
			env.logger.WithError(err).Warn("Failed to submit run metrics")
		}
	}()

	p, err := pipeline.New(gw, locator.New(src, env.cfg.Project, env.cfg.StagingDataset), catalog, pipeline.Options{
		Mode:             mode,
		Date:             opts.date,
		Project:          env.cfg.Project,
		StagingDataset:   env.cfg.StagingDataset,
		WarehouseDataset: env.cfg.WarehouseDataset,
		SQLDir:           env.cfg.SQLDir,
		Encoding:         env.cfg.SourceEncoding,
		FailFast:         opts.failFast,
		Logger:           env.logger,
		Metrics:          metrics,
	})
	if err != nil {
		return err
	}

	summary := p.Run(ctx)
	ui.PrintSummary(cmd.OutOrStdout(), summary)
	if summary.Failed() {
		return errRunFailed
	}
	return nil
}
