package commands

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/petal-labs/crawlr/cli/config"
	"github.com/petal-labs/crawlr/core"
	"github.com/petal-labs/crawlr/crawl"
)

// ConfigLoader loads CLI config from a path.
type ConfigLoader func(path string) (*config.Config, error)

// AppOption customizes App dependencies.
type AppOption func(*App)

// App holds CLI state and runtime dependencies.
type App struct {
	root *cobra.Command

	loadConfig ConfigLoader
	getenv     func(string) string
	stdout     io.Writer
	stderr     io.Writer
	isTerminal func(io.Writer) bool

	cfgFile    string
	apiURL     string
	timeout    time.Duration
	retries    int
	jsonOutput bool
	verbose    bool
	cfg        *config.Config
}

// WithConfigLoader injects a config loader dependency.
func WithConfigLoader(loader ConfigLoader) AppOption {
	return func(a *App) {
		if loader != nil {
			a.loadConfig = loader
		}
	}
}

// WithEnv injects the environment lookup used for the API key and URL.
func WithEnv(getenv func(string) string) AppOption {
	return func(a *App) {
		if getenv != nil {
			a.getenv = getenv
		}
	}
}

// WithIO injects process output streams.
func WithIO(stdout, stderr io.Writer) AppOption {
	return func(a *App) {
		if stdout != nil {
			a.stdout = stdout
		}
		if stderr != nil {
			a.stderr = stderr
		}
	}
}

// NewApp creates a new CLI app with default dependencies.
func NewApp(opts ...AppOption) *App {
	a := &App{
		loadConfig: config.LoadConfig,
		getenv:     os.Getenv,
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		isTerminal: isTerminal,
	}

	for _, opt := range opts {
		opt(a)
	}

	a.root = a.newRootCommand()
	return a
}

func (a *App) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "crawlr",
		Short: "crawlr - command-line client for the crawling service",
		Long: `crawlr talks to a web crawling service.

Scrape single pages, run and watch crawl jobs, map site links, and search the web.
The API key is read from CRAWLR_API_KEY.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	// Global flags available to all commands.
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ~/.crawlr/config.yaml)")
	root.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "service base URL (overrides config and CRAWLR_API_URL)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "per-attempt timeout (0 = use config or default)")
	root.PersistentFlags().IntVar(&a.retries, "retries", -1, "max retries (-1 = use config or default)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "emit JSON output")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable debug logging")

	root.AddCommand(a.newScrapeCommand())
	root.AddCommand(a.newCrawlCommand())
	root.AddCommand(a.newStatusCommand())
	root.AddCommand(a.newCancelCommand())
	root.AddCommand(a.newMapCommand())
	root.AddCommand(a.newSearchCommand())
	root.AddCommand(a.newInitCommand())
	root.AddCommand(a.newVersionCommand())

	return root
}

// Execute runs the root command with a background context.
func (a *App) Execute() error {
	return a.ExecuteContext(context.Background())
}

// ExecuteContext runs the root command. Failures are reported on stderr and
// returned as errors carrying an exit code.
func (a *App) ExecuteContext(ctx context.Context) error {
	if err := a.root.ExecuteContext(ctx); err != nil {
		return a.handleError(err)
	}
	return nil
}

// Run executes the app with the given arguments.
func (a *App) Run(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.ExecuteContext(ctx)
}

func (a *App) initConfig() error {
	path := a.cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := a.loadConfig(path)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(a.getenv)

	// Flags win over config and environment.
	if a.apiURL != "" {
		cfg.APIURL = a.apiURL
	}
	if a.timeout > 0 {
		cfg.Timeout = a.timeout
	}
	if a.retries >= 0 {
		retries := a.retries
		cfg.MaxRetries = &retries
	}
	if a.verbose {
		cfg.Debug = true
	}
	a.cfg = cfg

	return nil
}

func (a *App) logger() zerolog.Logger {
	if !a.verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: a.stderr, TimeFormat: time.Kitchen}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
}

func (a *App) newService() (*crawl.Service, error) {
	logger := a.logger()
	opts := a.cfg.ClientOptions(a.getenv(config.EnvAPIKey))
	opts = append(opts, core.WithLogger(logger))

	client, err := core.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return crawl.New(client, crawl.WithLogger(logger)), nil
}

var defaultApp = NewApp()

// Execute runs the default app root command.
func Execute() error {
	return defaultApp.Execute()
}

// ExecuteContext runs the default app root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return defaultApp.ExecuteContext(ctx)
}
