package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/crawlr/cli/config"
	"github.com/petal-labs/crawlr/core"
)

func (a *App) newInitCommand() *cobra.Command {
	var (
		apiURL string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Long: `Write a starter configuration file.

The file is written to --config, or ~/.crawlr/config.yaml by default.
The API key is not stored; export CRAWLR_API_KEY instead.

Example:
  crawlr init
  crawlr init --service-url http://localhost:3002/v1`,
		Args: cobra.NoArgs,
		// An existing config may be the reason for running init, so it is not loaded.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfgFile
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return core.NewValidationError("config file %q already exists (use --force to overwrite)", path)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
			}
			if err := generateFile(path, configTemplate, templateData{
				APIURL:     apiURL,
				Timeout:    core.DefaultTimeout,
				MaxRetries: core.DefaultMaxRetries,
				RetryDelay: core.DefaultRetryDelay,
				EnvAPIKey:  config.EnvAPIKey,
			}); err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}

			fmt.Fprintf(a.stdout, "Created config: %s\n\n", path)
			fmt.Fprintln(a.stdout, "Next steps:")
			fmt.Fprintf(a.stdout, "  export %s=<your-key>\n", config.EnvAPIKey)
			fmt.Fprintln(a.stdout, "  crawlr scrape https://example.com")
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "service-url", core.DefaultBaseURL, "service base URL written to the config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

type templateData struct {
	APIURL     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	EnvAPIKey  string
}

func generateFile(path string, tmplContent string, data templateData) error {
	tmpl, err := template.New("file").Parse(tmplContent)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return tmpl.Execute(f, data)
}

var configTemplate = `# crawlr configuration
# The API key is read from {{.EnvAPIKey}}. Values may reference ${ENV_VARS}.
api_url: {{.APIURL}}
timeout: {{.Timeout}}
max_retries: {{.MaxRetries}}
retry_delay: {{.RetryDelay}}

# Client-side requests per second (0 = unlimited)
rate_limit: 0

# Extra headers sent with every request
# headers:
#   X-Team: ${CRAWLR_TEAM}
`
