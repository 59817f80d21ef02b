package cli

import (
	"github.com/spf13/cobra"

	"github.com/harun/superninja/internal/config"
	"github.com/harun/superninja/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "superninja",
	Short: "SuperNinja - multi-agent orchestration backend",
	Long: `SuperNinja routes chat tasks to specialized AI agents backed by a pool
of provider keys, chains agents into workflows and manages per-user virtual
sessions.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.superninja/superninja.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config named by --config.
func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile, nil)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// newLogger builds the process logger. An explicit --log-level wins over
// the config file.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*logger.Logger, error) {
	lc := cfg.LoggerConfig()
	if cmd.Flags().Changed("log-level") || lc.Level == "" {
		lc.Level = logLevel
	}
	return logger.New(lc)
}
