package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consentscope/internal/config"
	"github.com/xkilldash9x/consentscope/internal/observability"
)

type configKey struct{}

// osExit is swapped in tests.
var osExit = os.Exit

// newRootCmd builds the command tree around factory.
func newRootCmd(factory componentFactory) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "consentscope",
		Short:         "ConsentScope audits cookie consent and tracking for GDPR and DMA compliance.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting ConsentScope", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, config.Interface(cfg)))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("db-driver", "", "persistence backend: sqlite, postgres or none")
	pf.Bool("headful", false, "show the browser window")

	rootCmd.AddCommand(
		newAnalyzeCmd(factory),
		newReportCmd(factory),
		newHistoryCmd(factory),
		newSummarizeCmd(factory),
		newServeCmd(factory),
		newVersionCmd(),
	)
	return rootCmd
}

// initializeConfig reads the config file and environment, then lets
// explicitly set flags override both.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(config.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	flags := cmd.Flags()
	if f := flags.Lookup("log-level"); f != nil && f.Changed {
		if err := v.BindPFlag("logger.level", f); err != nil {
			return err
		}
	}
	if f := flags.Lookup("db-driver"); f != nil && f.Changed {
		if err := v.BindPFlag("database.driver", f); err != nil {
			return err
		}
	}
	if f := flags.Lookup("headful"); f != nil && f.Changed {
		headful, _ := flags.GetBool("headful")
		v.Set("browser.headless", !headful)
	}
	return nil
}

func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey{}).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not initialized")
	}
	return cfg, nil
}

// Execute runs the CLI with a context that is cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(defaultFactory{}).ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		osExit(1)
	}
}
