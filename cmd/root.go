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

	"github.com/andresmejia3/segflow/internal/config"
	"github.com/andresmejia3/segflow/internal/logging"
	"github.com/andresmejia3/segflow/internal/store"
)

// Ledger needs of a subcommand, set in its Annotations.
const (
	dbAnnotation = "db"
	dbRequired   = "required"
	dbOptional   = "optional"
)

var (
	// DB is the run ledger shared by subcommands; nil when no ledger is used.
	DB *store.Store
	// cfg is the merged configuration (defaults < config file < env < flags).
	cfg *config.Config
	// logger is the process logger, built from cfg.Log.
	logger = zap.NewNop()

	cfgFile string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "segflow",
	Short:         "Three-stage image segmentation pipeline (ingest, transform, post-process)",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(); err != nil {
			return err
		}
		if logger, err = logging.New(cfg.Log); err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}

		need := cmd.Annotations[dbAnnotation]
		if need == "" {
			return nil
		}
		url := resolveDBURL(cfg.DB.URL, need == dbRequired)
		if url == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		_ = logger.Sync()
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "🚨 %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.yaml in /etc/segflow, $HOME/.segflow or .)")
	bindRootFlags(rootCmd)
}

// loadConfig merges the config file, SEGFLOW_* environment and flags over
// the defaults.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/segflow")
		viper.AddConfigPath("$HOME/.segflow")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("SEGFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return config.Load(viper.GetViper())
}

// resolveDBURL picks the ledger connection string: explicit setting first,
// then the POSTGRES_* environment. When the ledger is required it falls back
// to a local default; otherwise no ledger is used.
func resolveDBURL(explicit string, required bool) string {
	if explicit != "" {
		return explicit
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	if required {
		// Fallback to local default if no env vars are present
		return "postgres://localhost:5432/segflow"
	}
	return ""
}
