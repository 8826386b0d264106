package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/daniellavrushin/hellotrace/config"
	"github.com/daniellavrushin/hellotrace/log"
	"github.com/spf13/cobra"
)

var (
	cfg         = config.DefaultConfig
	configPath  string
	showVersion bool
	Version     = "dev"
	Commit      = "none"
	Date        = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "hellotrace",
	Short: "TLS ClientHello fingerprinting and ASN enrichment",
	Long: `hellotrace extracts TLS ClientHello messages from captured traffic,
fingerprints them and tags both endpoints with their autonomous system`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("hellotrace version: %s (%s) %s\n", Version, Commit, Date)
			return nil
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	config.BindLogFlags(rootCmd.PersistentFlags())
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version and exit")

	rootCmd.AddCommand(ingestCmd, collectCmd, lookupCmd, convertCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		log.Flush()
		os.Exit(1)
	}
	log.Flush()
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	cfg = c
	// Initialize logging first thing
	if err := initLogging(&cfg); err != nil {
		return fmt.Errorf("logging initialization failed: %w", err)
	}
	return nil
}

func initLogging(cfg *config.Config) error {
	w := io.MultiWriter(os.Stderr)
	log.Init(w, log.Level(cfg.Logging.Level), cfg.Logging.Instaflush)

	if cfg.Logging.Syslog {
		if err := log.EnableSyslog("hellotrace"); err != nil {
			log.Errorf("Failed to enable syslog: %v", err)
			return err
		}
		log.Infof("Syslog enabled")
	}
	log.Debugf("Logging initialized at level %d", cfg.Logging.Level)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
