package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/tessera/internal/config"
	"github.com/zjrosen/tessera/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config

	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "tessera",
	Short: "Resolve, build and mount component trees",
	Long: `Tessera loads component definitions and a desired tree from YAML,
resolves the dependency graph, builds instances and drives them through
their lifecycle.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCleanup != nil {
			logCleanup()
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .tessera/config.yaml, then ~/.config/tessera/config.yaml)")
	rootCmd.PersistentFlags().StringP("definitions", "f", "",
		"definitions file (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging to the configured log file")

	_ = viper.BindPFlag("definitions", rootCmd.PersistentFlags().Lookup("definitions"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("definitions", defaults.Definitions)
	viper.SetDefault("lifecycle.hook_timeout", defaults.Lifecycle.HookTimeout)
	viper.SetDefault("lifecycle.concurrency", defaults.Lifecycle.Concurrency)
	viper.SetDefault("selector.cache_ttl", defaults.Selector.CacheTTL)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.addr", defaults.Metrics.Addr)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
	viper.SetDefault("debug", defaults.Debug)
	viper.SetDefault("log_file", defaults.LogFile)
	viper.SetDefault("log_level", defaults.LogLevel)

	viper.SetEnvPrefix("TESSERA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .tessera/config.yaml (current directory)
		// 2. ~/.config/tessera/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "tessera"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "warning: reading config: %v\n", err)
		}
	}

	_ = viper.Unmarshal(&cfg)
}

const localConfigPath = ".tessera/config.yaml"

// setup validates the configuration and starts logging.
func setup(*cobra.Command, []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if debugFlag || cfg.Debug || os.Getenv("TESSERA_DEBUG") != "" {
		logPath := cfg.LogFile
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.InitWithTeaLog(logPath, "tessera")
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup
		log.SetMinLevel(log.ParseLevel(cfg.LogLevel))
		if debugFlag {
			log.SetMinLevel(log.LevelDebug)
		}
		log.Info(log.CatConfig, "tessera starting", "config", viper.ConfigFileUsed(), "definitions", cfg.Definitions)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
