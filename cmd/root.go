package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/optimeist/optimeist/internal/config"
	"github.com/optimeist/optimeist/internal/extension"
	"github.com/optimeist/optimeist/internal/log"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in input fields.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "optimeist",
	Short: "Install the optimeist memory optimizer on your Lambda functions",
	Long: `optimeist lists the Lambda functions of a region and installs the optimeist
extension layer on the ones you select. Inside a Lambda execution environment
the same binary runs as the extension itself.`,
	Version:      version,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Lambda starts extensions without arguments.
		if insideLambda() {
			return runExtension(cmd, args)
		}
		return runInstaller(cmd, args)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/optimeist/config.yaml)")
	rootCmd.Flags().StringP("region", "r", "",
		"AWS region to list functions in (default: config, then AWS_REGION)")
	rootCmd.Flags().Bool("save-region", false,
		"remember --region in the config file")
	rootCmd.Flags().Bool("debug", false,
		"log through tea.LogToFile and enable the log panel (ctrl+x)")

	_ = viper.BindPFlag("region", rootCmd.Flags().Lookup("region"))
}

func insideLambda() bool {
	return os.Getenv(extension.EnvRuntimeAPI) != ""
}

// setDefaults registers every config key so environment overrides and
// Unmarshal see them even without a config file.
func setDefaults(v *viper.Viper) {
	d := config.Defaults()
	v.SetDefault("region", d.Region)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("install.secret_name", d.Install.SecretName)
	v.SetDefault("install.api_key_env", d.Install.APIKeyEnv)
	v.SetDefault("install.policy_prefix", d.Install.PolicyPrefix)
	v.SetDefault("cache.describe_ttl", d.Cache.DescribeTTL)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("ui.tick_rate", d.UI.TickRate)
	v.SetDefault("extension.api_url", d.Extension.APIURL)
	v.SetDefault("extension.poll_interval", d.Extension.PollInterval)
	v.SetDefault("extension.request_timeout", d.Extension.RequestTimeout)
	v.SetDefault("extension.telemetry_port", d.Extension.TelemetryPort)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

// bindEnv maps OPTIMEIST_LOGGING_LEVEL style variables onto config keys.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("OPTIMEIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".optimeist", "config.yaml")
	}
	return filepath.Join(home, ".config", "optimeist", "config.yaml")
}

func initConfig() {
	setDefaults(viper.GetViper())
	bindEnv(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .optimeist/config.yaml (current directory)
		// 2. ~/.config/optimeist/config.yaml (user config)
		if _, err := os.Stat(".optimeist/config.yaml"); err == nil {
			viper.SetConfigFile(".optimeist/config.yaml")
		} else {
			viper.AddConfigPath(filepath.Dir(defaultConfigPath()))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// The Lambda sandbox has no writable home; it runs on defaults and env.
		if errors.As(err, &notFound) && !insideLambda() {
			defaultPath := defaultConfigPath()
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// configPath is the file region changes are saved to.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return defaultConfigPath()
}

// watchLogLevel applies logging.level edits while the installer runs.
func watchLogLevel() {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		level := viper.GetString("logging.level")
		log.SetMinLevel(log.ParseLevel(level))
		log.Info(log.CatConfig, "config changed", "file", e.Name, "level", level)
	})
	viper.WatchConfig()
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

// openLog installs the file logger, or the tea logger in debug mode.
func openLog(path string, debug bool) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	if debug {
		return log.InitWithTeaLog(path, "optimeist")
	}
	return log.Init(path)
}
