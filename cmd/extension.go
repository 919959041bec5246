package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/optimeist/optimeist/internal/apiclient"
	"github.com/optimeist/optimeist/internal/cloud"
	"github.com/optimeist/optimeist/internal/config"
	"github.com/optimeist/optimeist/internal/extension"
	"github.com/optimeist/optimeist/internal/log"
	"github.com/optimeist/optimeist/internal/tracing"
	"github.com/optimeist/optimeist/internal/updater"
)

// cycleTimeout bounds one recommend-then-write cycle of the updater.
const cycleTimeout = time.Minute

var extensionCmd = &cobra.Command{
	Use:   "extension",
	Short: "Run as the Lambda extension",
	Long: `Registers with the Lambda Extensions API, forwards invocation reports to the
optimeist service and keeps the function's memory size at the recommended value.
Lambda starts the binary without arguments, which selects this command too.`,
	RunE: runExtension,
}

func init() {
	rootCmd.AddCommand(extensionCmd)
}

func runExtension(_ *cobra.Command, _ []string) error {
	log.InitWriter(os.Stdout, false)
	log.SetMinLevel(log.ParseLevel(cfg.Logging.Level))

	if err := config.ValidateExtension(cfg.Extension); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	env, err := extension.LoadEnvironment(viper.New())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewProvider(cfg.Tracing, "optimeist-extension")
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		_ = tp.Shutdown(shutdownCtx)
	}()

	clients, err := cloud.Load(ctx, env.Region)
	if err != nil {
		return err
	}
	env, err = env.Resolve(ctx, clients.Secrets, clients.Functions)
	if err != nil {
		return err
	}
	log.Info(log.CatHost, "environment resolved",
		"function", env.Name, "version", env.Version, "memory_mb", env.MemorySizeMB, "strategy", string(env.Strategy))

	api := apiclient.New(cfg.Extension.APIURL, env.AccessToken, cfg.Extension.RequestTimeout)

	u := updater.New(updater.Config{
		FunctionName:    env.Name,
		ParameterName:   env.ParameterName,
		InitialMemory:   env.MemorySizeMB,
		Interval:        cfg.Extension.PollInterval,
		FireImmediately: true,
		CycleTimeout:    cycleTimeout,
		Recommender:     api.Recommender(env.Query()),
		Memory:          clients.Functions,
		Parameters:      clients.Parameters,
		Tracer:          tp.Tracer(),
	})

	port := cfg.Extension.TelemetryPort
	return extension.Run(ctx, extension.Config{
		Host:        extension.NewHostClient(env.RuntimeAPI, filepath.Base(os.Args[0])),
		Updater:     u,
		Collector:   api,
		Meta:        env.Meta(),
		ListenAddr:  fmt.Sprintf(":%d", port),
		ListenerURI: fmt.Sprintf("http://sandbox.localdomain:%d", port),
		Tracer:      tp.Tracer(),
	})
}
