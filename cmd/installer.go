package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/optimeist/optimeist/internal/app"
	"github.com/optimeist/optimeist/internal/cachemanager"
	"github.com/optimeist/optimeist/internal/cloud"
	"github.com/optimeist/optimeist/internal/config"
	"github.com/optimeist/optimeist/internal/dispatch"
	"github.com/optimeist/optimeist/internal/events"
	"github.com/optimeist/optimeist/internal/install"
	"github.com/optimeist/optimeist/internal/journal"
	"github.com/optimeist/optimeist/internal/log"
	"github.com/optimeist/optimeist/internal/tracing"
	"github.com/optimeist/optimeist/internal/ui/installer"
)

// runInstaller wires the dispatcher, the app consumer and the TUI, and
// blocks until the user quits.
func runInstaller(cmd *cobra.Command, _ []string) error {
	debug, _ := cmd.Flags().GetBool("debug")
	saveRegion, _ := cmd.Flags().GetBool("save-region")

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cleanup, err := openLog(cfg.Logging.File, debug)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer cleanup()
	log.SetMinLevel(log.ParseLevel(cfg.Logging.Level))
	watchLogLevel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.NewProvider(cfg.Tracing, "optimeist-installer")
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = tp.Shutdown(shutdownCtx)
	}()

	layers, err := config.LoadLayerTable()
	if err != nil {
		return err
	}

	clients, err := cloud.Load(ctx, cfg.Region)
	if err != nil {
		return err
	}
	// Fail before the UI starts rather than once per function.
	if _, err := layers.Resolve(clients.Region, config.ArchX8664); err != nil {
		return err
	}
	if saveRegion && cfg.Region != "" {
		if err := config.SaveRegion(configPath(), cfg.Region); err != nil {
			return err
		}
	}

	secretARN, err := install.EnsureSecret(ctx, clients.Secrets, cfg.Install.SecretName, cfg.Install.APIKeyEnv, os.LookupEnv)
	if err != nil {
		return err
	}

	appCfg := app.Config{}
	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		appCfg.Journal = store
	}

	cache := cachemanager.NewInMemory[install.Function]("describe", cfg.Cache.DescribeTTL, cachemanager.DefaultCleanupInterval)
	appCfg.Lister = install.NewLister(clients.Functions,
		install.WithDescribeCache(cache, cfg.Cache.DescribeTTL),
		install.WithListerTracer(tp.Tracer()),
	)
	appCfg.Installer = install.NewInstaller(install.InstallerConfig{
		Registry:     clients.Functions,
		Policies:     clients.Policies,
		Layers:       layers,
		Region:       clients.Region,
		SecretARN:    secretARN,
		PolicyPrefix: cfg.Install.PolicyPrefix,
		Tracer:       tp.Tracer(),
	})

	renderer := installer.NewRenderer()
	defer renderer.Close()
	appCfg.Renderer = renderer

	d, sender := dispatch.New[events.Event]()
	a := app.New(appCfg, d, sender.Clone())

	input := sender.Clone()
	model := installer.New(ctx, input, renderer, installer.Options{
		Region: clients.Region,
		Debug:  debug,
	})

	go forwardSignals(ctx, sender.Clone())
	go tick(ctx, sender.Clone(), cfg.UI.TickRate)

	sender.Send(events.FetchRequested{})
	sender.Close()

	p := tea.NewProgram(model, tea.WithAltScreen())

	appErr := make(chan error, 1)
	go func() {
		appErr <- a.Run(ctx)
		p.Quit()
	}()

	_, uiErr := p.Run()
	input.Close()
	cancel()

	err = <-appErr
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(uiErr, err)
}

// forwardSignals turns SIGINT and SIGTERM into ExternalSignal events.
func forwardSignals(ctx context.Context, s *dispatch.Sender[events.Event]) {
	defer s.Close()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		log.Info(log.CatDispatch, "received signal", "signal", sig.String())
		s.Send(events.ExternalSignal{Signal: sig})
	case <-ctx.Done():
	}
}

// tick drives the spinner until ctx is cancelled.
func tick(ctx context.Context, s *dispatch.Sender[events.Event], every time.Duration) {
	defer s.Close()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Send(events.Tick{}) {
				return
			}
		}
	}
}
