package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/bartender/internal/logger"
	"github.com/marmos91/bartender/pkg/config"
	"github.com/marmos91/bartender/pkg/server"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `Bartender - storage catalog orchestration service

Usage:
  bartender <command> [flags]

Commands:
  init      Write a sample configuration file
  start     Start the server
  version   Print the version

Run "bartender <command> --help" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "init":
		err = runInit(args)
	case "start":
		err = runStart(args)
	case "version":
		fmt.Printf("bartender %s\n", version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) error {
	flags := pflag.NewFlagSet("init", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path of the config file to write (default: "+config.GetDefaultConfigPath()+")")
	force := flags.BoolP("force", "f", false, "overwrite an existing config file")
	if err := flags.Parse(args); err != nil {
		return err
	}

	path := *configPath
	if path == "" {
		var err error
		if path, err = config.InitConfig(*force); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	fmt.Printf("Start the server with: bartender start --config %s\n", path)
	return nil
}

func runStart(args []string) error {
	flags := pflag.NewFlagSet("start", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path of the config file (default: "+config.GetDefaultConfigPath()+")")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure log output: %w", err)
	}

	fmt.Println("Bartender - storage catalog orchestration service")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsResult := config.InitializeMetrics(cfg)

	reg, shepherds, err := config.InitializeRegistry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}
	defer func() {
		if err := reg.Librarian().Close(); err != nil {
			logger.Error("Failed to close librarian: %v", err)
		}
	}()
	logger.Info("Librarian: %s, shepherds: %v", cfg.Librarian.Type, reg.ListShepherds())

	svc, err := config.CreateService(cfg, reg, metricsResult.Bartender)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	adapters, err := config.CreateAdapters(cfg, metricsResult.HTTP)
	if err != nil {
		return fmt.Errorf("failed to create adapters: %w", err)
	}

	srv := server.New(svc, reg)
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return fmt.Errorf("failed to add %s adapter: %w", a.Protocol(), err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if metricsResult.Server != nil {
		g.Go(func() error { return metricsResult.Server.Start(gctx) })
	}
	for _, s := range shepherds {
		g.Go(func() error { return s.Run(gctx) })
	}
	g.Go(func() error {
		err := srv.Serve(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	logger.Info("Bartender is running. Press Ctrl+C to stop.")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return finish(err)
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
	}

	select {
	case err := <-done:
		return finish(err)
	case <-time.After(cfg.Server.ShutdownTimeout):
		return fmt.Errorf("shutdown did not complete within %v", cfg.Server.ShutdownTimeout)
	}
}

func finish(err error) error {
	if err != nil {
		logger.Error("Server error: %v", err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
