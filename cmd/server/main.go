package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/offsoc/copr/internal/app"
	"github.com/offsoc/copr/internal/config"
	"github.com/offsoc/copr/internal/logger"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "frontend",
		Short:         "Build service front end with federated and Kerberos login",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	if err := root.Execute(); err != nil {
		logger.Fatal("frontend failed", map[string]any{
			"error": err.Error(),
		})
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	go func() {
		if err := application.Run(); err != nil {
			logger.Fatal("http server failed", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	logger.Info("frontend started", map[string]any{
		"port":      cfg.Server.Port,
		"federated": cfg.Auth.Federated.Enabled,
		"kerberos":  cfg.Auth.Kerberos.Enabled,
	})

	<-ctx.Done()

	logger.Info("shutdown signal received", nil)

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout,
	)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("frontend stopped cleanly", nil)
	return nil
}
