// Package cmd defines and implements the CLI commands for the siteshot executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteshot/internal/app"
	"github.com/JakeFAU/siteshot/internal/config"
	"github.com/JakeFAU/siteshot/internal/logging"
	"github.com/JakeFAU/siteshot/internal/pipeline"
	"github.com/JakeFAU/siteshot/internal/shot"
)

const closeTimeout = 10 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Handler() http.Handler
	Generate(ctx context.Context, req pipeline.GenerateRequest) (shot.GeneratedAssets, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can swap in a mock.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "siteshot",
		Short: "Render screenshots, collages, and scrolling videos of web pages.",
		Long: `siteshot drives a headless browser to capture a web page and turns the capture
into a full-page screenshot, a branded vertical collage, and a scrolling MP4.
It runs one job at a time and rejects work while busy or short on memory.`,
		SilenceUsage: true,

		// Builds the application once flags are parsed and stores it for the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); SITESHOT_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGenerateCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// closeApp shuts the app down; subcommands defer it so it runs on failures too.
func closeApp(appInstance App) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	logger := appInstance.Logger()
	if err := appInstance.Close(ctx); err != nil {
		logger.Warn("error closing application services", zap.Error(err))
	}
	// Sync fails on stderr/stdout for some platforms; nothing useful to do about it.
	_ = logger.Sync()
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
