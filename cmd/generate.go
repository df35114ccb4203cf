package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/siteshot/internal/pipeline"
	"github.com/JakeFAU/siteshot/internal/shot"
)

type generateOptions struct {
	url    string
	assets []string
	mode   string
	outDir string
}

// newGenerateCmd creates the 'generate' subcommand, which runs a single job and writes the
// assets to disk.
func newGenerateCmd() *cobra.Command {
	opts := generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Captures one page and writes the assets to a directory",
		Example: `  siteshot generate --url https://example.com --assets screenshot,collage --out ./shots
  siteshot generate --url https://example.com --assets video --mode viewport`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGenerate(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "page to capture (http or https)")
	cmd.Flags().StringSliceVar(&opts.assets, "assets",
		[]string{string(shot.KindScreenshot), string(shot.KindCollage), string(shot.KindVideo)},
		"assets to produce: screenshot, collage, video")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "capture mode: viewport or full-page (default: chosen from assets)")
	cmd.Flags().StringVar(&opts.outDir, "out", ".", "output directory")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runGenerate(cmd *cobra.Command, opts generateOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(appInstance)
	kinds, err := shot.ParseKinds(opts.assets)
	if err != nil {
		return err
	}
	mode, err := shot.ParseCaptureMode(opts.mode)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.outDir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	assets, err := appInstance.Generate(ctx, pipeline.GenerateRequest{URL: opts.url, Kinds: kinds, Mode: mode})
	if err != nil {
		if diag := shot.DiagnosticsOf(err); diag != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "encoder output:\n%s\n", diag)
		}
		return fmt.Errorf("generate %s: %w", opts.url, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job %s colors %s %s\n", assets.JobID, assets.Colors.Primary.Hex(), assets.Colors.Secondary.Hex())
	for _, kind := range shot.AllKinds() {
		art := assets.Get(kind)
		if art == nil {
			continue
		}
		path := filepath.Join(opts.outDir, art.Filename)
		if err := os.WriteFile(path, art.Data, 0o644); err != nil { // #nosec G306 -- output meant to be shared.
			return fmt.Errorf("write %s: %w", path, err)
		}
		appInstance.Logger().Debug("asset written", zap.String("kind", string(kind)), zap.String("path", path))
		fmt.Fprintf(out, "%-10s %s (%d bytes)\n", kind, path, len(art.Data))
	}
	return nil
}
