// File: cmd/run.go
package cmd

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kisegami/umafarm/internal/automation"
	"github.com/Kisegami/umafarm/internal/config"
	"github.com/Kisegami/umafarm/internal/device"
	"github.com/Kisegami/umafarm/internal/observability"
	"github.com/Kisegami/umafarm/internal/vision"
)

// progressInterval spaces the periodic counter reports in the log.
const progressInterval = time.Minute

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the farming loop until interrupted.",
		Long: `Connects to the configured emulator over ADB and drives the career
farming cycle indefinitely: enter a career, auto-select options, start,
skip the race, collect the result and give up to restart. Stop with
Ctrl-C; the loop finishes its current device command and exits cleanly.`,
		// Binding at execution time keeps sibling commands with the same
		// flag names from shadowing each other on the shared viper.
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("automation.manual_choose", cmd.Flags().Lookup("manual-choose")); err != nil {
				return err
			}
			if err := viper.BindPFlag("automation.match_threshold", cmd.Flags().Lookup("threshold")); err != nil {
				return err
			}
			return viper.BindPFlag("device.address", cmd.Flags().Lookup("device"))
		},
		RunE: executeRun,
	}

	runCmd.Flags().Bool("manual-choose", false, "pick the support friend by hand instead of auto-select")
	runCmd.Flags().Float64("threshold", 0, "override the template match confidence floor (0..1]")
	runCmd.Flags().String("device", "", "ADB device address, e.g. 127.0.0.1:16416")

	return runCmd
}

func executeRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	// Re-unmarshal so flag bindings registered on this command are applied.
	runCfg, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("Preparing farming run",
		zap.String("device", runCfg.Device.Address),
		zap.Bool("manual_choose", runCfg.Automation.ManualChoose),
		zap.Float64("threshold", runCfg.Automation.MatchThreshold),
	)

	lib, err := loadTemplates(runCfg, logger)
	if err != nil {
		return err
	}

	dev, err := device.Connect(ctx, runCfg.Device, logger)
	if err != nil {
		return err
	}

	clock := automation.SystemClock()
	runner := automation.NewRunner(dev, lib, clock, logger, runCfg.Automation, runCfg.Device.Screen)
	ctrl := automation.NewController(runner, dev, clock, runCfg.Automation, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		return reportProgress(gctx, ctrl, logger)
	})

	err = g.Wait()
	snap := ctrl.Snapshot()
	logger.Info("Farming run finished",
		zap.Uint64("cycles", snap.Cycles),
		zap.Uint64("desyncs", snap.Desyncs),
	)
	return err
}

// loadTemplates builds the template library and verifies every template the
// cycle can reference is present before touching the device.
func loadTemplates(cfg *config.Config, logger *zap.Logger) (*vision.Library, error) {
	dirs := append([]string{cfg.Assets.TemplateDir}, cfg.Assets.ExtraDirs...)
	lib, err := vision.LoadLibrary(dirs...)
	if err != nil {
		return nil, err
	}
	if err := lib.Require(automation.RequiredTemplates(cfg.Automation.ManualChoose)...); err != nil {
		return nil, err
	}
	logger.Info("Template library loaded",
		zap.Int("templates", len(lib.Names())),
		zap.Strings("dirs", dirs),
	)
	return lib, nil
}

// reportProgress logs the cycle counters periodically so long runs leave a
// trail even at info level.
func reportProgress(ctx context.Context, ctrl *automation.Controller, logger *zap.Logger) error {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap := ctrl.Snapshot()
			logger.Info("Run progress",
				zap.Uint64("cycles", snap.Cycles),
				zap.Uint64("desyncs", snap.Desyncs),
			)
		}
	}
}
