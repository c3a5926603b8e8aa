// File: cmd/check.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Kisegami/umafarm/internal/config"
	"github.com/Kisegami/umafarm/internal/device"
	"github.com/Kisegami/umafarm/internal/observability"
)

func newCheckCmd() *cobra.Command {
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify config, template assets and device connectivity without farming.",
		Long: `Runs the same preflight as 'run': validates the configuration, loads
the template library, connects to the device and captures one
screenshot to verify the geometry matches the configured resolution.
Exits non-zero on the first failure.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("device.address", cmd.Flags().Lookup("device"))
		},
		RunE: executeCheck,
	}

	checkCmd.Flags().String("device", "", "ADB device address, e.g. 127.0.0.1:16416")

	return checkCmd
}

func executeCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	checkCfg, err := config.NewConfigFromViper(viper.GetViper())
	if err != nil {
		return err
	}
	logger.Info("Configuration valid")

	if _, err := loadTemplates(checkCfg, logger); err != nil {
		return err
	}

	dev, err := device.Connect(ctx, checkCfg.Device, logger)
	if err != nil {
		return err
	}
	logger.Info("Device reachable", zap.String("address", checkCfg.Device.Address))

	img, err := dev.Screencap(ctx)
	if err != nil {
		return fmt.Errorf("capture test screenshot: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != checkCfg.Device.Screen.Width || b.Dy() != checkCfg.Device.Screen.Height {
		return fmt.Errorf("screen geometry mismatch: device reports %dx%d, config expects %dx%d",
			b.Dx(), b.Dy(), checkCfg.Device.Screen.Width, checkCfg.Device.Screen.Height)
	}
	logger.Info("Screenshot geometry verified",
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()),
	)

	logger.Info("All preflight checks passed")
	return nil
}
