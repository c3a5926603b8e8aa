// File: internal/device/adb.go
// ADB-backed Device I/O adapter. Screenshots come from `adb exec-out
// screencap -p` and are decoded in memory; input goes through `adb shell
// input`. A single Device is only ever driven by one control goroutine.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kisegami/umafarm/internal/config"
)

// ErrUnreachable is returned when the device cannot be reached over ADB
// within the configured number of connection attempts. Fatal at startup.
var ErrUnreachable = errors.New("device unreachable")

// commandRunner executes one external command and returns its stdout.
// Injectable so tests never shell out.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w (stderr: %s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Device is a live ADB connection to one emulator.
type Device struct {
	cfg     config.DeviceConfig
	logger  *zap.Logger
	limiter *rate.Limiter
	run     commandRunner
}

// Connect establishes the ADB connection, retrying with backoff up to
// device.connect_attempts times before giving up with ErrUnreachable.
func Connect(ctx context.Context, cfg config.DeviceConfig, logger *zap.Logger) (*Device, error) {
	d := &Device{
		cfg:     cfg,
		logger:  logger.Named("device"),
		limiter: rate.NewLimiter(rate.Limit(cfg.TapRate), 1),
		run:     execRunner,
	}
	if err := d.connect(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) connect(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.ConnectAttempts; attempt++ {
		out, err := d.adb(ctx, "connect", d.cfg.Address)
		if err == nil && strings.Contains(strings.ToLower(string(out)), "connected") {
			d.logger.Info("Connected to device", zap.String("address", d.cfg.Address))
			return nil
		}
		if err == nil {
			err = fmt.Errorf("unexpected adb connect output: %q", strings.TrimSpace(string(out)))
		}
		lastErr = err
		d.logger.Warn("ADB connect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", d.cfg.ConnectAttempts),
			zap.Error(err),
		)

		if attempt < d.cfg.ConnectAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.cfg.ConnectBackoff):
			}
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUnreachable, d.cfg.Address, lastErr)
}

// Screencap captures one full-resolution frame. The returned image is owned
// by the caller and never cached here.
func (d *Device) Screencap(ctx context.Context) (image.Image, error) {
	out, err := d.shellOut(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("screencap: decode png: %w", err)
	}
	return img, nil
}

// Tap issues a single tap at the given screen coordinate, paced by the
// configured tap rate so rapid-fire steps cannot flood the input pipeline.
func (d *Device) Tap(ctx context.Context, pt image.Point) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := d.shellOut(ctx, "shell", "input", "tap",
		strconv.Itoa(pt.X), strconv.Itoa(pt.Y))
	if err != nil {
		return fmt.Errorf("tap (%d,%d): %w", pt.X, pt.Y, err)
	}
	d.logger.Debug("Tapped", zap.Int("x", pt.X), zap.Int("y", pt.Y))
	return nil
}

// KeyEvent sends an Android key event (e.g. KEYCODE_BACK). Used by the
// desync recovery sequence.
func (d *Device) KeyEvent(ctx context.Context, key string) error {
	_, err := d.shellOut(ctx, "shell", "input", "keyevent", key)
	if err != nil {
		return fmt.Errorf("keyevent %s: %w", key, err)
	}
	return nil
}

// StartApp launches the given package through the launcher intent.
func (d *Device) StartApp(ctx context.Context, pkg string) error {
	_, err := d.shellOut(ctx, "shell", "monkey", "-p", pkg,
		"-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return fmt.Errorf("start app %s: %w", pkg, err)
	}
	d.logger.Info("Started app", zap.String("package", pkg))
	return nil
}

// StopApp force-stops the given package.
func (d *Device) StopApp(ctx context.Context, pkg string) error {
	_, err := d.shellOut(ctx, "shell", "am", "force-stop", pkg)
	if err != nil {
		return fmt.Errorf("stop app %s: %w", pkg, err)
	}
	return nil
}

// adb runs an adb command without the -s device selector (connect itself).
func (d *Device) adb(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()
	return d.run(ctx, d.cfg.AdbPath, args...)
}

// shellOut runs an adb command against the connected device.
func (d *Device) shellOut(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CommandTimeout)
	defer cancel()
	full := append([]string{"-s", d.cfg.Address}, args...)
	return d.run(ctx, d.cfg.AdbPath, full...)
}
