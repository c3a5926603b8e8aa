// File: internal/automation/driver.go
package automation

import (
	"context"
	"image"
	"time"
)

// Driver is the narrow device capability the automation loop depends on.
// Production code passes *device.Device; tests pass a fake that serves
// synthetic screenshots and records taps.
type Driver interface {
	Screencap(ctx context.Context) (image.Image, error)
	Tap(ctx context.Context, pt image.Point) error
	KeyEvent(ctx context.Context, key string) error
}

// Clock abstracts timed waits so step timing is testable without real sleeps.
// Sleep returns early with the context error when the run is interrupted.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SystemClock returns the wall-clock implementation used in production.
func SystemClock() Clock { return systemClock{} }
