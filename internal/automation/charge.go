// File: internal/automation/charge.go
package automation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Kisegami/umafarm/internal/vision"
)

// runCharge executes the TP recharge sub-sequence: open the restore dialog,
// tap the first tappable "use" button, confirm max quantity and close. A
// false return means the sequence could not complete; the cycle proceeds
// anyway (matching the game flow, where an aborted charge just re-shows the
// prompt next time).
func (c *Controller) runCharge(ctx context.Context) (bool, error) {
	out, err := c.runner.Perform(ctx, StepSpec{
		Template: "restore",
		PostWait: settleWait,
	})
	if err != nil {
		return false, err
	}
	if out == OutcomeNotFound {
		c.logger.Warn("Restore button not found during charge")
		return false, nil
	}

	tapped, err := c.tapUsableItem(ctx)
	if err != nil || !tapped {
		return false, err
	}
	if err := c.clock.Sleep(ctx, settleWait); err != nil {
		return false, err
	}

	out, err = c.runner.Perform(ctx, StepSpec{Template: "max"})
	if err != nil {
		return false, err
	}
	if out == OutcomeNotFound {
		return false, nil
	}

	out, err = c.runner.Perform(ctx, StepSpec{
		Template: "ok",
		PostWait: 1500 * time.Millisecond,
	})
	if err != nil {
		return false, err
	}
	if out == OutcomeNotFound {
		return false, nil
	}

	out, err = c.runner.Perform(ctx, StepSpec{
		Template: "close",
		Attempts: 2 * c.cfg.Attempts.Default,
		PostWait: settleWait,
	})
	if err != nil {
		return false, err
	}
	if out == OutcomeNotFound {
		return false, nil
	}

	c.logger.Info("TP charge completed")
	return true, nil
}

// tapUsableItem locates every "use" button on the restore dialog, keeps only
// the bright (enabled) ones and taps the first. Dimmed buttons belong to
// depleted items and must not be tapped.
func (c *Controller) tapUsableItem(ctx context.Context) (bool, error) {
	tmpl, err := c.runner.lib.Get("use")
	if err != nil {
		return false, err
	}

	img, err := c.drv.Screencap(ctx)
	if err != nil {
		return false, err
	}

	hits, err := vision.MatchAll(img, tmpl, c.runner.threshold, c.cfg.Charge.DedupDistance)
	if err != nil {
		return false, err
	}
	usable := vision.FilterBrightness(img, hits, c.cfg.Charge.BrightnessThreshold)
	if len(usable) == 0 {
		c.logger.Warn("No usable charge items found",
			zap.Int("matches", len(hits)))
		return false, nil
	}

	c.logger.Info("Tapping charge item",
		zap.Int("usable", len(usable)),
		zap.Int("x", usable[0].Center().X),
		zap.Int("y", usable[0].Center().Y),
	)
	if err := c.drv.Tap(ctx, usable[0].Center()); err != nil {
		return false, err
	}
	return true, nil
}
