// File: internal/automation/step.go
package automation

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/Kisegami/umafarm/internal/config"
	"github.com/Kisegami/umafarm/internal/vision"
)

// Outcome is the result of one step: the element was found and tapped, or it
// never appeared within the attempt budget. NotFound is a branch signal, not
// an error; the controller decides what it means.
type Outcome int

const (
	OutcomeNotFound Outcome = iota
	OutcomeSuccess
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "not_found"
}

// StepSpec describes one locate-and-tap unit. Zero values fall back to the
// runner defaults taken from configuration.
type StepSpec struct {
	// Template names the element to locate. Empty requires At.
	Template string
	// At taps a fixed screen coordinate directly, skipping capture and match.
	At *image.Point
	// Threshold overrides the configured confidence floor when > 0.
	Threshold float64
	// Attempts bounds the capture-and-match retries. Defaults to
	// automation.attempts.default.
	Attempts int
	// RetryWait is the pause between failed attempts. Defaults to
	// automation.wait_time.retry.
	RetryWait time.Duration
	// PostWait is the settle pause after a successful tap.
	PostWait time.Duration
	// Taps is how many taps to issue on success (default 1).
	Taps int
	// TapPause separates the taps of a multi-tap step.
	TapPause time.Duration
}

// Runner executes step specs against a device. It holds no cycle state; the
// controller owns sequencing.
type Runner struct {
	drv       Driver
	lib       *vision.Library
	clock     Clock
	logger    *zap.Logger
	threshold float64
	attempts  int
	retryWait time.Duration
	screen    image.Point
}

// NewRunner wires a step runner from configuration. screen is the geometry
// every template asset assumes; captures with different bounds can never
// match and are treated as misses.
func NewRunner(drv Driver, lib *vision.Library, clock Clock, logger *zap.Logger,
	auto config.AutomationConfig, screen config.ScreenConfig) *Runner {
	return &Runner{
		drv:       drv,
		lib:       lib,
		clock:     clock,
		logger:    logger.Named("step"),
		threshold: auto.MatchThreshold,
		attempts:  auto.Attempts.Default,
		retryWait: auto.WaitTime.Retry,
		screen:    image.Point{X: screen.Width, Y: screen.Height},
	}
}

// Perform runs one step to completion: up to Attempts capture-match rounds,
// exactly one tap sequence on the first hit, OutcomeNotFound after
// exhaustion. Device and matcher failures propagate as errors.
func (r *Runner) Perform(ctx context.Context, s StepSpec) (Outcome, error) {
	if s.At != nil {
		if err := r.tap(ctx, *s.At, s); err != nil {
			return OutcomeNotFound, err
		}
		if err := r.clock.Sleep(ctx, s.PostWait); err != nil {
			return OutcomeSuccess, err
		}
		return OutcomeSuccess, nil
	}

	tmpl, err := r.lib.Get(s.Template)
	if err != nil {
		return OutcomeNotFound, err
	}

	threshold := s.Threshold
	if threshold <= 0 {
		threshold = r.threshold
	}
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = r.attempts
	}
	retryWait := s.RetryWait
	if retryWait <= 0 {
		retryWait = r.retryWait
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return OutcomeNotFound, err
		}

		res, err := r.locate(ctx, tmpl, threshold)
		if err != nil {
			return OutcomeNotFound, err
		}
		if res.Found {
			r.logger.Info("Template found",
				zap.String("template", tmpl.Name),
				zap.Int("attempt", attempt),
				zap.Float64("confidence", res.Confidence),
				zap.Int("x", res.Center().X),
				zap.Int("y", res.Center().Y),
			)
			if err := r.tap(ctx, res.Center(), s); err != nil {
				return OutcomeNotFound, err
			}
			if err := r.clock.Sleep(ctx, s.PostWait); err != nil {
				return OutcomeSuccess, err
			}
			return OutcomeSuccess, nil
		}

		r.logger.Debug("Template not found",
			zap.String("template", tmpl.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Float64("confidence", res.Confidence),
		)
		if attempt < attempts {
			if err := r.clock.Sleep(ctx, retryWait); err != nil {
				return OutcomeNotFound, err
			}
		}
	}

	r.logger.Warn("Step exhausted attempts",
		zap.String("template", s.Template),
		zap.Int("attempts", attempts),
	)
	return OutcomeNotFound, nil
}

// Probe looks for a template without tapping it. Used for branch decisions
// such as the TP-charge prompt check.
func (r *Runner) Probe(ctx context.Context, template string, attempts int) (Outcome, error) {
	tmpl, err := r.lib.Get(template)
	if err != nil {
		return OutcomeNotFound, err
	}
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return OutcomeNotFound, err
		}
		res, err := r.locate(ctx, tmpl, r.threshold)
		if err != nil {
			return OutcomeNotFound, err
		}
		if res.Found {
			return OutcomeSuccess, nil
		}
		if attempt < attempts {
			if err := r.clock.Sleep(ctx, r.retryWait); err != nil {
				return OutcomeNotFound, err
			}
		}
	}
	return OutcomeNotFound, nil
}

// locate captures one frame and matches the template against it. A capture
// whose geometry differs from the configured screen resolution is reported as
// a miss: template coordinates would be meaningless on it.
func (r *Runner) locate(ctx context.Context, tmpl vision.Template, threshold float64) (vision.MatchResult, error) {
	img, err := r.drv.Screencap(ctx)
	if err != nil {
		return vision.MatchResult{}, fmt.Errorf("capture screen: %w", err)
	}

	b := img.Bounds()
	if b.Dx() != r.screen.X || b.Dy() != r.screen.Y {
		r.logger.Warn("Screenshot geometry mismatch",
			zap.Int("got_width", b.Dx()), zap.Int("got_height", b.Dy()),
			zap.Int("want_width", r.screen.X), zap.Int("want_height", r.screen.Y),
		)
		return vision.MatchResult{}, nil
	}

	return vision.Match(img, tmpl, threshold)
}

func (r *Runner) tap(ctx context.Context, pt image.Point, s StepSpec) error {
	taps := s.Taps
	if taps <= 0 {
		taps = 1
	}
	for i := 0; i < taps; i++ {
		if i > 0 {
			if err := r.clock.Sleep(ctx, s.TapPause); err != nil {
				return err
			}
		}
		if err := r.drv.Tap(ctx, pt); err != nil {
			return err
		}
	}
	return nil
}
