// File: internal/automation/cycle.go
// The farming loop as an explicit phase machine. Each phase is a transition
// function returning the next phase; desync recovery and restart paths are
// ordinary transitions, which keeps them testable in isolation.
package automation

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Kisegami/umafarm/internal/config"
)

// Phase is the controller's position in the fixed step sequence.
type Phase int

const (
	PhaseHome Phase = iota
	PhaseEnterCareer
	PhaseAutoSelect
	PhaseFriendSelect
	PhaseCareerStart
	PhaseSkip
	PhaseResult
	PhaseGiveUp
)

var phaseNames = map[Phase]string{
	PhaseHome:         "home",
	PhaseEnterCareer:  "enter_career",
	PhaseAutoSelect:   "auto_select",
	PhaseFriendSelect: "friend_select",
	PhaseCareerStart:  "career_start",
	PhaseSkip:         "skip",
	PhaseResult:       "result",
	PhaseGiveUp:       "give_up",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// RequiredTemplates is every template name the controller can reference.
// The startup preflight fails fast when any of them is missing from the
// asset store.
func RequiredTemplates(manualChoose bool) []string {
	names := []string{
		"career", "next", "auto_select_1", "ok",
		"start_career_1", "start_career_2",
		"skip", "skip_btn", "skip_off", "skip_on_1", "skip_on_2", "confirm",
		"menu", "give_up_1", "give_up_2",
		"restore", "use", "max", "close",
	}
	if manualChoose {
		names = append(names, "plus", "following")
	}
	return names
}

// settleWait separates back-to-back taps of adjacent steps, and errorBackoff
// is the pause before restarting the cycle after an unexpected device or
// matcher failure.
const (
	settleWait   = 500 * time.Millisecond
	togglePause  = 200 * time.Millisecond
	errorBackoff = 10 * time.Second
)

// Controller walks the fixed phase sequence indefinitely. It terminates only
// through context cancellation (a farming loop has no natural end) or a hard
// friend-selection failure.
type Controller struct {
	runner *Runner
	drv    Driver
	clock  Clock
	cfg    config.AutomationConfig
	logger *zap.Logger

	cycles  atomic.Uint64
	desyncs atomic.Uint64
}

// Snapshot is a point-in-time view of the run counters, safe to read from
// the progress reporter goroutine.
type Snapshot struct {
	Cycles  uint64
	Desyncs uint64
}

// NewController wires the cycle controller.
func NewController(runner *Runner, drv Driver, clock Clock,
	cfg config.AutomationConfig, logger *zap.Logger) *Controller {
	return &Controller{
		runner: runner,
		drv:    drv,
		clock:  clock,
		cfg:    cfg,
		logger: logger.Named("cycle"),
	}
}

// Snapshot returns the current counters.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{Cycles: c.cycles.Load(), Desyncs: c.desyncs.Load()}
}

// Run drives the loop until ctx is done. Step-level failures never escape:
// NotFound on a mandatory step becomes a recovery-and-restart, unexpected
// device errors restart the cycle after a backoff. Only context cancellation
// and ErrFriendSelection are returned.
func (c *Controller) Run(ctx context.Context) error {
	phase := PhaseHome
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		next, err := c.step(ctx, phase)
		switch {
		case err == nil:
			phase = next

		case ctx.Err() != nil:
			return ctx.Err()

		case errors.Is(err, ErrFriendSelection):
			c.logger.Error("Stopping run", zap.Error(err))
			return err

		case errors.Is(err, ErrDesync):
			c.desyncs.Add(1)
			c.logger.Warn("Desync recovered, restarting cycle",
				zap.String("phase", phase.String()),
				zap.Error(err),
			)
			if err := c.recover(ctx); err != nil {
				return err
			}
			phase = PhaseHome

		default:
			c.logger.Error("Cycle error, restarting after backoff",
				zap.String("phase", phase.String()),
				zap.Error(err),
			)
			if err := c.clock.Sleep(ctx, errorBackoff); err != nil {
				return err
			}
			phase = PhaseHome
		}
	}
}

func (c *Controller) step(ctx context.Context, phase Phase) (Phase, error) {
	c.logger.Debug("Entering phase", zap.String("phase", phase.String()))
	switch phase {
	case PhaseHome:
		return c.runHome(ctx)
	case PhaseEnterCareer:
		return c.runEnterCareer(ctx)
	case PhaseAutoSelect:
		return c.runAutoSelect(ctx)
	case PhaseFriendSelect:
		return c.runFriendSelect(ctx)
	case PhaseCareerStart:
		return c.runCareerStart(ctx)
	case PhaseSkip:
		return c.runSkip(ctx)
	case PhaseResult:
		return c.runResult(ctx)
	case PhaseGiveUp:
		return c.runGiveUp(ctx)
	default:
		return PhaseHome, nil
	}
}

// mandatory converts a NotFound outcome on a step with no legitimate-absence
// branch into a desync.
func (c *Controller) mandatory(phase Phase, template string, out Outcome, err error) error {
	if err != nil {
		return err
	}
	if out != OutcomeSuccess {
		return &DesyncError{Phase: phase, Template: template}
	}
	return nil
}

// runHome taps the career entry from the home screen.
func (c *Controller) runHome(ctx context.Context) (Phase, error) {
	out, err := c.runner.Perform(ctx, StepSpec{
		Template: "career",
		PostWait: c.cfg.WaitTime.Career,
	})
	if err := c.mandatory(PhaseHome, "career", out, err); err != nil {
		return PhaseHome, err
	}
	return PhaseEnterCareer, nil
}

// runEnterCareer walks the career setup dialogs up to the option screens.
func (c *Controller) runEnterCareer(ctx context.Context) (Phase, error) {
	for i := 0; i < 2; i++ {
		out, err := c.runner.Perform(ctx, StepSpec{
			Template: "next",
			Attempts: c.cfg.Attempts.Next,
			PostWait: c.cfg.WaitTime.Next,
		})
		if err := c.mandatory(PhaseEnterCareer, "next", out, err); err != nil {
			return PhaseHome, err
		}
		if err := c.clock.Sleep(ctx, settleWait); err != nil {
			return PhaseHome, err
		}
	}

	for _, tmpl := range []string{"auto_select_1", "ok"} {
		out, err := c.runner.Perform(ctx, StepSpec{Template: tmpl})
		if err := c.mandatory(PhaseEnterCareer, tmpl, out, err); err != nil {
			return PhaseHome, err
		}
		if err := c.clock.Sleep(ctx, settleWait); err != nil {
			return PhaseHome, err
		}
	}

	out, err := c.runner.Perform(ctx, StepSpec{
		Template: "next",
		PostWait: 2 * time.Second,
	})
	if err := c.mandatory(PhaseEnterCareer, "next", out, err); err != nil {
		return PhaseHome, err
	}
	return PhaseAutoSelect, nil
}

// runAutoSelect keeps tapping "next" while the game still offers options to
// auto-select. NotFound here is the normal end of the loop, not a failure;
// the bound only guards against an endless screen.
func (c *Controller) runAutoSelect(ctx context.Context) (Phase, error) {
	for i := 0; i < c.cfg.Attempts.Next; i++ {
		out, err := c.runner.Perform(ctx, StepSpec{
			Template: "next",
			Attempts: c.cfg.Attempts.NextCheck,
			PostWait: c.cfg.WaitTime.Next,
		})
		if err != nil {
			return PhaseHome, err
		}
		if out == OutcomeNotFound {
			c.logger.Info("No more options to auto-select", zap.Int("taps", i))
			break
		}
	}

	if c.cfg.ManualChoose {
		return PhaseFriendSelect, nil
	}
	return PhaseCareerStart, nil
}

// runCareerStart starts the career, detouring through the TP charge sequence
// whenever the charge prompt appears in place of the next screen.
func (c *Controller) runCareerStart(ctx context.Context) (Phase, error) {
	out, err := c.runner.Perform(ctx, StepSpec{
		Template: "start_career_1",
		PostWait: settleWait,
	})
	if err := c.mandatory(PhaseCareerStart, "start_career_1", out, err); err != nil {
		return PhaseHome, err
	}

	for {
		out, err := c.runner.Probe(ctx, "restore", c.cfg.Attempts.NextCheck)
		if err != nil {
			return PhaseHome, err
		}
		if out == OutcomeNotFound {
			break
		}

		c.logger.Info("TP charge prompt detected")
		charged, err := c.runCharge(ctx)
		if err != nil {
			return PhaseHome, err
		}
		if !charged {
			c.logger.Warn("TP charge incomplete, continuing cycle")
			break
		}

		out, err = c.runner.Perform(ctx, StepSpec{
			Template: "start_career_1",
			PostWait: settleWait,
		})
		if err := c.mandatory(PhaseCareerStart, "start_career_1", out, err); err != nil {
			return PhaseHome, err
		}
	}

	out, err = c.runner.Perform(ctx, StepSpec{
		Template: "start_career_2",
		PostWait: c.cfg.WaitTime.StartCareer,
	})
	if err := c.mandatory(PhaseCareerStart, "start_career_2", out, err); err != nil {
		return PhaseHome, err
	}
	return PhaseSkip, nil
}

// runSkip fast-forwards the race: skip dialogs, the fixed-coordinate tap and
// the skip-mode toggle whose state is only observable from the screen.
func (c *Controller) runSkip(ctx context.Context) (Phase, error) {
	out, err := c.runner.Perform(ctx, StepSpec{Template: "skip", PostWait: settleWait})
	if err := c.mandatory(PhaseSkip, "skip", out, err); err != nil {
		return PhaseHome, err
	}

	out, err = c.runner.Perform(ctx, StepSpec{Template: "skip_btn"})
	if err := c.mandatory(PhaseSkip, "skip_btn", out, err); err != nil {
		return PhaseHome, err
	}

	if err := c.clock.Sleep(ctx, c.cfg.WaitTime.Skip); err != nil {
		return PhaseHome, err
	}
	at := image.Point{
		X: c.cfg.Coordinates.TapAfterSkip[0],
		Y: c.cfg.Coordinates.TapAfterSkip[1],
	}
	if _, err := c.runner.Perform(ctx, StepSpec{At: &at}); err != nil {
		return PhaseHome, err
	}

	if err := c.toggleSkipMode(ctx); err != nil {
		return PhaseHome, err
	}

	out, err = c.runner.Perform(ctx, StepSpec{
		Template: "confirm",
		PostWait: time.Second,
	})
	if err := c.mandatory(PhaseSkip, "confirm", out, err); err != nil {
		return PhaseHome, err
	}
	if err := c.clock.Sleep(ctx, c.cfg.WaitTime.Confirm); err != nil {
		return PhaseHome, err
	}
	return PhaseResult, nil
}

// toggleSkipMode double-taps the skip toggle when it is off, then verifies
// which of its three states the screen settled in. Every branch is
// best-effort; an unrecognized state just proceeds.
func (c *Controller) toggleSkipMode(ctx context.Context) error {
	out, err := c.runner.Perform(ctx, StepSpec{
		Template: "skip_off",
		Attempts: 1,
		Taps:     2,
		TapPause: togglePause,
		PostWait: togglePause,
	})
	if err != nil {
		return err
	}
	if out == OutcomeNotFound {
		c.logger.Warn("Skip toggle not found, continuing")
		return nil
	}

	// Re-check: still off means the double tap bounced, tap it again.
	out, err = c.runner.Perform(ctx, StepSpec{
		Template: "skip_off",
		Attempts: 1,
		Taps:     2,
		TapPause: togglePause,
	})
	if err != nil {
		return err
	}
	if out == OutcomeSuccess {
		return nil
	}

	out, err = c.runner.Perform(ctx, StepSpec{Template: "skip_on_1", Attempts: 1})
	if err != nil {
		return err
	}
	if out == OutcomeSuccess {
		return nil
	}

	out, err = c.runner.Probe(ctx, "skip_on_2", 1)
	if err != nil {
		return err
	}
	if out == OutcomeNotFound {
		c.logger.Info("No specific skip state found, continuing")
	}
	return nil
}

// runResult drains any leftover "next" prompts on the result screen. Absence
// is the common case and a no-op.
func (c *Controller) runResult(ctx context.Context) (Phase, error) {
	if err := c.extraNextCheck(ctx); err != nil {
		return PhaseHome, err
	}
	return PhaseGiveUp, nil
}

func (c *Controller) extraNextCheck(ctx context.Context) error {
	out, err := c.runner.Perform(ctx, StepSpec{
		Template: "next",
		Attempts: c.cfg.Attempts.NextCheck,
		Taps:     5,
		TapPause: settleWait,
	})
	if err != nil {
		return err
	}
	if out == OutcomeNotFound {
		c.logger.Debug("No additional next prompt found")
	}
	return nil
}

// runGiveUp abandons the career so the next cycle can start. When the give-up
// entry is not reachable yet, the result screen is drained again and the menu
// reopened, up to attempts.give_up rounds before declaring a desync.
func (c *Controller) runGiveUp(ctx context.Context) (Phase, error) {
	for round := 0; round < c.cfg.Attempts.GiveUp; round++ {
		out, err := c.runner.Perform(ctx, StepSpec{Template: "menu"})
		if err := c.mandatory(PhaseGiveUp, "menu", out, err); err != nil {
			return PhaseHome, err
		}

		out, err = c.runner.Perform(ctx, StepSpec{
			Template: "give_up_1",
			Attempts: c.cfg.Attempts.GiveUp,
		})
		if err != nil {
			return PhaseHome, err
		}
		if out == OutcomeNotFound {
			c.logger.Warn("Give-up entry not reachable yet, draining result screen",
				zap.Int("round", round+1))
			if err := c.extraNextCheck(ctx); err != nil {
				return PhaseHome, err
			}
			continue
		}

		out, err = c.runner.Perform(ctx, StepSpec{
			Template: "give_up_2",
			Attempts: c.cfg.Attempts.GiveUp,
		})
		if err := c.mandatory(PhaseGiveUp, "give_up_2", out, err); err != nil {
			return PhaseHome, err
		}

		if err := c.clock.Sleep(ctx, c.cfg.WaitTime.Loop); err != nil {
			return PhaseHome, err
		}
		cycles := c.cycles.Add(1)
		c.logger.Info("Cycle completed", zap.Uint64("cycles", cycles))
		return PhaseHome, nil
	}
	return PhaseHome, &DesyncError{Phase: PhaseGiveUp, Template: "give_up_1"}
}

// recover performs the known-safe fallback after a desync: back out of
// whatever dialog is open and let the next cycle re-anchor on the home
// screen. Failures here are logged and ignored; the restart itself is the
// recovery.
func (c *Controller) recover(ctx context.Context) error {
	for i := 0; i < 2; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.drv.KeyEvent(ctx, "KEYCODE_BACK"); err != nil {
			c.logger.Debug("Recovery key event failed", zap.Error(err))
		}
		if err := c.clock.Sleep(ctx, c.cfg.WaitTime.Retry); err != nil {
			return err
		}
	}
	return c.clock.Sleep(ctx, c.cfg.WaitTime.Loop)
}
