// File: internal/automation/friend.go
package automation

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"
)

// followingThreshold is looser than the global floor: the friend list entry
// renders over a variable portrait background.
const followingThreshold = 0.7

// The filter dialog has no reliable templates; its controls sit at fixed
// coordinates on the 1080x1920 layout.
var (
	filterButton  = image.Point{X: 747, Y: 1623}
	filterSortTab = image.Point{X: 786, Y: 203}

	rarityCoords = map[string]image.Point{
		"R":   {X: 102, Y: 408},
		"SR":  {X: 437, Y: 414},
		"SSR": {X: 777, Y: 410},
	}
	specialityCoords = map[string]image.Point{
		"SPEED":   {X: 102, Y: 627},
		"STAMINA": {X: 444, Y: 623},
		"POWER":   {X: 786, Y: 618},
		"GUTS":    {X: 109, Y: 741},
		"WIT":     {X: 442, Y: 732},
		"PAL":     {X: 777, Y: 731},
	}
)

// runFriendSelect picks a support friend by hand instead of letting the game
// choose. A miss on the followed-friend entry triggers the filter sequence
// once; a miss after that stops the whole run, since farming points against
// the wrong friend would be wasted.
func (c *Controller) runFriendSelect(ctx context.Context) (Phase, error) {
	out, err := c.runner.Perform(ctx, StepSpec{
		Template: "plus",
		PostWait: time.Second,
	})
	if err != nil {
		return PhaseHome, err
	}
	if out == OutcomeNotFound {
		return PhaseHome, fmt.Errorf("%w: friend slot not found", ErrFriendSelection)
	}

	out, err = c.tapFollowing(ctx)
	if err != nil {
		return PhaseHome, err
	}
	if out == OutcomeSuccess {
		return PhaseCareerStart, nil
	}

	c.logger.Info("Followed friend not visible, applying filter")
	if err := c.applyFilter(ctx); err != nil {
		return PhaseHome, err
	}

	out, err = c.tapFollowing(ctx)
	if err != nil {
		return PhaseHome, err
	}
	if out == OutcomeNotFound {
		return PhaseHome, fmt.Errorf("%w: followed friend not found after filter", ErrFriendSelection)
	}
	return PhaseCareerStart, nil
}

func (c *Controller) tapFollowing(ctx context.Context) (Outcome, error) {
	return c.runner.Perform(ctx, StepSpec{
		Template:  "following",
		Threshold: followingThreshold,
		Attempts:  5,
		PostWait:  togglePause,
	})
}

// applyFilter narrows the friend list to the configured rarity and
// speciality through the fixed-coordinate filter dialog.
func (c *Controller) applyFilter(ctx context.Context) error {
	rarity := strings.ToUpper(c.cfg.Filter.Rarity)
	speciality := strings.ToUpper(c.cfg.Filter.Speciality)

	rarityPt, ok := rarityCoords[rarity]
	if !ok {
		return fmt.Errorf("%w: unknown rarity selection %q", ErrFriendSelection, rarity)
	}
	specialityPt, ok := specialityCoords[speciality]
	if !ok {
		return fmt.Errorf("%w: unknown speciality selection %q", ErrFriendSelection, speciality)
	}

	c.logger.Info("Applying friend filter",
		zap.String("rarity", rarity),
		zap.String("speciality", speciality),
	)

	taps := []struct {
		at   image.Point
		wait time.Duration
	}{
		{filterButton, settleWait},
		{filterSortTab, settleWait},
		{rarityPt, togglePause},
		{specialityPt, togglePause},
	}
	for _, t := range taps {
		at := t.at
		if _, err := c.runner.Perform(ctx, StepSpec{At: &at, PostWait: t.wait}); err != nil {
			return err
		}
	}

	out, err := c.runner.Perform(ctx, StepSpec{Template: "ok", PostWait: settleWait})
	if err != nil {
		return err
	}
	if out == OutcomeNotFound {
		return fmt.Errorf("%w: filter confirmation not found", ErrFriendSelection)
	}
	return nil
}
