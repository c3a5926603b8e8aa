// File: internal/automation/cycle_test.go
package automation

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "home", PhaseHome.String())
	assert.Equal(t, "give_up", PhaseGiveUp.String())
	assert.Equal(t, "unknown", Phase(99).String())
}

func TestRequiredTemplates(t *testing.T) {
	base := RequiredTemplates(false)
	assert.Contains(t, base, "career")
	assert.Contains(t, base, "give_up_2")
	assert.NotContains(t, base, "plus")

	manual := RequiredTemplates(true)
	assert.Contains(t, manual, "plus")
	assert.Contains(t, manual, "following")
}

func TestRunHome(t *testing.T) {
	f := newFixture(false, screenShowing("career"))

	next, err := f.ctrl.runHome(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseEnterCareer, next)
	require.Len(t, f.drv.taps, 1)
	assert.Equal(t, anchorCenter(0), f.drv.taps[0])
	// The career entry gets the long load wait.
	assert.Contains(t, f.clock.sleeps, testAutomationConfig().WaitTime.Career)
}

func TestRunHomeDesync(t *testing.T) {
	f := newFixture(false) // career never appears

	_, err := f.ctrl.runHome(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDesync)
	assert.Empty(t, f.drv.taps)

	var desync *DesyncError
	require.ErrorAs(t, err, &desync)
	assert.Equal(t, PhaseHome, desync.Phase)
	assert.Equal(t, "career", desync.Template)
}

func TestRunEnterCareer(t *testing.T) {
	f := newFixture(false,
		screenShowing("next"),
		screenShowing("next"),
		screenShowing("auto_select_1"),
		screenShowing("ok"),
		screenShowing("next"),
	)

	next, err := f.ctrl.runEnterCareer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseAutoSelect, next)
	assert.Len(t, f.drv.taps, 5)
}

func TestRunAutoSelectStopsWhenNextGone(t *testing.T) {
	f := newFixture(false,
		screenShowing("next"),
		screenShowing("next"),
		// then blank: the loop's natural end
	)

	next, err := f.ctrl.runAutoSelect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseCareerStart, next)
	assert.Len(t, f.drv.taps, 2)
}

func TestRunAutoSelectManualChooseBranch(t *testing.T) {
	f := newFixture(true) // next never visible

	next, err := f.ctrl.runAutoSelect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseFriendSelect, next)
	assert.Empty(t, f.drv.taps)
}

func TestRunAutoSelectBounded(t *testing.T) {
	// "next" never disappears; the loop still terminates at attempts.next.
	var screens []image.Image
	for i := 0; i < 10; i++ {
		screens = append(screens, screenShowing("next"))
	}
	f := newFixture(false, screens...)

	next, err := f.ctrl.runAutoSelect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseCareerStart, next)
	assert.Len(t, f.drv.taps, testAutomationConfig().Attempts.Next)
}

func TestRunCareerStartWithoutChargePrompt(t *testing.T) {
	f := newFixture(false,
		screenShowing("start_career_1"),
		blankScreen(), // restore probe misses
		screenShowing("start_career_2"),
	)

	next, err := f.ctrl.runCareerStart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseSkip, next)
	assert.Len(t, f.drv.taps, 2)
}

func TestRunCareerStartDesyncOnMissingStart(t *testing.T) {
	f := newFixture(false)

	_, err := f.ctrl.runCareerStart(context.Background())
	assert.ErrorIs(t, err, ErrDesync)
}

func TestRunSkip(t *testing.T) {
	f := newFixture(false,
		screenShowing("skip"),
		screenShowing("skip_btn"),
		blankScreen(), // skip toggle not visible, best effort continues
		screenShowing("confirm"),
	)

	next, err := f.ctrl.runSkip(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseResult, next)
	require.Len(t, f.drv.taps, 4)
	// The third tap is the fixed post-skip coordinate.
	assert.Equal(t, image.Point{X: 11, Y: 22}, f.drv.taps[2])
}

func TestToggleSkipModeDoubleTapsWhenOff(t *testing.T) {
	f := newFixture(false,
		screenShowing("skip_off"),
		blankScreen(), // recheck: toggle flipped
		screenShowing("skip_on_1"),
	)

	require.NoError(t, f.ctrl.toggleSkipMode(context.Background()))
	// Two taps for the off toggle, one for the on-state button.
	assert.Len(t, f.drv.taps, 3)
}

func TestToggleSkipModeSettledState(t *testing.T) {
	f := newFixture(false,
		blankScreen(), // skip_off miss
	)

	require.NoError(t, f.ctrl.toggleSkipMode(context.Background()))
	assert.Empty(t, f.drv.taps)
}

func TestRunResultDrainsNext(t *testing.T) {
	f := newFixture(false, screenShowing("next"))

	next, err := f.ctrl.runResult(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseGiveUp, next)
	// The drain taps rapidly to flush stacked prompts.
	assert.Len(t, f.drv.taps, 5)
}

func TestRunResultNothingToDrain(t *testing.T) {
	f := newFixture(false)

	next, err := f.ctrl.runResult(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseGiveUp, next)
	assert.Empty(t, f.drv.taps)
}

func TestRunGiveUp(t *testing.T) {
	f := newFixture(false,
		screenShowing("menu"),
		screenShowing("give_up_1"),
		screenShowing("give_up_2"),
	)

	next, err := f.ctrl.runGiveUp(context.Background())
	require.NoError(t, err)

	assert.Equal(t, PhaseHome, next)
	assert.Len(t, f.drv.taps, 3)
	assert.Equal(t, uint64(1), f.ctrl.Snapshot().Cycles)
}

func TestRunGiveUpDrainsAndRetries(t *testing.T) {
	f := newFixture(false,
		screenShowing("menu"),
		blankScreen(), blankScreen(), // give_up_1 misses its attempts
		blankScreen(),                // drain finds nothing
		screenShowing("menu"),
		screenShowing("give_up_1"),
		screenShowing("give_up_2"),
	)

	next, err := f.ctrl.runGiveUp(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseHome, next)
	assert.Equal(t, uint64(1), f.ctrl.Snapshot().Cycles)
}

func TestRunGiveUpDesyncAfterAllRounds(t *testing.T) {
	f := newFixture(false,
		screenShowing("menu"),
		blankScreen(), blankScreen(), blankScreen(),
		screenShowing("menu"),
		blankScreen(), blankScreen(), blankScreen(),
	)

	_, err := f.ctrl.runGiveUp(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDesync)
	assert.Equal(t, uint64(0), f.ctrl.Snapshot().Cycles)
}

func TestRunFullCycle(t *testing.T) {
	f := newFixture(false,
		// home and career entry
		screenShowing("career"),
		screenShowing("next"),
		screenShowing("next"),
		screenShowing("auto_select_1"),
		screenShowing("ok"),
		screenShowing("next"),
		// auto-select: one option, then done
		screenShowing("next"),
		blankScreen(),
		// career start, no charge prompt
		screenShowing("start_career_1"),
		blankScreen(),
		screenShowing("start_career_2"),
		// skip sequence, toggle already settled
		screenShowing("skip"),
		screenShowing("skip_btn"),
		blankScreen(),
		screenShowing("confirm"),
		// result screen clean
		blankScreen(),
		// give up
		screenShowing("menu"),
		screenShowing("give_up_1"),
		screenShowing("give_up_2"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.onSleep = func(int) {
		if f.ctrl.Snapshot().Cycles >= 1 {
			cancel()
		}
	}

	err := f.ctrl.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, uint64(1), snap.Cycles)
	assert.Equal(t, uint64(0), snap.Desyncs)
	assert.Len(t, f.drv.taps, 16)
	assert.Empty(t, f.drv.keys, "a clean cycle needs no recovery key events")
}

func TestRunRecoversFromDesync(t *testing.T) {
	f := newFixture(false) // nothing ever matches

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.onSleep = func(n int) {
		if n >= 6 {
			cancel()
		}
	}

	err := f.ctrl.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	snap := f.ctrl.Snapshot()
	assert.GreaterOrEqual(t, snap.Desyncs, uint64(1))
	assert.Equal(t, uint64(0), snap.Cycles, "a desynced attempt never counts as a cycle")
	assert.Contains(t, f.drv.keys, "KEYCODE_BACK")
	assert.Empty(t, f.drv.taps)
}

func TestRunStopsOnFriendSelectionFailure(t *testing.T) {
	f := newFixture(true,
		screenShowing("career"),
		screenShowing("next"),
		screenShowing("next"),
		screenShowing("auto_select_1"),
		screenShowing("ok"),
		screenShowing("next"),
		// auto-select finds nothing, manual choose branch follows and the
		// friend slot never appears
	)

	err := f.ctrl.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFriendSelection)
}
