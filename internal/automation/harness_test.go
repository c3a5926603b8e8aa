// File: internal/automation/harness_test.go
// Shared fakes for the automation tests: a driver serving synthetic
// screenshots and a clock that records waits instead of sleeping.
package automation

import (
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Kisegami/umafarm/internal/config"
	"github.com/Kisegami/umafarm/internal/vision"
)

const (
	testScreenSize = 128
	testTmplSize   = 10
	blankShade     = 10
)

// stampAnchors are the fixed positions screenShowing places templates at.
// The first anchor's template center is (13, 13).
var stampAnchors = []image.Point{
	{X: 8, Y: 8}, {X: 48, Y: 8}, {X: 88, Y: 8}, {X: 8, Y: 48}, {X: 48, Y: 48},
}

// tmplImage derives a deterministic binary-noise raster from the template
// name. Distinct names produce rasters that disagree on roughly half their
// pixels, so templates never cross-match at the 0.8 threshold. The center is
// forced bright so the brightness filter sees the stamp as enabled.
func tmplImage(name string) *image.Gray {
	h := fnv.New32a()
	h.Write([]byte(name))
	r := rand.New(rand.NewSource(int64(h.Sum32())))

	img := image.NewGray(image.Rect(0, 0, testTmplSize, testTmplSize))
	for i := range img.Pix {
		if r.Intn(2) == 1 {
			img.Pix[i] = 255
		}
	}
	for y := 4; y <= 6; y++ {
		for x := 4; x <= 6; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	return img
}

func testLibrary() *vision.Library {
	var tmpls []vision.Template
	for _, name := range RequiredTemplates(true) {
		tmpls = append(tmpls, vision.NewTemplate(name, tmplImage(name)))
	}
	return vision.NewLibrary(tmpls...)
}

func blankScreen() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, testScreenSize, testScreenSize))
	for i := range img.Pix {
		img.Pix[i] = blankShade
	}
	return img
}

func stampAt(dst *image.Gray, src *image.Gray, at image.Point) {
	for y := 0; y < src.Rect.Dy(); y++ {
		for x := 0; x < src.Rect.Dx(); x++ {
			dst.SetGray(at.X+x, at.Y+y, src.GrayAt(x, y))
		}
	}
}

// screenShowing builds a blank screen with the named templates stamped at the
// fixed anchors, in order.
func screenShowing(names ...string) *image.Gray {
	img := blankScreen()
	for i, name := range names {
		stampAt(img, tmplImage(name), stampAnchors[i])
	}
	return img
}

// anchorCenter is where a tap lands for the template stamped at anchor i.
func anchorCenter(i int) image.Point {
	return image.Point{
		X: stampAnchors[i].X + testTmplSize/2,
		Y: stampAnchors[i].Y + testTmplSize/2,
	}
}

// fakeDriver serves scripted screenshots in order, then blanks forever, and
// records every tap and key event.
type fakeDriver struct {
	screens  []image.Image
	taps     []image.Point
	keys     []string
	captures int
	capErr   error
}

func (d *fakeDriver) Screencap(ctx context.Context) (image.Image, error) {
	if d.capErr != nil {
		return nil, d.capErr
	}
	d.captures++
	if len(d.screens) > 0 {
		img := d.screens[0]
		d.screens = d.screens[1:]
		return img, nil
	}
	return blankScreen(), nil
}

func (d *fakeDriver) Tap(ctx context.Context, pt image.Point) error {
	d.taps = append(d.taps, pt)
	return nil
}

func (d *fakeDriver) KeyEvent(ctx context.Context, key string) error {
	d.keys = append(d.keys, key)
	return nil
}

// fakeClock records requested waits without sleeping. onSleep receives the
// running count of sleeps and may cancel the test context.
type fakeClock struct {
	sleeps  []time.Duration
	onSleep func(n int)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	if c.onSleep != nil {
		c.onSleep(len(c.sleeps))
	}
	return ctx.Err()
}

func testAutomationConfig() config.AutomationConfig {
	return config.AutomationConfig{
		MatchThreshold: 0.8,
		WaitTime: config.WaitTimeConfig{
			Career:      10 * time.Millisecond,
			Next:        time.Millisecond,
			StartCareer: 2 * time.Millisecond,
			Skip:        time.Millisecond,
			Confirm:     5 * time.Millisecond,
			Loop:        5 * time.Millisecond,
			Retry:       time.Millisecond,
		},
		Attempts: config.AttemptsConfig{
			Default:   2,
			Next:      3,
			NextCheck: 1,
			GiveUp:    2,
		},
		Coordinates: config.CoordinatesConfig{TapAfterSkip: []int{11, 22}},
		Filter:      config.FilterConfig{Rarity: "SSR", Speciality: "POWER"},
		Charge:      config.ChargeConfig{BrightnessThreshold: 170, DedupDistance: 12},
	}
}

type fixture struct {
	drv   *fakeDriver
	clock *fakeClock
	ctrl  *Controller
	run   *Runner
}

func newFixture(manual bool, screens ...image.Image) *fixture {
	cfg := testAutomationConfig()
	cfg.ManualChoose = manual

	drv := &fakeDriver{screens: screens}
	clock := &fakeClock{}
	logger := zap.NewNop()
	runner := NewRunner(drv, testLibrary(), clock, logger, cfg,
		config.ScreenConfig{Width: testScreenSize, Height: testScreenSize})

	return &fixture{
		drv:   drv,
		clock: clock,
		ctrl:  NewController(runner, drv, clock, cfg, logger),
		run:   runner,
	}
}
