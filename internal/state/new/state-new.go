// Package state_new builds Global with mock hardware and transport for tests.
package state_new

import (
	"context"
	"os"
	"testing"

	hw_input "github.com/bitdoglab/sectele/hardware/input"
	"github.com/bitdoglab/sectele/hardware/text_display"
	"github.com/bitdoglab/sectele/internal/input"
	"github.com/bitdoglab/sectele/internal/state"
	"github.com/bitdoglab/sectele/internal/tele"
	"github.com/bitdoglab/sectele/log2"
)

type Mocks struct {
	Display *text_display.MockDevicer
	Stick   *hw_input.KeyStick
	Tele    *tele.MockTransport
}

// NewTestContext inits Global from confString with display width 20.
func NewTestContext(t testing.TB, confString string) (context.Context, *state.Global, *Mocks) {
	fs := state.NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("sectele_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	mocks := &Mocks{
		Stick: hw_input.NewKeyStick(),
		Tele:  tele.NewMockTransport(true),
	}
	ctx, g := state.NewContext(log, mocks.Tele)
	g.BuildVersion = "test"

	td, dev := text_display.NewMockTextDisplay(&text_display.TextDisplayConfig{Width: 20})
	mocks.Display = dev
	g.Hardware.Display.Display = td
	g.Hardware.Display.Device = dev
	g.Hardware.Input.Stick = mocks.Stick
	g.Hardware.Input.Arbiter = input.NewArbiter(log, nil, nil, mocks.Stick)

	g.MustInit(ctx, state.MustReadConfig(log, fs, "test-inline"))
	return ctx, g, mocks
}
