package ui

import (
	"sync/atomic"
	"time"

	"github.com/bitdoglab/sectele/hardware/text_display"
	"github.com/bitdoglab/sectele/internal/types"
)

// State is Menu or the operating mode.
func (self *UI) State() types.Mode       { return types.Mode(atomic.LoadUint32(&self.state)) }
func (self *UI) setState(new types.Mode) { atomic.StoreUint32(&self.state, uint32(new)) }

func (self *UI) handleEvent(e types.Event, now time.Duration) {
	current := self.State()
	self.g.Log.Debugf("ui state=%s %s", current.String(), e.String())
	if current == types.ModeMenu {
		switch e.Kind {
		case types.EventNavigateUp:
			self.menu.Move(-1)
			self.drawMenu()
		case types.EventNavigateDown:
			self.menu.Move(+1)
			self.drawMenu()
		case types.EventConfirm:
			next := self.menu.Current()
			if err := self.persist.Store(); err != nil {
				self.g.Log.Error(err)
			}
			self.enter(next, now)
		}
		return
	}

	switch e.Kind {
	case types.EventConfirm:
		self.menu.Select(current)
		self.enter(types.ModeMenu, now)
	default:
		// navigation has no meaning inside mode
	}
}

// enter transitions and prepares full clear draw of next state.
func (self *UI) enter(next types.Mode, now time.Duration) {
	self.g.Log.Debugf("ui %s -> %s", self.State().String(), next.String())
	self.setState(next)
	if next == types.ModeMenu {
		self.screen.reset(text_display.ScreenMenu, "")
		self.drawMenu()
	} else {
		b := self.behaviors[next]
		self.screen.reset(text_display.ScreenStatus, "Mode: "+ModeLabel(next))
		if err := b.enter(&self.screen, now); err != nil {
			self.fail(next, err, now)
			return
		}
	}
	if self.XXX_testHook != nil {
		self.XXX_testHook(next)
	}
}

// fail shows error screen for fixed time then forces Menu with mode selected.
// Only time based transition. Blocks loop for error screen duration.
func (self *UI) fail(mode types.Mode, err error, now time.Duration) {
	self.g.Error(err, "ui mode=%s", mode.String())
	reason := "Mode failed"
	if isUnavailable(err) {
		reason = MsgUnavailable
	}
	self.display.Render(text_display.RenderRequest{
		Lines: []string{MsgError, ModeLabel(mode), reason, MsgBackToMenu},
		Kind:  text_display.ScreenStatus,
		Clear: true,
	})
	self.sleep(self.config.ErrorScreen())
	// press during error screen must not re-enter failed mode
	if self.arbiter.Discard() {
		self.g.Log.Debugf("ui input dropped during error screen")
	}
	self.menu.Select(mode)
	self.enter(types.ModeMenu, now)
}
