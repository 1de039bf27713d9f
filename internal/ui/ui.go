// Package ui is the mode controller: menu, mode behaviors, redraw policy.
// One loop goroutine owns all controller state. Transport callbacks only
// enqueue payload copies into the inbox.
package ui

import (
	"context"
	"time"

	"github.com/bitdoglab/sectele/hardware/text_display"
	"github.com/bitdoglab/sectele/internal/input"
	"github.com/bitdoglab/sectele/internal/state"
	"github.com/bitdoglab/sectele/internal/state/persist"
	"github.com/bitdoglab/sectele/internal/types"
	ui_config "github.com/bitdoglab/sectele/internal/ui/config"
	"github.com/juju/errors"
)

const (
	DefaultTitlePublisher  = "PUBLISHER"
	DefaultTitleSubscriber = "SUBSCRIBER"
)

type UI struct { //nolint:maligned
	config    *ui_config.Config
	g         *state.Global
	state     uint32 // types.Mode
	menu      *Menu
	persist   persist.Persist
	display   *text_display.TextDisplay
	arbiter   *input.Arbiter
	inbox     chan []byte
	behaviors map[types.Mode]modeBehavior
	screen    screen
	title     string
	topic     string
	sleep     func(time.Duration)

	XXX_sleep    func(time.Duration)
	XXX_testHook func(types.Mode)
}

func (self *UI) Init(ctx context.Context) error {
	self.g = state.GetGlobal(ctx)
	self.config = &self.g.Config.UI

	var err error
	if self.display, err = self.g.TextDisplay(); err != nil {
		return errors.Annotate(err, "ui display")
	}
	if self.display == nil {
		return errors.Errorf("code error ui display=nil")
	}
	if self.arbiter, err = self.g.Arbiter(); err != nil {
		return errors.Annotate(err, "ui input")
	}
	self.sleep = time.Sleep
	if self.XXX_sleep != nil {
		self.sleep = self.XXX_sleep
	}
	self.topic = self.g.Config.Tele.TopicOrDefault()
	self.inbox = make(chan []byte, self.config.InboxSizeOrDefault())

	self.title = DefaultTitlePublisher
	if self.config.Msg.TitlePublisher != "" {
		self.title = self.config.Msg.TitlePublisher
	}
	if self.g.Role == types.RoleSubscriber {
		self.title = DefaultTitleSubscriber
		if self.config.Msg.TitleSubscriber != "" {
			self.title = self.config.Msg.TitleSubscriber
		}
	}

	self.menu = NewMenu()
	if self.config.DefaultMode != "" {
		mode, err := types.ParseMode(self.config.DefaultMode)
		if err != nil {
			return errors.Annotate(err, "config: ui.default_mode")
		}
		self.menu.Select(mode)
	}
	if err = self.persist.Init("menu", self.menu, self.g.Config.Persist.Root, self.g.Log); err != nil {
		return errors.Trace(err)
	}
	if err = self.persist.Load(); err != nil {
		// selection is convenience, start with default
		self.g.Log.Error(err)
	}
	self.g.Log.Debugf("ui %s", self.menu.String())

	preview := (int(self.display.Width()) - 2) / 2
	if preview < 1 {
		preview = 1
	}
	env := &behaviorEnv{
		log:      self.g.Log,
		preview:  preview,
		publish:  func(p []byte) error { return self.g.Tele.Publish(self.topic, p) },
		value:    newValueReader(self.g.Log, self.config).read,
		interval: self.config.PublishInterval(),
	}
	self.behaviors = make(map[types.Mode]modeBehavior, len(types.OperatingModes))
	for _, mode := range types.OperatingModes {
		enabled, err := self.g.Config.ModeEnabled(mode)
		if err != nil {
			return err
		}
		self.behaviors[mode] = newBehavior(env, self.g.Role, mode, enabled, self.g.Keys)
	}

	self.setState(types.ModeMenu)
	self.screen.reset(text_display.ScreenMenu, "")
	self.drawMenu()
	return nil
}

func (self *UI) MenuSelected() types.Mode { return self.menu.Current() }

// OnMessage is transport callback. Never blocks: full inbox drops message.
func (self *UI) OnMessage(topic string, payload []byte) {
	self.g.Log.Debugf("ui received topic=%s payload=%x", topic, payload)
	p := append([]byte(nil), payload...)
	select {
	case self.inbox <- p:
	default:
		self.g.Log.Errorf("ui inbox full, dropped topic=%s len=%d", topic, len(payload))
	}
}

// Loop ticks until ctx is done or g.Alive stops.
func (self *UI) Loop(ctx context.Context) {
	self.g.Alive.Add(1)
	defer self.g.Alive.Done()
	ticker := time.NewTicker(self.config.Tick())
	defer ticker.Stop()
	stopch := self.g.Alive.StopChan()
	self.Tick(self.g.Now())
	for {
		select {
		case <-ticker.C:
			self.Tick(self.g.Now())
		case <-ctx.Done():
			self.g.Log.Debugf("ui loop end ctx")
			return
		case <-stopch:
			self.g.Log.Debugf("ui loop end")
			return
		}
	}
}

// Tick is one loop iteration on controller clock now.
// At most one input event, then inbox, then mode behavior, then render.
func (self *UI) Tick(now time.Duration) {
	e, ok := self.arbiter.Poll(now)
	if ok {
		self.handleEvent(e, now)
	}
	self.drainInbox()
	if !ok {
		if b := self.behavior(); b != nil {
			if err := b.tick(&self.screen, now); err != nil {
				self.fail(b.Mode(), err, now)
			}
		}
	}
	self.flush()
}

func (self *UI) drainInbox() {
	for {
		select {
		case p := <-self.inbox:
			b := self.behavior()
			if b == nil || !b.accepts() {
				self.g.Log.Debugf("ui state=%s dropped message len=%d", self.State().String(), len(p))
				continue
			}
			b.message(&self.screen, p)
		default:
			return
		}
	}
}

func (self *UI) behavior() modeBehavior {
	s := self.State()
	if s == types.ModeMenu {
		return nil
	}
	return self.behaviors[s]
}

func (self *UI) drawMenu() {
	for i, line := range self.menu.Lines(self.display.CenterString(self.title)) {
		self.screen.set(i, line)
	}
}

func (self *UI) flush() {
	if !self.screen.dirty {
		return
	}
	self.display.Render(self.screen.request())
	self.screen.clear = false
	self.screen.dirty = false
}

// screen is the controller copy of display rows.
type screen struct {
	lines [text_display.MaxRows]string
	kind  text_display.ScreenKind
	clear bool // first draw for state
	dirty bool
}

func (s *screen) reset(kind text_display.ScreenKind, title string) {
	s.lines = [text_display.MaxRows]string{title}
	s.kind = kind
	s.clear = true
	s.dirty = true
}

func (s *screen) set(row int, text string) {
	if s.lines[row] != text {
		s.lines[row] = text
		s.dirty = true
	}
}

// status sets rows 1-4.
func (s *screen) status(r1, r2, r3, r4 string) {
	s.set(1, r1)
	s.set(2, r2)
	s.set(3, r3)
	s.set(4, r4)
}

func (s *screen) request() text_display.RenderRequest {
	lines := make([]string, len(s.lines))
	copy(lines, s.lines[:])
	return text_display.RenderRequest{Lines: lines, Kind: s.kind, Clear: s.clear}
}
