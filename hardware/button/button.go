// Package button watches GPIO falling edges and feeds input.Button.
package button

import (
	"time"

	"github.com/bitdoglab/sectele/internal/input"
	"github.com/bitdoglab/sectele/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	gpio "github.com/temoto/gpio-cdev-go"
)

const consumerLabel = "sectele-button"

// Wait granularity, watcher notices stop within this.
const waitTimeout = 200 * time.Millisecond

type Watcher struct {
	log    *log2.Log
	ev     gpio.Eventer
	button *input.Button
	line   uint32
}

// Open requests falling edge events. Button is expected to pull line low on press.
func Open(log *log2.Log, chip gpio.Chiper, line uint32, activeLow bool, button *input.Button) (*Watcher, error) {
	var flag gpio.RequestFlag
	events := gpio.GPIOEVENT_REQUEST_FALLING_EDGE
	if activeLow {
		flag |= gpio.GPIOHANDLE_REQUEST_ACTIVE_LOW
		events = gpio.GPIOEVENT_REQUEST_RISING_EDGE
	}
	ev, err := chip.GetLineEvent(line, flag, events, consumerLabel)
	if err != nil {
		return nil, errors.Annotatef(err, "button line=%d event", line)
	}
	return &Watcher{log: log, ev: ev, button: button, line: line}, nil
}

func (self *Watcher) String() string { return "button" }

// Run blocks until a stops or line event fails. Closes event handle.
func (self *Watcher) Run(a *alive.Alive) error {
	defer self.ev.Close()
	for a.IsRunning() {
		e, err := self.ev.Wait(waitTimeout)
		if gpio.IsTimeout(err) {
			continue
		}
		if gpio.IsClosed(err) {
			return nil
		}
		if err != nil {
			return errors.Annotatef(err, "button line=%d wait", self.line)
		}
		if e.Timestamp == 0 {
			self.log.Errorf("button line=%d event without timestamp id=%d", self.line, e.ID)
			continue
		}
		if self.button.Edge(time.Duration(e.Timestamp)) {
			self.log.Debugf("button line=%d press ts=%d", self.line, e.Timestamp)
		}
	}
	return nil
}
