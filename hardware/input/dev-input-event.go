package input

import (
	"io"
	"os"
	"time"

	"github.com/bitdoglab/sectele/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/inputevent-go"
)

const DevInputEventTag = "dev-input-event"

// linux/input-event-codes.h
const (
	evKey uint16 = 0x01

	keyEnter   uint16 = 28
	keySpace   uint16 = 57
	keyKPEnter uint16 = 96
	keyUp      uint16 = 103
	keyDown    uint16 = 108
)

type DevInputEventSource struct {
	log    *log2.Log
	f      io.ReadCloser
	button Edger
	stick  *KeyStick
}

// compile-time interface compliance test
var _ Source = new(DevInputEventSource)

func (self *DevInputEventSource) String() string { return DevInputEventTag }

func NewDevInputEventSource(log *log2.Log, device string, button Edger, stick *KeyStick) (*DevInputEventSource, error) {
	f, err := os.Open(device)
	if err != nil {
		return nil, errors.Annotate(err, DevInputEventTag)
	}
	return newDevInputEventSource(log, f, button, stick), nil
}

func newDevInputEventSource(log *log2.Log, f io.ReadCloser, button Edger, stick *KeyStick) *DevInputEventSource {
	return &DevInputEventSource{log: log, f: f, button: button, stick: stick}
}

// Run reads until EOF, read error or a stops. Stop is noticed on next key event.
func (self *DevInputEventSource) Run(a *alive.Alive) error {
	defer self.f.Close()
	for a.IsRunning() {
		ie, err := inputevent.ReadOne(self.f)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Annotate(err, DevInputEventTag)
		}
		if ie.Type != evKey {
			continue
		}
		self.handleKey(ie)
	}
	return nil
}

func (self *DevInputEventSource) handleKey(ie inputevent.InputEvent) {
	state := inputevent.KeyEventState(ie.Value)
	self.log.Debugf("%s key=%d state=%d", DevInputEventTag, ie.Code, state)
	switch ie.Code {
	case keyEnter, keyKPEnter, keySpace:
		if state == inputevent.KeyStateDown {
			ts := time.Duration(ie.Time.Nano())
			if ts == 0 {
				ts = time.Duration(time.Now().UnixNano())
			}
			self.button.Edge(ts)
		}
	case keyUp:
		self.axis(state, StickMax)
	case keyDown:
		self.axis(state, StickMin)
	}
}

func (self *DevInputEventSource) axis(state inputevent.KeyEventState, v uint16) {
	if self.stick == nil {
		return
	}
	switch state {
	case inputevent.KeyStateDown, inputevent.KeyStateHold:
		self.stick.Hold(v)
	case inputevent.KeyStateUp:
		self.stick.Release()
	}
}
