package input

import (
	"time"

	"github.com/bitdoglab/sectele/internal/types"
	"github.com/juju/errors"
)

// 12-bit ADC readings, center around 2048.
type JoystickConfig struct {
	UpThreshold   uint16 // value above emits NavigateUp
	DownThreshold uint16 // value below emits NavigateDown
	DeadzoneLow   uint16 // open interval (DeadzoneLow, DeadzoneHigh) re-arms
	DeadzoneHigh  uint16
	UnlockTimeout time.Duration
}

var DefaultJoystickConfig = JoystickConfig{
	UpThreshold:   3000,
	DownThreshold: 1000,
	DeadzoneLow:   1500,
	DeadzoneHigh:  2500,
	UnlockTimeout: 500 * time.Millisecond,
}

// Joystick emits one navigation event per deflection.
// Not safe for concurrent use, owned by loop.
type Joystick struct {
	c        JoystickConfig
	locked   bool
	lockedAt time.Duration
}

// WithDefaults fills zero thresholds and timeout from DefaultJoystickConfig.
func (c JoystickConfig) WithDefaults() JoystickConfig {
	d := DefaultJoystickConfig
	if c.UpThreshold == 0 {
		c.UpThreshold = d.UpThreshold
	}
	if c.DownThreshold == 0 {
		c.DownThreshold = d.DownThreshold
	}
	if c.DeadzoneLow == 0 && c.DeadzoneHigh == 0 {
		c.DeadzoneLow, c.DeadzoneHigh = d.DeadzoneLow, d.DeadzoneHigh
	}
	if c.UnlockTimeout == 0 {
		c.UnlockTimeout = d.UnlockTimeout
	}
	return c
}

// Validate requires down <= deadzone low < deadzone high <= up.
func (c JoystickConfig) Validate() error {
	if !(c.DownThreshold <= c.DeadzoneLow && c.DeadzoneLow < c.DeadzoneHigh && c.DeadzoneHigh <= c.UpThreshold) {
		return errors.NotValidf("joystick zones overlap down=%d deadzone=%d..%d up=%d",
			c.DownThreshold, c.DeadzoneLow, c.DeadzoneHigh, c.UpThreshold)
	}
	return nil
}

// NewJoystick panics on invalid zones, validate user input before.
func NewJoystick(c JoystickConfig) *Joystick {
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		panic("code error " + err.Error())
	}
	return &Joystick{c: c}
}

func (self *Joystick) Locked() bool { return self.locked }

func (self *Joystick) Update(value uint16, now time.Duration) (types.Event, bool) {
	if self.locked {
		if value > self.c.DeadzoneLow && value < self.c.DeadzoneHigh {
			self.locked = false
		} else if now-self.lockedAt > self.c.UnlockTimeout {
			self.locked = false
		} else {
			return types.Event{}, false
		}
	}

	var kind types.EventKind
	switch {
	case value > self.c.UpThreshold:
		kind = types.EventNavigateUp
	case value < self.c.DownThreshold:
		kind = types.EventNavigateDown
	default:
		return types.Event{}, false
	}
	self.locked = true
	self.lockedAt = now
	return types.Event{Kind: kind, At: int64(now)}, true
}
