// Package input merges debounced button and hysteresis joystick into one
// polled event stream.
package input

import (
	"time"

	"github.com/bitdoglab/sectele/internal/types"
	"github.com/bitdoglab/sectele/log2"
	"github.com/juju/errors"
)

// SampleMax is full scale of joystick reading.
const SampleMax = 4095

// Sampler returns raw 12-bit joystick axis reading.
type Sampler interface {
	Sample() (uint16, error)
}

type SamplerFunc func() (uint16, error)

func (f SamplerFunc) Sample() (uint16, error) { return f() }

type Arbiter struct {
	log     *log2.Log
	button  *Button
	extra   []*Button
	stick   *Joystick
	sampler Sampler
	faulty  bool
}

// NewArbiter: nil sampler disables navigation.
func NewArbiter(log *log2.Log, button *Button, stick *Joystick, sampler Sampler) *Arbiter {
	if button == nil {
		button = NewButton(DefaultDebounce)
	}
	if stick == nil {
		stick = NewJoystick(DefaultJoystickConfig)
	}
	return &Arbiter{
		log:     log,
		button:  button,
		stick:   stick,
		sampler: sampler,
	}
}

func (self *Arbiter) Button() *Button { return self.button }

// AddButton returns a separate confirm input for another edge source.
// Sources with different timestamp clocks must not share one Button.
// Call before loop starts.
func (self *Arbiter) AddButton(window time.Duration) *Button {
	b := NewButton(window)
	self.extra = append(self.extra, b)
	return b
}

// Discard drops confirm presses latched while loop was not polling.
// Returns true if any press was dropped.
func (self *Arbiter) Discard() bool {
	dropped := self.button.Take()
	for _, b := range self.extra {
		dropped = b.Take() || dropped
	}
	return dropped
}

// Poll returns at most one event. Confirm wins over navigation.
// Never blocks longer than one sampler read.
func (self *Arbiter) Poll(now time.Duration) (types.Event, bool) {
	if self.button.Take() {
		return types.Event{Kind: types.EventConfirm, At: int64(now)}, true
	}
	for _, b := range self.extra {
		if b.Take() {
			return types.Event{Kind: types.EventConfirm, At: int64(now)}, true
		}
	}
	if self.sampler == nil {
		return types.Event{}, false
	}
	value, err := self.sampler.Sample()
	if err != nil {
		// log fault transitions only, sampler is polled every tick
		if !self.faulty {
			self.faulty = true
			self.log.Errorf("input fault: %v", errors.Annotate(err, "joystick sample"))
		}
		return types.Event{}, false
	}
	if self.faulty {
		self.faulty = false
		self.log.Infof("input joystick recovered")
	}
	e, ok := self.stick.Update(value, now)
	if ok {
		self.log.Debugf("input %s value=%d", e.String(), value)
	}
	return e, ok
}
