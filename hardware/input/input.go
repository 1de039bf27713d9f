// Package input adapts non-GPIO input devices (Linux key events, console)
// to the controller's button and joystick paths.
package input

import (
	"sync/atomic"
	"time"

	"github.com/temoto/alive/v2"
)

const (
	StickMin    uint16 = 0
	StickCenter uint16 = 2048
	StickMax    uint16 = 4095
)

type Source interface {
	Run(a *alive.Alive) error
	String() string
}

// Edger accepts confirm edges, satisfied by *input.Button.
type Edger interface {
	Edge(ts time.Duration) bool
}

// KeyStick is a virtual analog axis driven by digital keys.
// Safe for concurrent Hold/Pulse from source goroutine and Sample from loop.
type KeyStick struct {
	v     uint32 // low 16 bits value, bit 16 pulse
	inval uint32
}

const pulseBit = 1 << 16

func NewKeyStick() *KeyStick {
	ks := &KeyStick{}
	ks.Release()
	return ks
}

// Hold deflects until Release.
func (self *KeyStick) Hold(v uint16) { atomic.StoreUint32(&self.v, uint32(v)) }
func (self *KeyStick) Release()      { atomic.StoreUint32(&self.v, uint32(StickCenter)) }

// Pulse deflects for exactly one Sample, then returns to center.
func (self *KeyStick) Pulse(v uint16) { atomic.StoreUint32(&self.v, uint32(v)|pulseBit) }

func (self *KeyStick) Sample() (uint16, error) {
	for {
		x := atomic.LoadUint32(&self.v)
		if x&pulseBit == 0 {
			return uint16(x), nil
		}
		if atomic.CompareAndSwapUint32(&self.v, x, uint32(StickCenter)) {
			return uint16(x), nil
		}
	}
}
