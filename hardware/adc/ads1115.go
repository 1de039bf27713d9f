// Package adc reads joystick axis from ADS1115 over I2C.
package adc

import (
	"github.com/juju/errors"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/experimental/devices/ads1x15"
	"periph.io/x/periph/host"
)

const DefaultAddr = ads1x15.I2CAddr

// Joystick potentiometer is powered from 3.3V rail, center is half supply.
const DefaultVref = 3300 * physic.MilliVolt

// Largest ADS1115 input range (PGA 2/3).
const MaxVrefMv = 6144

const (
	sampleMax = 4095
	// 128 SPS with BestQuality, polled every loop tick
	sampleFreq = 100 * physic.Hertz
)

type ADS1115 struct {
	bus  i2c.BusCloser
	pin  ads1x15.PinADC
	vref physic.ElectricPotential
}

// Open initializes periph host drivers. Empty busName picks first bus.
func Open(busName string, addr uint16, channel uint8, vref physic.ElectricPotential) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph/init")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Annotatef(err, "i2c open bus=%s", busName)
	}
	self, err := New(bus, addr, channel, vref)
	if err != nil {
		bus.Close()
		return nil, err
	}
	self.bus = bus
	return self, nil
}

// New selects single-ended channel 0..3, gain is the smallest range covering vref.
func New(bus i2c.Bus, addr uint16, channel uint8, vref physic.ElectricPotential) (*ADS1115, error) {
	if channel > 3 {
		return nil, errors.NotValidf("ads1115 channel=%d", channel)
	}
	if vref <= 0 {
		vref = DefaultVref
	}
	if addr == 0 {
		addr = DefaultAddr
	}
	dev, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: addr})
	if err != nil {
		return nil, errors.Annotate(err, "ads1115")
	}
	pin, err := dev.PinForChannel(ads1x15.Channel0+ads1x15.Channel(channel), vref, sampleFreq, ads1x15.BestQuality)
	if err != nil {
		return nil, errors.Annotatef(err, "ads1115 channel=%d vref=%s", channel, vref)
	}
	return &ADS1115{pin: pin, vref: vref}, nil
}

func (self *ADS1115) Close() error {
	if self.bus == nil {
		return nil
	}
	return self.bus.Close()
}

// Sample runs single-shot conversion and returns 0..4095 relative to vref,
// so stick center at half supply reads 2047 regardless of ADC gain.
func (self *ADS1115) Sample() (uint16, error) {
	s, err := self.pin.Read()
	if err != nil {
		return 0, errors.Annotate(err, "ads1115 read")
	}
	return scale(s.V, self.vref), nil
}

func scale(v, vref physic.ElectricPotential) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= vref:
		return sampleMax
	}
	return uint16(int64(v) * sampleMax / int64(vref))
}
