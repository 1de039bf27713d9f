// Package lcd drives HD44780 compatible character panel in 4-bit mode
// over GPIO character device lines.
package lcd

import (
	"strconv"
	"time"

	"github.com/bitdoglab/sectele/hardware/text_display"
	"github.com/bitdoglab/sectele/helpers"
	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
)

type Command byte

const (
	CommandClear   Command = 0x01
	CommandReturn  Command = 0x02
	CommandControl Command = 0x08
	CommandAddress Command = 0x80
)

type Control byte

const (
	ControlOn         Control = 0x04
	ControlUnderscore Control = 0x02
	ControlBlink      Control = 0x01
)

// DDRAM start address per row, 20x4 and 16x2 panels.
var rowAddress = [4]byte{0x00, 0x40, 0x14, 0x54}

const consumerLabel = "sectele-lcd"

var sleepFunc = time.Sleep

type LCD struct {
	control Control
	rows    uint8
	cols    uint8
	pins    gpio.Lineser
	err     helpers.AtomicError
	sleep   func(time.Duration)
	pin_rs  gpio.LineSetFunc // command/data, aliases: A0, RS
	pin_rw  gpio.LineSetFunc // read/write
	pin_e   gpio.LineSetFunc // enable
	pin_d4  gpio.LineSetFunc
	pin_d5  gpio.LineSetFunc
	pin_d6  gpio.LineSetFunc
	pin_d7  gpio.LineSetFunc
}

var _ text_display.Devicer = new(LCD)

type PinMap struct {
	RS string `hcl:"rs"`
	RW string `hcl:"rw"`
	E  string `hcl:"e"`
	D4 string `hcl:"d4"`
	D5 string `hcl:"d5"`
	D6 string `hcl:"d6"`
	D7 string `hcl:"d7"`
}

// Open requests output lines on chip and runs init sequence.
func Open(chip gpio.Chiper, pinmap PinMap, rows, cols uint8, page1 bool) (*LCD, error) {
	if rows == 0 || rows > uint8(len(rowAddress)) || cols == 0 || cols > 40 {
		return nil, errors.NotValidf("lcd size rows=%d cols=%d", rows, cols)
	}
	nums := make([]uint32, 0, 7)
	for _, s := range []string{pinmap.RS, pinmap.RW, pinmap.E, pinmap.D4, pinmap.D5, pinmap.D6, pinmap.D7} {
		x, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, errors.Annotatef(err, "lcd pinmap=%v", pinmap)
		}
		nums = append(nums, uint32(x))
	}
	pins, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, consumerLabel, nums...)
	if err != nil {
		return nil, errors.Annotate(err, "lcd open lines")
	}
	self := &LCD{
		rows:   rows,
		cols:   cols,
		pins:   pins,
		sleep:  sleepFunc,
		pin_rs: pins.SetFunc(nums[0]),
		pin_rw: pins.SetFunc(nums[1]),
		pin_e:  pins.SetFunc(nums[2]),
		pin_d4: pins.SetFunc(nums[3]),
		pin_d5: pins.SetFunc(nums[4]),
		pin_d6: pins.SetFunc(nums[5]),
		pin_d7: pins.SetFunc(nums[6]),
	}
	self.init4(page1)
	if err, _ := self.err.Load(); err != nil {
		pins.Close()
		return nil, errors.Annotate(err, "lcd init")
	}
	return self, nil
}

func (self *LCD) Close() error { return self.pins.Close() }

// Err returns first line write error, panel writes are fire and forget.
func (self *LCD) Err() error {
	err, _ := self.err.Load()
	return err
}

func (self *LCD) flush() {
	if err := self.pins.Flush(); err != nil {
		self.err.StoreOnce(err)
	}
}

func (self *LCD) setAllPins(b byte) {
	self.pin_rs(b)
	self.pin_rw(b)
	self.pin_e(b)
	self.pin_d4(b)
	self.pin_d5(b)
	self.pin_d6(b)
	self.pin_d7(b)
	self.flush()
}

func (self *LCD) blinkE() {
	self.pin_e(1)
	self.flush()
	self.sleep(1 * time.Microsecond)
	self.pin_e(0)
	self.flush()
	self.sleep(1 * time.Microsecond)
}

func (self *LCD) send4(rs, d4, d5, d6, d7 byte) {
	self.pin_rs(rs)
	self.pin_d4(d4)
	self.pin_d5(d5)
	self.pin_d6(d6)
	self.pin_d7(d7)
	self.blinkE()
}

func (self *LCD) init4(page1 bool) {
	self.sleep(20 * time.Millisecond)

	// special sequence
	self.Command(0x33)
	self.Command(0x32)

	self.SetFunction(false, page1)
	self.SetControl(0) // off
	self.SetControl(ControlOn)
	self.Clear()
	self.SetEntryMode(true, false)
}

func bb(b, bit byte) byte {
	if b&(1<<bit) == 0 {
		return 0
	}
	return 1
}

func (self *LCD) Command(c Command) {
	b := byte(c)
	self.send4(0, bb(b, 4), bb(b, 5), bb(b, 6), bb(b, 7))
	self.send4(0, bb(b, 0), bb(b, 1), bb(b, 2), bb(b, 3))
	self.sleep(40 * time.Microsecond)
	self.setAllPins(0)
}

func (self *LCD) Data(b byte) {
	self.send4(1, bb(b, 4), bb(b, 5), bb(b, 6), bb(b, 7))
	self.send4(1, bb(b, 0), bb(b, 1), bb(b, 2), bb(b, 3))
	self.sleep(40 * time.Microsecond)
	self.setAllPins(0)
}

func (self *LCD) Write(bs []byte) {
	for _, b := range bs {
		self.Data(b)
	}
}

func (self *LCD) Clear() {
	self.Command(CommandClear)
	self.sleep(2 * time.Millisecond)
}

func (self *LCD) Return() {
	self.Command(CommandReturn)
}

func (self *LCD) SetEntryMode(right, shift bool) {
	var cmd Command = 0x04
	if right {
		cmd |= 0x02
	}
	if shift {
		cmd |= 0x01
	}
	self.Command(cmd)
}

func (self *LCD) Control() Control {
	return self.control
}
func (self *LCD) SetControl(new Control) Control {
	old := self.control
	self.control = new
	self.Command(CommandControl | Command(new))
	return old
}

// SetFunction always selects 2 line mode, 4 row panels are 2 lines folded.
func (self *LCD) SetFunction(bits8, page1 bool) {
	var cmd Command = 0x28
	if bits8 {
		cmd |= 0x10
	}
	if page1 {
		cmd |= 0x02
	}
	self.Command(cmd)
}

func (self *LCD) CursorYX(row uint8, column uint8) bool {
	if !(row > 0 && row <= self.rows) {
		return false
	}
	if !(column > 0 && column <= self.cols) {
		return false
	}
	addr := rowAddress[row-1] + (column - 1)
	self.Command(CommandAddress | Command(addr))
	return true
}
