package state

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/bitdoglab/sectele/hardware/adc"
	"github.com/bitdoglab/sectele/hardware/button"
	hw_input "github.com/bitdoglab/sectele/hardware/input"
	"github.com/bitdoglab/sectele/hardware/lcd"
	"github.com/bitdoglab/sectele/hardware/text_display"
	"github.com/bitdoglab/sectele/helpers"
	"github.com/bitdoglab/sectele/internal/input"
	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
)

const (
	DefaultDisplayRows  = text_display.MaxRows
	DefaultDisplayWidth = 20
)

type hardware struct {
	Display struct {
		once
		Device  text_display.Devicer
		Display *text_display.TextDisplay
	}
	Input struct {
		once
		Arbiter *input.Arbiter
		Stick   *hw_input.KeyStick
	}

	closers struct {
		sync.Mutex
		list []io.Closer
	}
}

func (g *Global) MustTextDisplay() *text_display.TextDisplay {
	d, err := g.TextDisplay()
	if err != nil {
		g.Fatal(err)
	}
	if d == nil {
		g.Log.Fatal("text display is not available")
	}
	return d
}

func (g *Global) TextDisplay() (*text_display.TextDisplay, error) {
	x := &g.Hardware.Display
	_ = x.do(func() error {
		if x.Display != nil { // state-new testing mode
			return nil
		}

		cfg := &g.Config.Hardware.Display
		rows, width := cfg.Rows, cfg.Width
		if rows <= 0 || rows > text_display.MaxRows {
			rows = DefaultDisplayRows
		}
		if width <= 0 {
			width = DefaultDisplayWidth
		}
		displayConfig := &text_display.TextDisplayConfig{
			Width:    uint32(width),
			Codepage: cfg.Codepage,
		}
		disp, err := text_display.NewTextDisplay(displayConfig)
		if err != nil {
			return errors.Annotatef(err, "NewTextDisplay config=%#v", displayConfig)
		}

		switch cfg.Driver {
		case "", DisplayConsole:
			x.Device = text_display.NewConsoleDevice(g.Log, uint8(rows), uint32(width))

		case DisplayHD44780:
			dev, err := g.openHD44780(uint8(rows), uint8(width))
			if err != nil {
				return err
			}
			x.Device = dev

		case DisplayNone:
			g.Log.Infof("text display is disabled")
			x.Device = text_display.NewMockDevicer(uint8(rows), uint32(width))

		default:
			return errors.NotValidf("config: hardware.display.driver=%s valid: console, hd44780, none", cfg.Driver)
		}
		disp.SetDevice(x.Device)
		x.Display = disp
		return nil
	})
	return x.Display, x.err
}

func (g *Global) openHD44780(rows, width uint8) (*lcd.LCD, error) {
	devConfig := &g.Config.Hardware.Display.HD44780
	// panel has at most 4 rows, status row 5 is dropped by CursorYX
	if rows > 4 {
		rows = 4
	}
	chip, err := gpio.Open(devConfig.PinChip, "sectele")
	if err != nil {
		return nil, errors.Annotatef(err, "config: hardware.display.hd44780.pin_chip=%s", devConfig.PinChip)
	}
	dev, err := lcd.Open(chip, devConfig.Pinmap, rows, width, devConfig.Page1)
	if err != nil {
		chip.Close()
		return nil, errors.Annotatef(err, "hd44780 config=%#v", devConfig)
	}
	ctrl := lcd.ControlOn
	if devConfig.ControlBlink {
		ctrl |= lcd.ControlBlink
	}
	if devConfig.ControlCursor {
		ctrl |= lcd.ControlUnderscore
	}
	dev.SetControl(ctrl)
	g.addCloser(dev)
	g.addCloser(chip)
	return dev, nil
}

// Arbiter wires configured edge sources and joystick sampler.
// Source goroutines run under g.Alive.
func (g *Global) Arbiter() (*input.Arbiter, error) {
	x := &g.Hardware.Input
	_ = x.do(func() error {
		if x.Arbiter != nil { // state-new testing mode
			return nil
		}

		cfg := &g.Config.Hardware
		jc, err := g.Config.JoystickConfig()
		if err != nil {
			return err
		}
		x.Stick = hw_input.NewKeyStick()
		var sampler input.Sampler
		switch cfg.Joystick.Driver {
		case JoystickADC:
			vref, err := g.Config.AdcVref()
			if err != nil {
				return err
			}
			a, err := adc.Open(cfg.Joystick.I2CBus, uint16(cfg.Joystick.Addr), uint8(cfg.Joystick.Channel), vref)
			if err != nil {
				return errors.Annotate(err, "config: hardware.joystick")
			}
			g.addCloser(a)
			sampler = a
		case "", JoystickKeys:
			sampler = x.Stick
		case JoystickNone:
		default:
			return errors.NotValidf("config: hardware.joystick.driver=%s valid: adc, keys, none", cfg.Joystick.Driver)
		}
		x.Arbiter = input.NewArbiter(g.Log, input.NewButton(g.Config.Debounce()), input.NewJoystick(jc), sampler)

		sources := make([]hw_input.Source, 0, 3)
		if cfg.Button.Enable {
			chip, err := gpio.Open(cfg.Button.PinChip, "sectele")
			if err != nil {
				return errors.Annotatef(err, "config: hardware.button.pin_chip=%s", cfg.Button.PinChip)
			}
			g.addCloser(chip)
			w, err := button.Open(g.Log, chip, uint32(cfg.Button.Line), cfg.Button.ActiveLow, x.Arbiter.Button())
			if err != nil {
				return err
			}
			sources = append(sources, w)
		} else {
			g.Log.Infof("input=button disabled")
		}

		if cfg.Input.DevInputEvent.Enable {
			src, err := hw_input.NewDevInputEventSource(g.Log, cfg.Input.DevInputEvent.Device, x.Arbiter.AddButton(g.Config.Debounce()), x.Stick)
			if err != nil {
				return errors.Annotatef(err, "input=%s", hw_input.DevInputEventTag)
			}
			sources = append(sources, src)
		} else {
			g.Log.Infof("input=%s disabled", hw_input.DevInputEventTag)
		}

		if cfg.Input.Console.Enable {
			sources = append(sources, hw_input.NewConsole(g.Log, x.Arbiter.AddButton(g.Config.Debounce()), x.Stick, g.Now))
		}

		for _, src := range sources {
			g.runSource(src)
		}
		return nil
	})
	return x.Arbiter, x.err
}

func (g *Global) runSource(src hw_input.Source) {
	g.Alive.Add(1)
	go func() {
		defer g.Alive.Done()
		if err := src.Run(g.Alive); err != nil {
			g.Error(err, "input=%s", src.String())
		}
		g.Log.Debugf("input=%s stopped", src.String())
	}()
}

func (g *Global) initDisplay() error {
	_, err := g.TextDisplay()
	return err
}

func (g *Global) initInput() error {
	_, err := g.Arbiter()
	return err
}

func (g *Global) addCloser(c io.Closer) {
	x := &g.Hardware.closers
	helpers.WithLock(x, func() { x.list = append(x.list, c) })
}

func (g *Global) closeHardware() error {
	x := &g.Hardware.closers
	x.Lock()
	defer x.Unlock()
	errs := make([]error, 0, len(x.list))
	for i := len(x.list) - 1; i >= 0; i-- {
		errs = append(errs, x.list[i].Close())
	}
	x.list = nil
	return helpers.FoldErrors(errs)
}

type once struct {
	sync.Mutex
	called uint32 // atomic bool
	err    error
}

func (o *once) done() bool {
	return atomic.LoadUint32(&o.called) == 1
}

func (o *once) do(f func() error) error {
	if o.done() { // fast path
		return o.err
	}
	o.Lock()
	defer o.Unlock()
	if o.done() {
		return o.err
	}
	o.err = f()
	atomic.StoreUint32(&o.called, 1)
	return o.err
}
