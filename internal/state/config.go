package state

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bitdoglab/sectele/hardware/adc"
	"github.com/bitdoglab/sectele/hardware/lcd"
	"github.com/bitdoglab/sectele/helpers"
	"github.com/bitdoglab/sectele/internal/codec"
	"github.com/bitdoglab/sectele/internal/input"
	"github.com/bitdoglab/sectele/internal/types"
	ui_config "github.com/bitdoglab/sectele/internal/ui/config"
	"github.com/bitdoglab/sectele/log2"
	tele_config "github.com/bitdoglab/sectele/tele/config"
	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"periph.io/x/periph/conn/physic"
)

// Lab credentials shared with the classroom firmware.
// Default AES key is 30 bytes, so AES-GCM mode reports unavailable until configured.
const (
	DefaultXorKey     = 42
	DefaultHmacSecret = "DontPanicAndCarryATowelHitchhike"
	DefaultAesKey     = "MostlyHarmless42LifeUniverseEv"
	DefaultUsername   = "aluno"
	DefaultPassword   = "senha123"

	DefaultClientPublisher  = "bitdog_publisher"
	DefaultClientSubscriber = "bitdog_subscriber"
	DefaultBrokerListen     = "tcp://0.0.0.0:1883"
)

const (
	DisplayConsole = "console"
	DisplayHD44780 = "hd44780"
	DisplayNone    = "none"

	JoystickADC  = "adc"
	JoystickKeys = "keys"
	JoystickNone = "none"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	// publisher or subscriber, command line overrides
	Role string `hcl:"role"`

	Hardware struct {
		Button struct {
			Enable     bool   `hcl:"enable"`
			PinChip    string `hcl:"pin_chip"`
			Line       int    `hcl:"line"`
			ActiveLow  bool   `hcl:"active_low"`
			DebounceMs int    `hcl:"debounce_ms"`
		}
		Joystick struct {
			Driver        string `hcl:"driver"`
			I2CBus        string `hcl:"i2c_bus"`
			Addr          int    `hcl:"addr"`
			Channel       int    `hcl:"channel"`
			UpThreshold   int    `hcl:"up_threshold"`
			DownThreshold int    `hcl:"down_threshold"`
			DeadzoneLow   int    `hcl:"deadzone_low"`
			DeadzoneHigh  int    `hcl:"deadzone_high"`
			UnlockMs      int    `hcl:"unlock_ms"`
			VrefMv        int    `hcl:"vref_mv"`
		}
		Input struct {
			DevInputEvent struct {
				Enable bool   `hcl:"enable"`
				Device string `hcl:"device"`
			} `hcl:"dev_input_event"`
			Console struct {
				Enable bool `hcl:"enable"`
			}
		}
		Display struct { //nolint:maligned
			Driver   string `hcl:"driver"`
			Codepage string `hcl:"codepage"`
			Rows     int    `hcl:"rows"`
			Width    int    `hcl:"width"`
			HD44780  struct {
				PinChip       string     `hcl:"pin_chip"`
				Pinmap        lcd.PinMap `hcl:"pinmap"`
				Page1         bool       `hcl:"page1"`
				ControlBlink  bool       `hcl:"blink"`
				ControlCursor bool       `hcl:"cursor"`
			} `hcl:"hd44780"`
		}
	}

	Security struct {
		XorKey     *int     `hcl:"xor_key"`
		HmacSecret *string  `hcl:"hmac_secret"`
		AesKey     *string  `hcl:"aes_key"`
		Disable    []string `hcl:"disable"`
	}

	Persist struct {
		Root string `hcl:"root"`
	}
	Tele tele_config.Config
	UI   ui_config.Config `hcl:"ui"`

	Broker struct {
		Listen         []string          `hcl:"listen"`
		Users          map[string]string `hcl:"users"`
		AllowAnonymous bool              `hcl:"allow_anonymous"`
		LogDebug       bool              `hcl:"log_debug"`
	}

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) ParseRole() (types.Role, error) {
	r, err := types.ParseRole(c.Role)
	return r, errors.Annotate(err, "config: role")
}

// ClientIDOrDefault keeps the client ids the firmware peers use.
func (c *Config) ClientIDOrDefault(role types.Role) string {
	if c.Tele.ClientID != "" {
		return c.Tele.ClientID
	}
	if role == types.RoleSubscriber {
		return DefaultClientSubscriber
	}
	return DefaultClientPublisher
}

// Keys returns key material with lab defaults for unset values.
// Length is not checked here, codec.New reports unusable keys.
func (c *Config) Keys() (codec.Keys, error) {
	keys := codec.Keys{
		Xor:        DefaultXorKey,
		HmacSecret: []byte(DefaultHmacSecret),
		AesKey:     []byte(DefaultAesKey),
	}
	if x := c.Security.XorKey; x != nil {
		if *x < 0 || *x > 0xff {
			return codec.Keys{}, errors.NotValidf("config: security.xor_key=%d", *x)
		}
		keys.Xor = byte(*x)
	}
	if s := c.Security.HmacSecret; s != nil {
		keys.HmacSecret = []byte(*s)
	}
	if s := c.Security.AesKey; s != nil {
		keys.AesKey = []byte(*s)
	}
	return keys, nil
}

// ModeEnabled is false for modes listed in security.disable.
func (c *Config) ModeEnabled(mode types.Mode) (bool, error) {
	for _, s := range c.Security.Disable {
		m, err := types.ParseMode(strings.ToLower(s))
		if err != nil {
			return false, errors.Annotate(err, "config: security.disable")
		}
		if m == mode {
			return false, nil
		}
	}
	return true, nil
}

func (c *Config) Debounce() time.Duration {
	return helpers.IntMillisecondDefault(c.Hardware.Button.DebounceMs, input.DefaultDebounce)
}

// JoystickConfig returns validated zones, zero values take defaults.
func (c *Config) JoystickConfig() (input.JoystickConfig, error) {
	j := &c.Hardware.Joystick
	for _, v := range []struct {
		name  string
		value int
	}{
		{"up_threshold", j.UpThreshold},
		{"down_threshold", j.DownThreshold},
		{"deadzone_low", j.DeadzoneLow},
		{"deadzone_high", j.DeadzoneHigh},
	} {
		if v.value < 0 || v.value > input.SampleMax {
			return input.JoystickConfig{}, errors.NotValidf("config: hardware.joystick.%s=%d range 0..%d", v.name, v.value, input.SampleMax)
		}
	}
	if j.UnlockMs < 0 {
		return input.JoystickConfig{}, errors.NotValidf("config: hardware.joystick.unlock_ms=%d", j.UnlockMs)
	}
	jc := input.JoystickConfig{
		UpThreshold:   uint16(j.UpThreshold),
		DownThreshold: uint16(j.DownThreshold),
		DeadzoneLow:   uint16(j.DeadzoneLow),
		DeadzoneHigh:  uint16(j.DeadzoneHigh),
		UnlockTimeout: helpers.IntMillisecondDefault(j.UnlockMs, input.DefaultJoystickConfig.UnlockTimeout),
	}.WithDefaults()
	if err := jc.Validate(); err != nil {
		return input.JoystickConfig{}, errors.Annotate(err, "config: hardware.joystick")
	}
	return jc, nil
}

// AdcVref is the joystick supply voltage, full scale of the axis.
func (c *Config) AdcVref() (physic.ElectricPotential, error) {
	mv := c.Hardware.Joystick.VrefMv
	switch {
	case mv == 0:
		return adc.DefaultVref, nil
	case mv < 0 || mv > adc.MaxVrefMv:
		return 0, errors.NotValidf("config: hardware.joystick.vref_mv=%d range 1..%d", mv, adc.MaxVrefMv)
	}
	return physic.ElectricPotential(mv) * physic.MilliVolt, nil
}

func (c *Config) BrokerListen() []string {
	if len(c.Broker.Listen) == 0 {
		return []string{DefaultBrokerListen}
	}
	return c.Broker.Listen
}

func (c *Config) BrokerUsers() map[string]string {
	if len(c.Broker.Users) == 0 && !c.Broker.AllowAnonymous {
		return map[string]string{DefaultUsername: DefaultPassword}
	}
	return c.Broker.Users
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
			return
		}
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
