package state

import (
	"context"
	"strings"
	"testing"

	"github.com/bitdoglab/sectele/hardware/text_display"
	"github.com/bitdoglab/sectele/internal/tele"
	"github.com/bitdoglab/sectele/internal/types"
	"github.com/bitdoglab/sectele/log2"
	tele_config "github.com/bitdoglab/sectele/tele/config"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, context.Context)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, ctx context.Context) {
			g := GetGlobal(ctx)
			assert.Equal(t, types.RolePublisher, g.Role)
			assert.Equal(t, byte(DefaultXorKey), g.Keys.Xor)
			assert.Equal(t, []byte(DefaultHmacSecret), g.Keys.HmacSecret)
			assert.Len(t, g.Keys.AesKey, 30)
			assert.Equal(t, tele_config.DefaultTopic, g.Config.Tele.TopicOrDefault())
			assert.Equal(t, DefaultClientPublisher, g.Config.ClientIDOrDefault(g.Role))
			assert.Equal(t, []string{DefaultBrokerListen}, g.Config.BrokerListen())
			assert.Equal(t, map[string]string{DefaultUsername: DefaultPassword}, g.Config.BrokerUsers())
			assert.Equal(t, "200ms", g.Config.Debounce().String())
			td, err := g.TextDisplay()
			require.NoError(t, err)
			assert.Equal(t, uint32(DefaultDisplayWidth), td.Width())
			a, err := g.Arbiter()
			require.NoError(t, err)
			assert.NotNil(t, a)
		}, ""},

		{"subscriber", `
role = "subscriber"
tele { broker = "192.168.0.10:1883" }
ui { publish_interval_sec = 2 tick_ms = 50 }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, types.RoleSubscriber, g.Role)
				assert.Equal(t, DefaultClientSubscriber, g.Config.ClientIDOrDefault(g.Role))
				assert.Equal(t, "192.168.0.10:1883", g.Config.Tele.Broker)
				assert.Equal(t, "2s", g.Config.UI.PublishInterval().String())
				assert.Equal(t, "50ms", g.Config.UI.Tick().String())
				assert.Equal(t, "3s", g.Config.UI.ErrorScreen().String())
			}, ""},

		{"security", `
security {
	xor_key = 7
	hmac_secret = ""
	aes_key = "0123456789abcdef0123456789abcdef"
	disable = ["hmac", "XOR"]
}`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, byte(7), g.Keys.Xor)
				assert.Len(t, g.Keys.HmacSecret, 0)
				assert.Len(t, g.Keys.AesKey, 32)
				for mode, expect := range map[types.Mode]bool{
					types.ModePlain:   true,
					types.ModeXor:     false,
					types.ModeHmac:    false,
					types.ModeAeadGcm: true,
				} {
					enabled, err := g.Config.ModeEnabled(mode)
					require.NoError(t, err)
					assert.Equal(t, expect, enabled, mode.String())
				}
			}, ""},

		{"broker", `
broker {
	listen = ["tcp://127.0.0.1:1883", "tcp://127.0.0.1:1884"]
	users { aluno = "senha123" professor = "42" }
}`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, []string{"tcp://127.0.0.1:1883", "tcp://127.0.0.1:1884"}, g.Config.BrokerListen())
				assert.Equal(t, map[string]string{"aluno": "senha123", "professor": "42"}, g.Config.BrokerUsers())
			}, ""},

		{"joystick", `
hardware {
	display { driver = "none" }
	joystick { driver = "none" unlock_ms = 300 up_threshold = 3500 }
	button { debounce_ms = 50 }
}`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				jc, err := g.Config.JoystickConfig()
				require.NoError(t, err)
				assert.Equal(t, uint16(3500), jc.UpThreshold)
				assert.Equal(t, uint16(1500), jc.DeadzoneLow, "default")
				assert.Equal(t, "300ms", jc.UnlockTimeout.String())
				assert.Equal(t, "50ms", g.Config.Debounce().String())
			}, ""},

		{"include-normalize", `
role = "publisher"
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "role-subscriber" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, types.RoleSubscriber, g.Role)
			}, ""},

		{"include-overwrites", `
role = "publisher"
include "role-subscriber" {}`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, types.RoleSubscriber, g.Role)
			}, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-role", `role = "bystander"`, nil, "unknown role=bystander"},
		{"error-xor-key", `security { xor_key = 300 }`, nil, "security.xor_key=300 not valid"},
		{"error-disable", `security { disable = ["rot13"] }`, nil, "unknown mode=rot13"},
		{"error-display-driver", `hardware { display { driver = "vfd" } }`, nil, "hardware.display.driver=vfd"},
		{"error-joystick-driver", `hardware {
	display { driver = "none" }
	joystick { driver = "optical" }
}`, nil, "hardware.joystick.driver=optical"},

		{"error-joystick-overlap", `
hardware { joystick { up_threshold = 2200 } }`, nil, "config: hardware.joystick: joystick zones overlap"},

		{"error-joystick-range", `
hardware { joystick { up_threshold = 70000 } }`, nil, "hardware.joystick.up_threshold=70000 range 0..4095"},

		{"error-joystick-vref", `
hardware { joystick { driver = "adc" vref_mv = 9000 } }`, nil, "hardware.joystick.vref_mv=9000"},

		{"error-ui-value-comma", `
ui { value = "26,5" }`, nil, `ui.value="26,5"`},

		{"error-ui-value-control", `
ui { value = "26.5\n" }`, nil, "ui.value="},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			// log := log2.NewStderr(log2.LDebug) // helps with panics
			log := log2.NewTest(t, log2.LDebug)
			ctx, g := NewContext(log, tele.NewMockTransport(true))
			defer g.Stop()

			fs := NewMockFullReader(map[string]string{
				"base":            `hardware { display { driver = "none" } }`,
				"test-inline":     c.input,
				"empty":           "",
				"role-subscriber": `role = "subscriber"`,
				"error-syntax":    "hello",
				"include-loop":    `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "base", "test-inline")
			if err == nil {
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, ctx)
				}
			} else {
				require.Error(t, err)
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestGlobalNow(t *testing.T) {
	t.Parallel()
	_, g := NewContext(log2.NewTest(t, log2.LDebug), tele.NewMockTransport(true))
	a := g.Now()
	b := g.Now()
	assert.True(t, b >= a)
	assert.True(t, a >= 0)
}

func TestGlobalInitMockDisplay(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	ctx, g := NewContext(log, tele.NewMockTransport(true))
	td, mock := text_display.NewMockTextDisplay(&text_display.TextDisplayConfig{Width: 16})
	g.Hardware.Display.Display = td
	g.Hardware.Display.Device = mock
	fs := NewMockFullReader(map[string]string{"c": `hardware { display { driver = "vfd" } }`})
	require.NoError(t, g.Init(ctx, MustReadConfig(log, fs, "c")))
	assert.Equal(t, td, g.MustTextDisplay())
	require.NoError(t, g.Close())
}
