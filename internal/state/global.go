package state

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bitdoglab/sectele/helpers"
	"github.com/bitdoglab/sectele/internal/codec"
	"github.com/bitdoglab/sectele/internal/tele"
	"github.com/bitdoglab/sectele/internal/types"
	"github.com/bitdoglab/sectele/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Hardware     hardware // hardware.go
	Keys         codec.Keys
	Log          *log2.Log
	Role         types.Role
	Tele         tele.Transport

	start time.Time

	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

// NewContext without transport means Init creates one from config.
func NewContext(log *log2.Log, transport tele.Transport) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
		Tele:  transport,
		start: time.Now(),
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// Now is monotonic time since process start, the controller clock.
func (g *Global) Now() time.Duration { return time.Since(g.start) }

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg

	g.Log.Infof("build version=%s", g.BuildVersion)
	if g.BuildVersion == "unknown" {
		g.Log.Errorf("build version is not set, please use ldflags -X main.BuildVersion")
	}

	var err error
	if g.Role, err = cfg.ParseRole(); err != nil {
		return err
	}
	if g.Keys, err = cfg.Keys(); err != nil {
		return err
	}
	for _, mode := range types.OperatingModes {
		if _, err = cfg.ModeEnabled(mode); err != nil {
			return err
		}
	}
	if _, err = cfg.JoystickConfig(); err != nil {
		return err
	}
	if _, err = cfg.AdcVref(); err != nil {
		return err
	}
	if v := cfg.UI.ValueOrDefault(); !codec.ValidValue(v) {
		return errors.NotValidf("config: ui.value=%q must be printable ASCII without comma", v)
	}
	if g.Config.Persist.Root == "" {
		g.Log.Infof("config: persist.root=empty, menu selection is not saved")
	}
	g.Log.Debugf("config: role=%s persist.root=%s", g.Role.String(), g.Config.Persist.Root)

	if g.Tele == nil {
		teleConfig := g.Config.Tele
		teleConfig.ClientID = g.Config.ClientIDOrDefault(g.Role)
		if teleConfig.Username == "" && teleConfig.Password == "" {
			teleConfig.Username, teleConfig.Password = DefaultUsername, DefaultPassword
		}
		if g.Tele, err = tele.New(teleConfig, g.Log.Clone(log2.LInfo)); err != nil {
			return errors.Annotate(err, "tele init")
		}
	}

	const initTasks = 2
	wg := sync.WaitGroup{}
	wg.Add(initTasks)
	errch := make(chan error, initTasks)
	go helpers.WrapErrChan(&wg, errch, g.initDisplay)
	go helpers.WrapErrChan(&wg, errch, g.initInput)
	wg.Wait()
	close(errch)
	return helpers.FoldErrChan(errch)
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close releases transport and hardware after alive stopped.
func (g *Global) Close() error {
	errs := make([]error, 0, 2)
	if g.Tele != nil {
		errs = append(errs, errors.Annotate(g.Tele.Close(), "tele close"))
	}
	errs = append(errs, g.closeHardware())
	return helpers.FoldErrors(errs)
}
