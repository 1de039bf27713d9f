// Package controller runs the telemetry mode controller on device:
// boot checks, then menu and mode loop until stopped.
package controller

import (
	"context"
	"time"

	"github.com/bitdoglab/sectele/cmd/sectele/subcmd"
	"github.com/bitdoglab/sectele/internal/state"
	"github.com/bitdoglab/sectele/internal/types"
	"github.com/bitdoglab/sectele/internal/ui"
	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
)

var PublisherMod = subcmd.Mod{Name: "publisher", Main: roleMain(types.RolePublisher)}
var SubscriberMod = subcmd.Mod{Name: "subscriber", Main: roleMain(types.RoleSubscriber)}

const stopTimeout = 5 * time.Second

// command name overrides config role
func roleMain(role types.Role) func(context.Context, *state.Config) error {
	return func(ctx context.Context, config *state.Config) error {
		if role == types.RoleSubscriber {
			config.Role = "subscriber"
		} else {
			config.Role = "publisher"
		}
		return Main(ctx, config)
	}
}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.MustInit(ctx, config)
	g.Log.Debugf("config=%+v", g.Config)
	defer func() {
		if err := g.Close(); err != nil {
			g.Log.Error(err)
		}
	}()

	u := &ui.UI{}
	if err := u.Init(ctx); err != nil {
		return errors.Annotate(err, "ui init")
	}
	if err := u.Boot(ctx); err != nil {
		// boot screen stays with failure reason
		g.StopWait(stopTimeout)
		return err
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("%s init complete, running menu=%s", g.Role.String(), u.MenuSelected().String())
	u.Loop(ctx)
	if !g.StopWait(stopTimeout) {
		g.Log.Errorf("stop timeout %v", stopTimeout)
	}
	return nil
}
