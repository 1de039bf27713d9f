// Package broker runs the lab MQTT broker relaying frames between
// publisher and subscriber devices.
package broker

import (
	"context"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/bitdoglab/sectele/cmd/sectele/subcmd"
	"github.com/bitdoglab/sectele/internal/state"
	"github.com/bitdoglab/sectele/internal/tele"
	"github.com/bitdoglab/sectele/log2"
	"github.com/bitdoglab/sectele/tele/mqtt"
	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
)

var Mod = subcmd.Mod{Name: "broker", Main: Main}

const statInterval = time.Minute

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	g.Config = config

	mlog := g.Log.Clone(log2.LInfo)
	if config.Broker.LogDebug {
		mlog.SetLevel(log2.LDebug)
	}
	mlog.SetPrefix("broker: ")
	s := NewServer(config, mlog)
	lopts := ListenOptions(config)
	if err := s.Listen(ctx, lopts); err != nil {
		return errors.Annotate(err, "broker listen")
	}
	defer s.Close()
	g.Log.Infof("broker listening addrs=%v users=%d anonymous=%t", s.Addrs(), len(config.BrokerUsers()), config.Broker.AllowAnonymous)
	subcmd.SdNotify(daemon.SdNotifyReady)

	ticker := time.NewTicker(statInterval)
	defer ticker.Stop()
	stopch := g.Alive.StopChan()
	for {
		select {
		case <-ticker.C:
			g.Log.Infof("broker stat=%+v", s.Stats())
		case <-stopch:
			g.Log.Infof("broker stop stat=%+v", s.Stats())
			return nil
		}
	}
}

func NewServer(config *state.Config, log *log2.Log) *mqtt.Server {
	return mqtt.NewServer(mqtt.ServerOptions{
		Log:            log,
		Users:          config.BrokerUsers(),
		AllowAnonymous: config.Broker.AllowAnonymous,
		OnPublish: func(_ context.Context, clientID string, msg *packet.Message) error {
			log.Debugf("client=%s topic=%s payload=%x", clientID, msg.Topic, msg.Payload)
			return nil
		},
	})
}

func ListenOptions(config *state.Config) []*mqtt.BackendOptions {
	urls := config.BrokerListen()
	lopts := make([]*mqtt.BackendOptions, len(urls))
	for i, u := range urls {
		lopts[i] = &mqtt.BackendOptions{
			URL:            u,
			NetworkTimeout: tele.DefaultKeepalive * 3 / 2,
		}
	}
	return lopts
}
