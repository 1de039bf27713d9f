package ui

import (
	"context"

	"github.com/bitdoglab/sectele/hardware/text_display"
	"github.com/bitdoglab/sectele/internal/tele"
	"github.com/bitdoglab/sectele/internal/types"
	"github.com/juju/errors"
)

const (
	MsgLinkConnecting = "Connecting link..."
	MsgLinkOK         = "Link established!"
	MsgLinkFailed     = "Link FAILED"
	MsgMqttConnecting = "Connecting MQTT..."
	MsgMqttOK         = "MQTT connected!"
	MsgMqttFailed     = "MQTT FAILED"
)

// Boot runs startup checks with progress screens, then shows Menu.
// Error means link down or broker not connected, the session must end.
func (self *UI) Boot(ctx context.Context) error {
	teleConfig := &self.g.Config.Tele
	self.screen.reset(text_display.ScreenStatus, self.display.CenterString(self.title))

	if teleConfig.LinkRequired() {
		self.screen.status(MsgLinkConnecting, "", "", "")
		self.flush()
		if err := tele.LinkUp(); err != nil {
			self.screen.set(2, MsgLinkFailed)
			self.flush()
			return errors.Annotate(err, "boot")
		}
		self.screen.set(2, MsgLinkOK)
	}

	self.screen.set(1, MsgMqttConnecting)
	self.flush()
	wait := tele.ConnectWait(teleConfig)
	self.g.Log.Infof("boot waiting broker connection %v", wait)
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if !self.g.Tele.WaitConnected(waitCtx) {
		self.screen.set(2, MsgMqttFailed)
		self.flush()
		return errors.Timeoutf("boot broker=%s connect", teleConfig.Broker)
	}
	self.screen.set(2, MsgMqttOK)
	self.screen.set(3, self.g.Config.ClientIDOrDefault(self.g.Role))
	self.flush()

	if self.g.Role == types.RoleSubscriber {
		self.g.Log.Infof("waiting messages topic=%s", self.topic)
		if err := self.g.Tele.Subscribe(self.topic, self.OnMessage); err != nil {
			// transport resubscribes after reconnect
			self.g.Log.Error(errors.Annotate(err, "boot subscribe"))
		}
	}

	self.setState(types.ModeMenu)
	self.screen.reset(text_display.ScreenMenu, "")
	self.drawMenu()
	self.flush()
	return nil
}
