package tele

import (
	"context"
	"sync"
	"time"

	"github.com/bitdoglab/sectele/helpers"
	"github.com/bitdoglab/sectele/log2"
	tele_config "github.com/bitdoglab/sectele/tele/config"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

// replaced in tests
var pahoNewClient = paho.NewClient

type transportPaho struct {
	alive   *alive.Alive
	log     *log2.Log
	m       paho.Client
	mopt    *paho.ClientOptions
	routes  routes
	timeout time.Duration
	submu   sync.Mutex
}

// NewPaho returns transport over eclipse paho client with auto reconnect.
func NewPaho(config tele_config.Config, log *log2.Log) (Transport, error) {
	self := &transportPaho{
		alive:   alive.NewAlive(),
		log:     log,
		timeout: networkTimeout(&config),
	}
	mqttLog := log.Clone(log2.LDebug)
	mqttLog.SetPrefix("paho: ")
	paho.CRITICAL = mqttLog
	paho.ERROR = mqttLog
	paho.WARN = mqttLog
	if config.LogDebug {
		paho.DEBUG = mqttLog
	}

	tlsconf, err := tlsConfig(&config)
	if err != nil {
		return nil, err
	}
	connectTimeout := self.timeout * 3
	keepalive := helpers.IntSecondDefault(config.KeepaliveSec, DefaultKeepalive)
	defaultHandler := func(_ paho.Client, msg paho.Message) {
		self.log.Debugf("tele unexpected paho message topic=%s payload=%x", msg.Topic(), msg.Payload())
	}
	self.mopt = paho.NewClientOptions().
		AddBroker(brokerURL(config.Broker)).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetClientID(config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetConnectTimeout(connectTimeout).
		SetDefaultPublishHandler(defaultHandler).
		SetKeepAlive(keepalive).
		SetMaxReconnectInterval(connectTimeout).
		SetOnConnectHandler(self.onConnect).
		SetConnectionLostHandler(self.onConnectionLost).
		SetPingTimeout(self.timeout).
		SetWriteTimeout(self.timeout)
	if tlsconf != nil {
		self.mopt.SetTLSConfig(tlsconf)
	}
	self.m = pahoNewClient(self.mopt)

	self.alive.Add(1)
	go self.online()
	return self, nil
}

func (self *transportPaho) Publish(topic string, payload []byte) error {
	if !self.m.IsConnected() {
		return ErrNotConnected
	}
	t := self.m.Publish(topic, 0, false, payload)
	return self.tokenWait(t, "publish topic="+topic)
}

func (self *transportPaho) Subscribe(topic string, handler MessageFunc) error {
	self.routes.add(topic, handler)
	if !self.m.IsConnected() {
		// onConnect subscribes all routes
		return nil
	}
	return self.subscribe(topic)
}

func (self *transportPaho) IsConnected() bool { return self.m.IsConnected() }

func (self *transportPaho) WaitConnected(ctx context.Context) bool {
	const pollInterval = 50 * time.Millisecond
	for {
		if self.m.IsConnected() {
			return true
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return false
		case <-self.alive.StopChan():
			return false
		}
	}
}

func (self *transportPaho) Close() error {
	self.alive.Stop()
	self.alive.Wait()
	if self.m.IsConnected() {
		self.m.Disconnect(uint(self.timeout / time.Millisecond))
	}
	return nil
}

// initial connect, paho auto reconnect only works after first success
func (self *transportPaho) online() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	backoff := helpers.Backoff{Min: time.Second, Max: self.timeout * 3, K: 2}
	for self.alive.IsRunning() {
		t := self.m.Connect()
		err := self.tokenWait(t, "connect")
		if err == nil {
			return
		}
		delay := backoff.DelayAfter(false)
		self.log.Errorf("%v, retry in %v", err, delay)
		select {
		case <-time.After(delay):
		case <-stopch:
			return
		}
	}
}

func (self *transportPaho) onConnect(c paho.Client) {
	self.log.Infof("tele paho connected")
	for _, topic := range self.routes.filters() {
		if err := self.subscribe(topic); err != nil {
			self.log.Error(err)
		}
	}
}

func (self *transportPaho) onConnectionLost(c paho.Client, err error) {
	self.log.Errorf("tele paho connection lost err=%v", err)
}

func (self *transportPaho) subscribe(topic string) error {
	self.submu.Lock()
	defer self.submu.Unlock()
	t := self.m.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		self.log.Debugf("tele received topic=%s payload=%x", msg.Topic(), msg.Payload())
		self.routes.dispatch(msg.Topic(), msg.Payload())
	})
	return self.tokenWait(t, "subscribe topic="+topic)
}

func (self *transportPaho) tokenWait(t paho.Token, tag string) error {
	if !t.WaitTimeout(self.timeout) {
		return errors.Timeoutf("tele paho %s", tag)
	}
	if err := t.Error(); err != nil {
		return errors.Annotatef(err, "tele paho %s", tag)
	}
	return nil
}
