package tele

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"net/url"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/packet"
	"github.com/bitdoglab/sectele/helpers"
	"github.com/bitdoglab/sectele/log2"
	tele_config "github.com/bitdoglab/sectele/tele/config"
	"github.com/bitdoglab/sectele/tele/mqtt"
	"github.com/juju/errors"
)

type transportGomqtt struct {
	c       *mqtt.Client
	log     *log2.Log
	routes  routes
	timeout time.Duration
}

// NewGomqtt returns transport over tele/mqtt client.
func NewGomqtt(config tele_config.Config, log *log2.Log) (Transport, error) {
	self := &transportGomqtt{log: log}
	timeout := networkTimeout(&config)
	self.timeout = timeout

	tlsconf, err := tlsConfig(&config)
	if err != nil {
		return nil, err
	}
	mlog := log.Clone(log2.LInfo)
	if config.LogDebug {
		mlog.SetLevel(log2.LDebug)
	}
	mlog.SetPrefix("mqtt: ")
	keepalive := helpers.IntSecondDefault(config.KeepaliveSec, DefaultKeepalive)
	self.c, err = mqtt.NewClient(mqtt.ClientOptions{
		BrokerURL:      brokerURL(config.Broker),
		TLS:            tlsconf,
		ClientID:       config.ClientID,
		Username:       config.Username,
		Password:       config.Password,
		NetworkTimeout: timeout,
		KeepaliveSec:   uint16(keepalive.Seconds()),
		Log:            mlog,
		OnMessage:      self.onMessage,
	})
	if err != nil {
		return nil, errors.Annotate(err, "tele gomqtt")
	}
	return self, nil
}

func (self *transportGomqtt) Publish(topic string, payload []byte) error {
	if !self.c.IsReady() {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), self.timeout)
	defer cancel()
	msg := &packet.Message{Topic: topic, Payload: payload, QOS: packet.QOSAtMostOnce}
	return errors.Annotatef(self.c.Publish(ctx, msg), "publish topic=%s", topic)
}

func (self *transportGomqtt) Subscribe(topic string, handler MessageFunc) error {
	if !self.routes.add(topic, handler) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), self.timeout)
	defer cancel()
	return self.c.Subscribe(ctx, packet.Subscription{Topic: topic, QOS: packet.QOSAtMostOnce})
}

func (self *transportGomqtt) IsConnected() bool { return self.c.IsReady() }

func (self *transportGomqtt) WaitConnected(ctx context.Context) bool {
	return self.c.WaitReady(ctx) == nil
}

func (self *transportGomqtt) Close() error {
	switch err := self.c.Close(); errors.Cause(err) {
	case nil, mqtt.ErrClientClosing, client.ErrClientNotConnected:
		return nil
	default:
		return err
	}
}

func (self *transportGomqtt) onMessage(m *packet.Message) error {
	self.log.Debugf("tele received topic=%s payload=%x", m.Topic, m.Payload)
	// payload buffer belongs to packet decoder
	payload := append([]byte(nil), m.Payload...)
	if self.routes.dispatch(m.Topic, payload) == 0 {
		self.log.Debugf("tele no handler topic=%s", m.Topic)
	}
	return nil
}

// broker address without scheme means plain tcp
func brokerURL(s string) string {
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		return s
	}
	return "tcp://" + s
}

func tlsConfig(config *tele_config.Config) (*tls.Config, error) {
	if config.TlsCaFile == "" {
		return nil, nil
	}
	cabytes, err := ioutil.ReadFile(config.TlsCaFile)
	if err != nil {
		return nil, errors.Annotate(err, "tele tls_ca_file")
	}
	tlsconf := new(tls.Config)
	tlsconf.RootCAs = x509.NewCertPool()
	if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
		return nil, errors.NotValidf("tele tls_ca_file=%s no certificates", config.TlsCaFile)
	}
	return tlsconf, nil
}
