package tele

import (
	"context"
	"sync"
	"time"

	"github.com/bitdoglab/sectele/helpers"
	"github.com/bitdoglab/sectele/log2"
	tele_config "github.com/bitdoglab/sectele/tele/config"
	"github.com/bitdoglab/sectele/tele/mqtt"
	"github.com/juju/errors"
)

const (
	DefaultNetworkTimeout = 5 * time.Second
	DefaultConnectWait    = 3 * time.Second
	DefaultKeepalive      = 30 * time.Second
)

var ErrNotConnected = errors.New("transport not connected")

type MessageFunc func(topic string, payload []byte)

// Transport contract:
// - constructor fails only with invalid config, connect runs in background
// - Publish does not queue or retry, error when offline
// - QOS 0, payload is opaque binary
// - handler is called from transport goroutine and must not block
type Transport interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler MessageFunc) error
	IsConnected() bool
	WaitConnected(ctx context.Context) bool
	Close() error
}

func New(config tele_config.Config, log *log2.Log) (Transport, error) {
	switch config.Transport {
	case "", tele_config.TransportGomqtt:
		return NewGomqtt(config, log)
	case tele_config.TransportPaho:
		return NewPaho(config, log)
	}
	return nil, errors.NotValidf("tele.transport=%s", config.Transport)
}

func networkTimeout(config *tele_config.Config) time.Duration {
	d := helpers.IntSecondDefault(config.NetworkTimeoutSec, DefaultNetworkTimeout)
	if d < time.Second {
		d = time.Second
	}
	return d
}

func ConnectWait(config *tele_config.Config) time.Duration {
	return helpers.IntSecondDefault(config.ConnectWaitSec, DefaultConnectWait)
}

type route struct {
	filter  string
	handler MessageFunc
}

// routes dispatches inbound messages by MQTT topic filter.
type routes struct {
	sync.RWMutex
	list []route
}

// add returns false if filter was already registered, handler is replaced.
func (self *routes) add(filter string, handler MessageFunc) bool {
	self.Lock()
	defer self.Unlock()
	for i := range self.list {
		if self.list[i].filter == filter {
			self.list[i].handler = handler
			return false
		}
	}
	self.list = append(self.list, route{filter: filter, handler: handler})
	return true
}

func (self *routes) filters() []string {
	self.RLock()
	defer self.RUnlock()
	fs := make([]string, len(self.list))
	for i, r := range self.list {
		fs[i] = r.filter
	}
	return fs
}

func (self *routes) dispatch(topic string, payload []byte) int {
	self.RLock()
	matched := make([]MessageFunc, 0, 1)
	for _, r := range self.list {
		if mqtt.TopicMatch(r.filter, topic) {
			matched = append(matched, r.handler)
		}
	}
	self.RUnlock()
	for _, h := range matched {
		h(topic, payload)
	}
	return len(matched)
}
