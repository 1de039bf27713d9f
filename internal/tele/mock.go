package tele

import (
	"context"
	"sync"
	"sync/atomic"
)

type MockMessage struct {
	Topic   string
	Payload []byte
}

// MockTransport records publishes and lets tests inject inbound messages.
type MockTransport struct {
	mu         sync.Mutex
	connected  uint32
	published  []MockMessage
	routes     routes
	PublishErr error
	OnPublish  func(MockMessage) // optional loopback
}

var _ Transport = &MockTransport{}

func NewMockTransport(connected bool) *MockTransport {
	m := &MockTransport{}
	m.SetConnected(connected)
	return m
}

func (self *MockTransport) SetConnected(c bool) {
	var v uint32
	if c {
		v = 1
	}
	atomic.StoreUint32(&self.connected, v)
}

func (self *MockTransport) Publish(topic string, payload []byte) error {
	if !self.IsConnected() {
		return ErrNotConnected
	}
	if self.PublishErr != nil {
		return self.PublishErr
	}
	msg := MockMessage{Topic: topic, Payload: append([]byte(nil), payload...)}
	self.mu.Lock()
	self.published = append(self.published, msg)
	self.mu.Unlock()
	if self.OnPublish != nil {
		self.OnPublish(msg)
	}
	return nil
}

func (self *MockTransport) Subscribe(topic string, handler MessageFunc) error {
	self.routes.add(topic, handler)
	return nil
}

func (self *MockTransport) IsConnected() bool { return atomic.LoadUint32(&self.connected) == 1 }

func (self *MockTransport) WaitConnected(ctx context.Context) bool {
	if self.IsConnected() {
		return true
	}
	<-ctx.Done()
	return self.IsConnected()
}

func (self *MockTransport) Close() error {
	self.SetConnected(false)
	return nil
}

// Deliver simulates inbound message, returns number of handlers called.
func (self *MockTransport) Deliver(topic string, payload []byte) int {
	return self.routes.dispatch(topic, payload)
}

func (self *MockTransport) Published() []MockMessage {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]MockMessage(nil), self.published...)
}

func (self *MockTransport) Subscriptions() []string { return self.routes.filters() }
