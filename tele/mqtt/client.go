package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/bitdoglab/sectele/helpers/atomic_clock"
	"github.com/bitdoglab/sectele/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

const DefaultNetworkTimeout = 10 * time.Second
const DefaultReconnectDelay = 3 * time.Second

var ErrClientClosing = fmt.Errorf("MQTT client is closing")

type ClientOptions struct {
	BrokerURL      string
	TLS            *tls.Config
	ReconnectDelay time.Duration
	NetworkTimeout time.Duration
	KeepaliveSec   uint16
	ClientID       string
	Username       string
	Password       string
	Subscriptions  []packet.Subscription
	OnMessage      func(*packet.Message) error
	Will           *packet.Message
	Log            *log2.Log

	conpkt *packet.Connect
	dialer *transport.Dialer
}

// Telemetry device MQTT client.
// - NewClient() returns only configuration errors, network IO is done in background
// - Connect with clean session only
// - Subscribe at any time, subscriptions are replayed after reconnect, no unsubscribe
// - Unlimited reconnect attempts until Close()
// - QOS 0,1
// - Serialized Publish
type Client struct { //nolint:maligned
	sync.Mutex

	alive   *alive.Alive
	current *clientConn
	lastID  uint32
	opt     ClientOptions

	flowPublish struct {
		sync.Mutex
		fu *future.Future
		id packet.ID
	}
}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.OnMessage == nil {
		return nil, errors.NotValidf("code error mqtt.ClientOptions.OnMessage=nil")
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReconnectDelay == 0 {
		opt.ReconnectDelay = DefaultReconnectDelay
	}
	if u, err := url.ParseRequestURI(opt.BrokerURL); err != nil {
		return nil, errors.Annotatef(err, "config error mqtt BrokerURL=%s", opt.BrokerURL)
	} else if u.User != nil && opt.Username == "" && opt.Password == "" {
		opt.Username = u.User.Username()
		opt.Password, _ = u.User.Password()
	}
	opt.conpkt = packet.NewConnect()
	opt.conpkt.ClientID = defaultString(opt.ClientID, opt.Username)
	opt.conpkt.KeepAlive = opt.KeepaliveSec
	opt.conpkt.CleanSession = true
	opt.conpkt.Username = opt.Username
	opt.conpkt.Password = opt.Password
	opt.conpkt.Will = opt.Will
	opt.dialer = transport.NewDialer(transport.DialConfig{
		TLSConfig: opt.TLS,
		Timeout:   opt.NetworkTimeout,
	})
	// own copy, Subscribe appends
	opt.Subscriptions = append([]packet.Subscription(nil), opt.Subscriptions...)

	c := &Client{
		alive:  alive.NewAlive(),
		lastID: uint32(time.Now().UnixNano()),
		opt:    opt,
	}
	_ = c.clientConn(true)

	go c.worker()
	return c, nil
}

func (c *Client) Close() error {
	err := c.Disconnect()
	c.alive.Stop()
	c.alive.Wait()
	return err
}

func (c *Client) Disconnect() error {
	err := client.ErrClientNotConnected
	if cc := c.clientConn(false); cc != nil {
		err = cc.send(packet.NewDisconnect())
		err = cc.die(err)
	}
	return err
}

// IsReady is non-blocking WaitReady.
func (c *Client) IsReady() bool {
	cc := c.clientConn(false)
	return cc != nil && cc.isReady()
}

func (c *Client) Publish(ctx context.Context, msg *packet.Message) error {
	if msg.QOS >= packet.QOSExactlyOnce {
		panic("code error QOS ExactlyOnce not implemented")
	}

	f, err := c.publishBegin(ctx, msg)
	if err != nil {
		return err
	}

	switch err = f.Wait(c.opt.NetworkTimeout); err {
	case nil:
		return nil

	case future.ErrCanceled:
		if err, _ = f.Result().(error); err == nil {
			err = ErrClientClosing
		}
		return err

	case future.ErrTimeout:
		err = errors.Timeoutf("Publish ack")
		f.Cancel(err)
		return c.disconnect(err)

	default:
		return fmt.Errorf("code error future.Wait()=%v", err)
	}
}

// Subscribe adds sub to client subscription list.
// When connected, sends SUBSCRIBE and waits for SUBACK within ctx.
// Otherwise subscription is sent after next successful connect.
func (c *Client) Subscribe(ctx context.Context, sub packet.Subscription) error {
	c.Lock()
	for _, ex := range c.opt.Subscriptions {
		if ex.Topic == sub.Topic {
			c.Unlock()
			return nil
		}
	}
	c.opt.Subscriptions = append(c.opt.Subscriptions, sub)
	cc := c.current
	c.Unlock()

	if cc == nil || !cc.isConnected() {
		return nil
	}
	f, err := cc.subscribeMissing()
	if err != nil {
		return errors.Annotatef(err, "subscribe topic=%s", sub.Topic)
	}
	return errors.Annotatef(cc.awaitSuback(ctx, f), "subscribe topic=%s", sub.Topic)
}

// Returns, in this order:
// - ErrClientClosing if client stopped with Close()
// - nil if connected and subscribed within context limit
// - context.Canceled if context canceled/expired before successful connection
func (c *Client) WaitReady(ctx context.Context) error {
	donech := ctx.Done()
	stopch := c.alive.StopChan()
	for {
		cc := c.clientConn(false)
		if cc == nil {
			select {
			case <-time.After(100 * time.Millisecond):
				continue

			case <-donech:
				return context.Canceled

			case <-stopch:
				return ErrClientClosing
			}
		}

		switch cc.waitReady(ctx) {
		case nil:
			return nil

		case context.Canceled:
			return context.Canceled

		case ErrClientClosing: // current connection is lost, try next one
		}
	}
}

func (c *Client) clientConn(create bool) *clientConn {
	c.Lock()
	defer c.Unlock()
	if !c.alive.IsRunning() {
		return nil
	}
	if c.current != nil && !c.current.alive.IsRunning() {
		c.current = nil
	}
	if c.current == nil && create {
		c.current = newClientConn(c.opt, c)
	}
	return c.current
}

func (c *Client) disconnect(err error) error {
	if cc := c.clientConn(false); cc != nil {
		_ = cc.die(err)
		cc.alive.Wait()
	}
	return err
}

func (c *Client) publishBegin(ctx context.Context, msg *packet.Message) (*future.Future, error) {
	if err := c.WaitReady(ctx); err != nil {
		return nil, err
	}
	c.flowPublish.Lock()
	defer c.flowPublish.Unlock()
	if fprev := c.flowPublish.fu; fprev != nil {
		if err := fprev.Wait(1); err == future.ErrTimeout {
			return nil, err
		}
	}

	publish := packet.NewPublish()
	publish.Message = *msg
	if msg.QOS >= packet.QOSAtLeastOnce {
		publish.ID = c.nextID()
	}

	if err := c.send(publish); err != nil {
		return nil, errors.Annotate(err, "send PUBLISH")
	}

	c.flowPublish.fu = future.New()
	c.flowPublish.id = publish.ID
	if msg.QOS == packet.QOSAtMostOnce {
		c.flowPublish.fu.Complete(nil)
	}
	return c.flowPublish.fu, nil
}

func (c *Client) nextID() packet.ID {
	u32 := atomic.AddUint32(&c.lastID, 1)
	id := packet.ID(u32 % (1 << 16))
	if id == 0 {
		return c.nextID()
	}
	return id
}

func (c *Client) subscriptions() []packet.Subscription {
	c.Lock()
	defer c.Unlock()
	return append([]packet.Subscription(nil), c.opt.Subscriptions...)
}

func (c *Client) onPacket(p packet.Generic) {
	switch pt := p.(type) {
	case *packet.Publish:
		c.onPublish(pt)
	case *packet.Puback:
		c.onPuback(pt.ID)
	default:
		c.opt.Log.Debugf("unknown packet %s", PacketString(p))
	}
}

func (c *Client) onPublish(publish *packet.Publish) {
	if publish.Message.QOS == packet.QOSExactlyOnce {
		_ = c.disconnect(errors.NotSupportedf("qos=2 topic=%s", publish.Message.Topic))
		return
	}

	if err := c.opt.OnMessage(&publish.Message); err != nil {
		c.opt.Log.Errorf("onMessage topic=%s payload=%x err=%v", publish.Message.Topic, publish.Message.Payload, err)
		_ = c.disconnect(err)
		return
	}

	if publish.Message.QOS == packet.QOSAtLeastOnce {
		puback := packet.NewPuback()
		puback.ID = publish.ID
		if err := c.send(puback); err != nil {
			_ = c.disconnect(err)
		}
	}
}

func (c *Client) onPuback(id packet.ID) {
	c.flowPublish.Lock()
	defer c.flowPublish.Unlock()
	if c.flowPublish.fu == nil {
		c.opt.Log.Errorf("unexpected PUBACK id=%d", id)
		return
	}
	if c.flowPublish.id != id {
		// publish flow is serialized, PUBACK for another id is protocol violation
		_ = c.disconnect(errors.Errorf("PUBACK id=%d expected=%d", id, c.flowPublish.id))
		return
	}
	c.flowPublish.fu.Complete(id)
}

func (c *Client) send(pkt packet.Generic) error {
	if cc := c.clientConn(true); cc != nil {
		return cc.send(pkt)
	}
	return ErrClientClosing
}

func (c *Client) worker() {
	stopch := c.alive.StopChan()
	for {
		cc := c.clientConn(true)
		if cc == nil {
			return
		}
		select {
		case <-cc.alive.WaitChan():

		case <-stopch:
			_ = cc.die(ErrClientClosing)
			return
		}

		c.opt.Log.Debugf("wait ReconnectDelay=%v", c.opt.ReconnectDelay)
		select {
		case <-time.After(c.opt.ReconnectDelay):

		case <-stopch:
			_ = cc.die(ErrClientClosing)
			return
		}
	}
}

// Single client connection. `transport.Conn` with CONNECT, SUBSCRIBE and pings.
// Connected and subscribed events are observed via futures.
// SUBACK futures are keyed by packet ID, so runtime Subscribe can overlap with initial one.
type clientConn struct {
	acks    *future.Store
	alive   *alive.Alive
	closed  uint32
	confu   *future.Future
	conn    atomic.Value // transport.Conn
	owner   *Client
	opt     ClientOptions
	pingat  *atomic_clock.Clock // last outgoing control packet
	pongat  *atomic_clock.Clock // last incoming control packet
	subfu   *future.Future
	submu   sync.Mutex
	subsent map[string]struct{}
}

func newClientConn(opt ClientOptions, owner *Client) *clientConn {
	cc := &clientConn{
		acks:    future.NewStore(),
		alive:   alive.NewAlive(),
		confu:   future.New(),
		opt:     opt,
		owner:   owner,
		pingat:  atomic_clock.New(0),
		pongat:  atomic_clock.New(0),
		subfu:   future.New(),
		subsent: make(map[string]struct{}),
	}
	cc.alive.Add(1)
	go cc.connect()
	return cc
}

func (cc *clientConn) die(e error) error {
	if e == nil {
		e = ErrClientClosing
	}
	if !atomic.CompareAndSwapUint32(&cc.closed, 0, 1) {
		return e
	}
	cc.alive.Stop()
	cc.confu.Cancel(e)
	cc.subfu.Cancel(e)
	cc.acks.Clear()
	if conn := cc.getConn(); conn != nil {
		_ = conn.Close()
	}
	return e
}

func (cc *clientConn) getConn() transport.Conn {
	if x := cc.conn.Load(); x != nil {
		return x.(transport.Conn)
	}
	return nil
}

func (cc *clientConn) isConnected() bool {
	connected, _ := cc.confu.Result().(bool)
	return connected && cc.alive.IsRunning()
}

func (cc *clientConn) isReady() bool {
	subscribed, _ := cc.subfu.Result().(bool)
	return subscribed && cc.isConnected()
}

// dial, send CONNECT, wait CONNACK, start pinger and reader
func (cc *clientConn) connect() {
	defer cc.alive.Done()

	conn, err := cc.opt.dialer.Dial(cc.opt.BrokerURL)
	if err != nil {
		_ = cc.die(errors.Annotatef(err, "connect: dial broker=%s", cc.opt.BrokerURL))
		return
	}
	cc.conn.Store(conn)
	if err = cc.send(cc.opt.conpkt); err != nil {
		return
	}

	{ // expect CONNACK
		conn.SetReadTimeout(cc.opt.NetworkTimeout)
		pkt, err := conn.Receive()
		if err != nil {
			_ = cc.die(errors.Annotate(err, "connect: expect CONNACK"))
			return
		}
		connack, ok := pkt.(*packet.Connack)
		if !ok {
			err = errors.Annotatef(client.ErrClientExpectedConnack, "connect: server error pkt=%s", PacketString(pkt))
			_ = cc.die(err)
			return
		}
		cc.opt.Log.Debugf("CONNACK=%s", connack.String())
		if connack.ReturnCode != packet.ConnectionAccepted {
			err = errors.Annotate(client.ErrClientConnectionDenied, connack.ReturnCode.String())
			_ = cc.die(err)
			return
		}
		cc.confu.Complete(true)
		conn.SetReadTimeout(0)
	}

	if !cc.alive.Add(3) {
		_ = cc.die(context.Canceled)
		return
	}
	cc.pongat.SetNow()
	go cc.pinger()
	go cc.reader()
	go cc.subscriber()
}

func (cc *clientConn) onSuback(suback *packet.Suback) {
	f := cc.acks.Get(suback.ID)
	if f == nil {
		err := errors.Annotatef(client.ErrFailedSubscription, "unexpected SUBACK id=%d", suback.ID)
		_ = cc.die(err)
		return
	}
	cc.acks.Delete(suback.ID)
	for _, code := range suback.ReturnCodes {
		if code == packet.QOSFailure {
			f.Cancel(client.ErrFailedSubscription)
			_ = cc.die(client.ErrFailedSubscription)
			return
		}
	}
	f.Complete(suback.ReturnCodes)
}

// Sends PINGREQ only if Keepalive-NetworkTimeout has passed since last outgoing packet.
func (cc *clientConn) pinger() {
	defer cc.alive.Done()
	if cc.opt.KeepaliveSec == 0 {
		return
	}

	// [MQTT-3.1.2-24] control packets must arrive at most KeepaliveSec*1.5 apart
	keepalive := keepaliveAndHalf(cc.opt.KeepaliveSec)
	interval := keepalive - cc.opt.NetworkTimeout
	if interval <= 0 {
		interval = keepalive / 2
	}
	stopch := cc.alive.StopChan()
	for cc.alive.IsRunning() {
		now := atomic_clock.Now()
		window := now.Sub(cc.pingat)
		sincePong := now.Sub(cc.pongat)

		if window > 0 && window < interval {
			select {
			case <-time.After(interval - window):
				continue

			case <-stopch:
				return
			}
		} else if window >= interval {
			if err := cc.send(packet.NewPingreq()); err != nil {
				return
			}
		}

		if sincePong > keepalive {
			_ = cc.die(client.ErrClientMissingPong)
			return
		}
	}
}

func (cc *clientConn) reader() {
	defer cc.alive.Done()

	conn := cc.getConn()
	for {
		pkt, err := conn.Receive()
		if !cc.alive.IsRunning() {
			return
		}
		switch err {
		case nil:

		case io.EOF:
			cc.opt.Log.Errorf("server closed connection")
			_ = cc.die(nil)
			return

		default:
			_ = cc.die(errors.Annotate(err, "receive"))
			return
		}
		cc.opt.Log.Debugf("received=%s", PacketString(pkt))

		switch pt := pkt.(type) {
		case *packet.Connack:
			_ = cc.die(errors.Errorf("server error duplicate CONNACK pkt=%s", PacketString(pkt)))
			return

		case *packet.Pingresp:
			cc.pongat.SetNow()

		case *packet.Suback:
			cc.onSuback(pt)

		default:
			cc.owner.onPacket(pkt)
		}
	}
}

func (cc *clientConn) send(p packet.Generic) error {
	if cc == nil {
		return client.ErrClientNotConnected
	}
	conn := cc.getConn()
	if conn == nil {
		return client.ErrClientNotConnected
	}
	if err := conn.Send(p, false); err != nil {
		err = errors.Annotatef(err, "send %s", p.Type().String())
		return cc.die(err)
	}
	cc.pingat.SetNow()
	cc.opt.Log.Debugf("sent %s", PacketString(p))
	return nil
}

// subscribeMissing sends SUBSCRIBE for topics not yet sent on this connection.
// Returns nil future when nothing to send.
func (cc *clientConn) subscribeMissing() (*future.Future, error) {
	cc.submu.Lock()
	defer cc.submu.Unlock()

	var pending []packet.Subscription
	for _, sub := range cc.owner.subscriptions() {
		if _, ok := cc.subsent[sub.Topic]; !ok {
			pending = append(pending, sub)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	pkt := packet.NewSubscribe()
	pkt.ID = cc.owner.nextID()
	pkt.Subscriptions = pending
	f := future.New()
	cc.acks.Put(pkt.ID, f)
	if err := cc.send(pkt); err != nil {
		cc.acks.Delete(pkt.ID)
		return nil, err
	}
	for _, sub := range pending {
		cc.subsent[sub.Topic] = struct{}{}
	}
	return f, nil
}

func (cc *clientConn) awaitSuback(ctx context.Context, f *future.Future) error {
	if f == nil {
		return nil
	}
	timeout := cc.opt.NetworkTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		timeout = 1
	}
	switch f.Wait(timeout) {
	case nil:
		return nil

	case future.ErrTimeout:
		return cc.die(errors.Timeoutf("SUBACK"))

	default:
		if err, _ := f.Result().(error); err != nil {
			return err
		}
		return ErrClientClosing
	}
}

func (cc *clientConn) subscriber() {
	defer cc.alive.Done()
	f, err := cc.subscribeMissing()
	if err != nil {
		return
	}
	if cc.awaitSuback(context.Background(), f) == nil {
		cc.subfu.Complete(true)
	}
}

// Returns, in this order:
// - ErrClientClosing if clientConn is in final invalid state
// - nil if connected and subscribed within context limit
// - context.Canceled if context canceled/expired before successful connection
func (cc *clientConn) waitReady(ctx context.Context) error {
	if cc == nil {
		return ErrClientClosing
	}

	pollInterval := 100 * time.Millisecond
	donech := ctx.Done()
	for {
		if !cc.alive.IsRunning() {
			return ErrClientClosing
		}
		if cc.isReady() {
			return nil
		}

		select {
		case <-time.After(pollInterval):

		case <-cc.alive.StopChan():
			return ErrClientClosing

		case <-donech:
			return context.Canceled
		}
	}
}
