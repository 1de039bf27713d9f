package mqtt

// Lab MQTT broker relaying telemetry frames between devices.
// Clean sessions only, QOS 0 and 1, retained messages and wills.

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/broker"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/topic"
	"github.com/256dpi/gomqtt/transport"
	"github.com/bitdoglab/sectele/helpers"
	"github.com/bitdoglab/sectele/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

const defaultReadLimit = 1 << 20

var (
	ErrSameClient    = fmt.Errorf("clientid overtake")
	ErrClosing       = fmt.Errorf("server is closing")
	ErrNoSubscribers = fmt.Errorf("no subscribers")
)

type ServerOptions struct {
	Log *log2.Log
	// username -> password, checked when OnConnect is nil
	Users          map[string]string
	AllowAnonymous bool
	OnClose        CloseFunc   // valid client connection lost
	OnConnect      ConnectFunc // overrides Users check
	OnPublish      MessageFunc // observe incoming message before relay, error disconnects client
}

type CloseFunc = func(clientID string, clean bool, e error)
type ConnectFunc = func(context.Context, *BackendOptions, *packet.Connect) (bool, error)
type MessageFunc = func(ctx context.Context, clientID string, msg *packet.Message) error

type ServerStats struct {
	Clients  int
	Received uint64
	Relayed  uint64
	Dropped  uint64
}

// Server.subs is prefix tree of pattern -> []{client, qos}
type subscription struct {
	pattern string
	client  string
	qos     packet.QOS
}

type Server struct { //nolint:maligned
	sync.RWMutex

	alive    *alive.Alive
	backends struct {
		sync.RWMutex
		m map[string]*backend
	}
	ctx       context.Context
	listens   map[string]*transport.NetServer
	log       *log2.Log
	nextid    uint32 // atomic packet.ID
	onClose   CloseFunc
	onConnect ConnectFunc
	onPublish MessageFunc
	retain    *topic.Tree // *packet.Message
	subs      *topic.Tree // *subscription
	stat      struct {
		received uint64
		relayed  uint64
		dropped  uint64
	}
}

func NewServer(opt ServerOptions) *Server {
	s := &Server{
		alive:  alive.NewAlive(),
		ctx:    context.Background(),
		log:    opt.Log,
		retain: topic.NewStandardTree(),
		subs:   topic.NewStandardTree(),
	}
	s.backends.m = make(map[string]*backend)
	s.onConnect = opt.OnConnect
	if s.onConnect == nil {
		s.onConnect = AuthUsers(opt.Users, opt.AllowAnonymous)
	}
	s.onClose = opt.OnClose
	s.onPublish = opt.OnPublish
	return s
}

// AuthUsers accepts CONNECT with username/password from users map.
func AuthUsers(users map[string]string, anonymous bool) ConnectFunc {
	return func(_ context.Context, _ *BackendOptions, pkt *packet.Connect) (bool, error) {
		if pkt.Username == "" {
			return anonymous, nil
		}
		secret, ok := users[pkt.Username]
		if !ok {
			return false, nil
		}
		return subtle.ConstantTimeCompare([]byte(secret), []byte(pkt.Password)) == 1, nil
	}
}

func (s *Server) Addrs() []string {
	s.RLock()
	defer s.RUnlock()
	addrs := make([]string, 0, len(s.listens))
	for _, l := range s.listens {
		addrs = append(addrs, l.Addr().String())
	}
	return addrs
}

func (s *Server) Close() error {
	s.alive.Stop()
	errs := make([]error, 0)
	helpers.WithLock(s, func() {
		for key, ns := range s.listens {
			if err := ns.Close(); err != nil {
				errs = append(errs, err)
			}
			delete(s.listens, key)
		}
	})
	helpers.WithLock(s.backends.RLocker(), func() {
		for _, b := range s.backends.m {
			switch err := b.die(nil); err {
			case nil, ErrClosing, io.EOF:

			default:
				errs = append(errs, err)
			}
		}
	})
	s.alive.Wait()
	return helpers.FoldErrors(errs)
}

func (s *Server) Listen(ctx context.Context, lopts []*BackendOptions) error {
	s.Lock()
	defer s.Unlock()

	s.ctx = ctx
	s.listens = make(map[string]*transport.NetServer, len(lopts))

	errs := make([]error, 0)
	for _, opt := range lopts {
		if opt.NetworkTimeout == 0 {
			opt.NetworkTimeout = DefaultNetworkTimeout
		}
		if opt.AckTimeout == 0 {
			opt.AckTimeout = 2 * opt.NetworkTimeout
		}
		if opt.ReadLimit == 0 {
			opt.ReadLimit = defaultReadLimit
		}
		s.log.Debugf("mqtt listen url=%s timeout=%v", opt.URL, opt.NetworkTimeout)

		if !s.alive.Add(1) {
			errs = append(errs, errors.Errorf("Listen after Close"))
			break
		}
		ns, err := s.listen(opt)
		if err != nil {
			s.alive.Done()
			errs = append(errs, errors.Annotatef(err, "mqtt listen url=%s", opt.URL))
			continue
		}
		s.listens[opt.URL] = ns
		go s.acceptLoop(ns, opt)
	}
	return helpers.FoldErrors(errs)
}

func (s *Server) NextID() packet.ID {
	u32 := atomic.AddUint32(&s.nextid, 1)
	id := packet.ID(u32 % (1 << 16))
	if id == 0 {
		return s.NextID()
	}
	return id
}

// Publish delivers msg to every matching subscriber, each with its own QOS.
// Returns ErrNoSubscribers when nobody matched.
func (s *Server) Publish(ctx context.Context, msg *packet.Message) error {
	s.log.Debugf("mqtt Server.Publish msg=%s", MessageString(msg))

	if msg.Retain {
		if len(msg.Payload) != 0 {
			s.retain.Set(msg.Topic, msg.Copy())
		} else {
			s.retain.Empty(msg.Topic)
		}
	}

	var _a [8]*subscription
	subs := _a[:0]
	uniq := make(map[string]struct{})
	for _, x := range s.subs.Match(msg.Topic) {
		xsub := x.(*subscription)
		if _, ok := uniq[xsub.client]; !ok {
			uniq[xsub.client] = struct{}{}
			subs = append(subs, xsub)
		}
	}
	if len(subs) == 0 {
		atomic.AddUint64(&s.stat.dropped, 1)
		return ErrNoSubscribers
	}

	id := s.NextID()
	errch := make(chan error, len(subs))
	wg := sync.WaitGroup{}
	helpers.WithLock(s.backends.RLocker(), func() {
		for _, sub := range subs {
			b, ok := s.backends.m[sub.client]
			if !ok {
				continue
			}
			wg.Add(1)
			bmsg := msg.Copy()
			bmsg.QOS = sub.qos
			bmsg.Retain = false
			go func() {
				defer wg.Done()
				if err := b.publish(ctx, id, bmsg); err != nil {
					errch <- errors.Annotatef(err, "client=%s", b.id)
				} else {
					atomic.AddUint64(&s.stat.relayed, 1)
				}
			}()
		}
	})
	wg.Wait()
	close(errch)
	return helpers.FoldErrChan(errch)
}

func (s *Server) Retain() []*packet.Message {
	xs := s.retain.All()
	if len(xs) == 0 {
		return nil
	}
	ms := make([]*packet.Message, len(xs))
	for i, x := range xs {
		ms[i] = x.(*packet.Message)
	}
	return ms
}

func (s *Server) Stats() ServerStats {
	st := ServerStats{
		Received: atomic.LoadUint64(&s.stat.received),
		Relayed:  atomic.LoadUint64(&s.stat.relayed),
		Dropped:  atomic.LoadUint64(&s.stat.dropped),
	}
	helpers.WithLock(s.backends.RLocker(), func() { st.Clients = len(s.backends.m) })
	return st
}

func (s *Server) listen(opt *BackendOptions) (*transport.NetServer, error) {
	u, err := url.ParseRequestURI(opt.URL)
	if err != nil {
		return nil, errors.Annotate(err, "parse url")
	}

	switch u.Scheme {
	case "tls":
		ns, err := transport.CreateSecureNetServer(u.Host, opt.TLS)
		return ns, errors.Annotate(err, "CreateSecureNetServer")

	case "tcp", "unix":
		listen, err := net.Listen(u.Scheme, u.Host)
		if err != nil {
			return nil, errors.Annotatef(err, "net.Listen network=%s address=%s", u.Scheme, u.Host)
		}
		return transport.NewNetServer(listen), nil
	}
	return nil, errors.NotSupportedf("listen url=%s", opt.URL)
}

func (s *Server) acceptLoop(ns *transport.NetServer, opt *BackendOptions) {
	defer s.alive.Done()
	for {
		conn, err := ns.Accept()
		if !s.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			s.log.Error(errors.Annotatef(err, "accept listen=%s", opt.URL))
			s.alive.Stop()
			return
		}

		if !s.alive.Add(1) {
			_ = conn.Close()
			return
		}
		go s.processConn(conn, opt)
	}
}

func (s *Server) onAccept(conn transport.Conn, opt *BackendOptions) (*backend, error) {
	var err error
	addr := addrString(conn.RemoteAddr())
	defer errors.DeferredAnnotatef(&err, "addr=%s", addr)

	pkt, err := conn.Receive()
	if err != nil {
		return nil, errors.Trace(err)
	}
	pktConnect, ok := pkt.(*packet.Connect)
	if !ok {
		err = broker.ErrUnexpectedPacket
		return nil, errors.Trace(err)
	}

	connack := packet.NewConnack()
	connack.SessionPresent = false

	if pktConnect.ClientID == "" {
		connack.ReturnCode = packet.IdentifierRejected
		_ = conn.Send(connack, false)
		err = errors.Annotate(broker.ErrNotAuthorized, "empty clientid")
		return nil, errors.Trace(err)
	}

	ok, err = s.onConnect(s.ctx, opt, pktConnect)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !ok {
		connack.ReturnCode = packet.NotAuthorized
		_ = conn.Send(connack, false)
		err = errors.Annotatef(broker.ErrNotAuthorized, "username=%s", pktConnect.Username)
		return nil, errors.Trace(err)
	}
	s.log.Debugf("mqtt CONNECT addr=%s client=%s username=%s keepalive=%d",
		addr, pktConnect.ClientID, pktConnect.Username, pktConnect.KeepAlive)

	connack.ReturnCode = packet.ConnectionAccepted
	keepalive := time.Duration(pktConnect.KeepAlive) * time.Second
	if keepalive == 0 || keepalive > opt.NetworkTimeout {
		keepalive = opt.NetworkTimeout
	}
	conn.SetReadTimeout(keepalive + keepalive/2)
	if err = conn.Send(connack, false); err != nil {
		return nil, errors.Trace(err)
	}
	return newBackend(conn, opt, s.log, pktConnect), nil
}

func (s *Server) onSubscribe(b *backend, pkt *packet.Subscribe) error {
	// [MQTT-3.8.3-3] SUBSCRIBE must contain at least one topic filter
	if len(pkt.Subscriptions) == 0 {
		return b.die(fmt.Errorf("subscribe request with empty sub list"))
	}
	suback := packet.NewSuback()
	suback.ID = pkt.ID
	suback.ReturnCodes = make([]packet.QOS, 0, len(pkt.Subscriptions))
	retained := s.subscribe(b, pkt.Subscriptions, suback)
	if err := b.send(suback); err != nil {
		return errors.Annotate(err, "onSubscribe")
	}
	// retained messages go after SUBACK
	for _, msg := range retained {
		go func(m *packet.Message) { _ = b.publish(s.ctx, s.NextID(), m) }(msg)
	}
	return nil
}

func (s *Server) onPublishPacket(b *backend, pkt *packet.Publish) error {
	atomic.AddUint64(&s.stat.received, 1)
	if pkt.Message.QOS > packet.QOSAtLeastOnce {
		return errors.NotSupportedf("qos=%d", pkt.Message.QOS)
	}
	if s.onPublish != nil {
		if err := s.onPublish(s.ctx, b.id, &pkt.Message); err != nil {
			return errors.Annotatef(err, "publish rejected client=%s topic=%s", b.id, pkt.Message.Topic)
		}
	}
	if pkt.Message.QOS == packet.QOSAtLeastOnce {
		puback := packet.NewPuback()
		puback.ID = pkt.ID
		if err := b.send(puback); err != nil {
			return err
		}
	}
	switch err := s.Publish(s.ctx, &pkt.Message); err {
	case nil:
	case ErrNoSubscribers:
		s.log.Debugf("mqtt no subscribers topic=%s", pkt.Message.Topic)
	default:
		// subscriber trouble must not disconnect publisher
		s.log.Errorf("mqtt relay topic=%s err=%v", pkt.Message.Topic, err)
	}
	return nil
}

func (s *Server) processConn(conn transport.Conn, opt *BackendOptions) {
	defer s.alive.Done()

	addrNew := addrString(conn.RemoteAddr())
	conn.SetMaxWriteDelay(0)
	conn.SetReadLimit(opt.ReadLimit)
	conn.SetReadTimeout(opt.NetworkTimeout)
	b, err := s.onAccept(conn, opt)
	if err != nil {
		s.log.Infof("mqtt onAccept addr=%s err=%v", addrNew, err)
		_ = conn.Close()
		return
	}

	helpers.WithLock(&s.backends, func() {
		if ex, ok := s.backends.m[b.id]; ok {
			s.log.Infof("mqtt client overtake id=%s ex=%s new=%s", b.id, addrString(ex.remoteAddr()), addrNew)
			_ = ex.die(ErrSameClient)
		}
		s.backends.m[b.id] = b
	})

	wg := sync.WaitGroup{}
	for {
		pkt, err := b.receive()
		if !b.alive.IsRunning() || !s.alive.IsRunning() {
			_ = b.die(ErrClosing)
			break
		}
		if err != nil {
			break
		}
		wg.Add(1)
		go s.processPacket(b, pkt, &wg)
	}
	wg.Wait()

	_ = b.acks.Await(b.opt.NetworkTimeout)
	b.acks.Clear()
	b.alive.WaitTasks()

	closeErr := b.die(ErrClosing)
	will, clean := b.getWill()
	helpers.WithLock(&s.backends, func() {
		if ex := s.backends.m[b.id]; b == ex {
			delete(s.backends.m, b.id)
		}
		for _, value := range s.subs.All() {
			if sub := value.(*subscription); sub.client == b.id {
				s.subs.Remove(sub.pattern, value)
			}
		}
	})
	s.log.Debugf("mqtt closed id=%s clean=%t will=%s", b.id, clean, MessageString(will))
	if !clean && will != nil {
		_ = s.Publish(s.ctx, will)
	}
	if s.onClose != nil {
		s.onClose(b.id, clean, closeErr)
	}
}

// on each incoming packet after connect handshake
func (s *Server) processPacket(b *backend, pkt packet.Generic, finally interface{ Done() }) {
	defer finally.Done()
	err := helpers.WithLockError(s.backends.RLocker(), func() error {
		if ex := s.backends.m[b.id]; b != ex {
			return ErrSameClient
		}
		return nil
	})
	if err != nil {
		s.log.Errorf("mqtt ignore packet from detached id=%s pkt=%s", b.id, PacketString(pkt))
		_ = b.die(err)
		return
	}

	switch pt := pkt.(type) {
	case *packet.Pingreq:
		err = b.send(packet.NewPingresp())

	case *packet.Publish:
		err = s.onPublishPacket(b, pt)

	case *packet.Puback:
		err = b.fulfillAck(pt.ID)

	case *packet.Subscribe:
		err = s.onSubscribe(b, pt)

	case *packet.Unsubscribe:
		for _, t := range pt.Topics {
			for _, value := range s.subs.Match(t) {
				if sub := value.(*subscription); sub.client == b.id && sub.pattern == t {
					s.subs.Remove(t, value)
				}
			}
		}
		unsuback := packet.NewUnsuback()
		unsuback.ID = pt.ID
		err = b.send(unsuback)

	case *packet.Pubrec, *packet.Pubrel, *packet.Pubcomp:
		err = errors.NotSupportedf("qos=2")

	case *packet.Disconnect:
		b.onDisconnect()
		_ = b.die(nil)
		return

	default:
		err = fmt.Errorf("code error packet is not handled pkt=%s", PacketString(pkt))
	}
	if err != nil {
		s.log.Errorf("mqtt client=%s err=%v", b.id, err)
		_ = b.die(err)
	}
}

func (s *Server) subscribe(b *backend, subs []packet.Subscription, suback *packet.Suback) []*packet.Message {
	var retained []*packet.Message
	for _, sub := range subs {
		sub2 := &subscription{
			pattern: sub.Topic,
			client:  b.id,
			qos:     sub.QOS,
		}
		if sub2.qos > packet.QOSAtLeastOnce {
			sub2.qos = packet.QOSAtLeastOnce
		}
		s.subs.Add(sub2.pattern, sub2)
		suback.ReturnCodes = append(suback.ReturnCodes, sub2.qos)

		for _, v := range s.retain.Search(sub2.pattern) {
			msg := v.(*packet.Message).Copy()
			if msg.QOS > sub2.qos {
				msg.QOS = sub2.qos
			}
			retained = append(retained, msg)
		}
	}
	return retained
}
