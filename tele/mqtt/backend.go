package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/bitdoglab/sectele/helpers"
	"github.com/bitdoglab/sectele/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

type BackendOptions struct {
	URL string
	TLS *tls.Config

	AckTimeout     time.Duration
	NetworkTimeout time.Duration // conn receive timeout
	ReadLimit      int64
}

// Broker side of one device connection.
type backend struct {
	alive    *alive.Alive
	acks     *future.Store
	conn     transport.Conn
	connmu   sync.RWMutex
	disco    uint32
	err      helpers.AtomicError
	id       string
	opt      *BackendOptions
	log      *log2.Log
	username string
	will     *packet.Message
	willmu   sync.Mutex
}

func newBackend(conn transport.Conn, opt *BackendOptions, log *log2.Log, pktConnect *packet.Connect) *backend {
	b := &backend{
		alive:    alive.NewAlive(),
		acks:     future.NewStore(),
		conn:     conn,
		id:       pktConnect.ClientID,
		opt:      opt,
		log:      log,
		username: pktConnect.Username,
	}
	if pktConnect.Will != nil {
		b.will = pktConnect.Will.Copy()
	}
	return b
}

// expectAck registers future completed by PUBACK with id, canceled after AckTimeout.
func (b *backend) expectAck(id packet.ID) *future.Future {
	f := future.New()
	if ex := b.acks.Get(id); ex != nil {
		err := errors.Errorf("ack id=%d already in flight client=%s", id, b.id)
		ex.Cancel(err)
		f.Cancel(err)
		return f
	}
	if !b.alive.Add(1) {
		f.Cancel(ErrClosing)
		return f
	}
	b.acks.Put(id, f)
	go func() {
		defer b.alive.Done()
		if err := f.Wait(b.opt.AckTimeout); err == future.ErrTimeout {
			f.Cancel(err)
		}
		b.acks.Delete(id)
	}()
	return f
}

func (b *backend) publish(ctx context.Context, id packet.ID, msg *packet.Message) error {
	if !b.alive.Add(1) {
		return ErrClosing
	}
	defer b.alive.Done()

	pub := packet.NewPublish()
	pub.Message = *msg
	switch msg.QOS {
	case packet.QOSAtMostOnce:
		return b.send(pub)

	case packet.QOSAtLeastOnce:
		if id == 0 {
			return errors.Errorf("code error QOSAtLeastOnce requires non-zero packet.ID message=%s", MessageString(msg))
		}
		pub.ID = id
		f := b.expectAck(id)
		if err := b.send(pub); err != nil {
			f.Cancel(err)
		}
		err := f.Wait(b.opt.AckTimeout)
		switch err {
		case nil:
			return nil
		case future.ErrCanceled:
			if err, _ = f.Result().(error); err == nil {
				err = errors.Errorf("code error ack future canceled with nil")
			}
		}
		return b.die(errors.Annotatef(err, "expect PUBACK id=%d", id))

	default:
		return errors.NotSupportedf("qos=%d", msg.QOS)
	}
}

func (b *backend) receive() (packet.Generic, error) {
	conn := b.getConn()
	if conn == nil {
		return nil, ErrClosing
	}
	pkt, err := conn.Receive()
	switch err {
	case nil:
		b.log.Debugf("mqtt recv id=%s pkt=%s", b.id, PacketString(pkt))
		return pkt, nil

	case io.EOF:
		_ = b.die(err)
		return nil, err

	default:
		if !b.alive.IsRunning() && isClosedConn(err) {
			// conn.Close interrupted blocking Receive
			return nil, ErrClosing
		}
		_ = b.die(err)
		return nil, err
	}
}

func (b *backend) send(pkt packet.Generic) error {
	conn := b.getConn()
	if conn == nil {
		return ErrClosing
	}
	b.log.Debugf("mqtt send id=%s pkt=%s", b.id, PacketString(pkt))
	if err := conn.Send(pkt, false); err != nil {
		if !b.alive.IsRunning() && isClosedConn(err) {
			return ErrClosing
		}
		return b.die(errors.Annotatef(err, "clientid=%s", b.id))
	}
	return nil
}

func (b *backend) fulfillAck(id packet.ID) error {
	f := b.acks.Get(id)
	if f == nil {
		return fmt.Errorf("unexpected PUBACK id=%d", id)
	}
	if !f.Complete(nil) {
		return future.ErrCanceled
	}
	return nil
}

func (b *backend) remoteAddr() net.Addr {
	if conn := b.getConn(); conn != nil {
		return conn.RemoteAddr()
	}
	return nil
}

func (b *backend) die(e error) error {
	err, found := b.err.StoreOnce(e)
	if found {
		return err
	}
	b.log.Debugf("mqtt die id=%s e=%v", b.id, e)
	b.alive.Stop()
	helpers.WithLock(&b.connmu, func() {
		if b.conn != nil {
			_ = b.conn.Close()
			b.conn = nil
		}
	})
	return e
}

func (b *backend) getConn() transport.Conn {
	b.connmu.RLock()
	c := b.conn
	b.connmu.RUnlock()
	return c
}

func (b *backend) getWill() (m *packet.Message, clean bool) {
	b.willmu.Lock()
	if b.will != nil {
		m = b.will.Copy()
	}
	b.willmu.Unlock()
	clean = atomic.LoadUint32(&b.disco) == 1
	return m, clean
}

// DISCONNECT discards will.
func (b *backend) onDisconnect() {
	atomic.StoreUint32(&b.disco, 1)
	b.willmu.Lock()
	b.will = nil
	b.willmu.Unlock()
}
