package mqtt

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/bitdoglab/sectele/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
)

func TestClient(t *testing.T) {
	t.Parallel()
	const timeout = 5 * time.Second

	type tenv struct {
		addr  string
		alive *alive.Alive
		opts  ClientOptions
	}
	cases := []struct {
		name   string
		setup  func(env *tenv)
		client func(t testing.TB, env *tenv)
		server func(t testing.TB, env *tenv, b *transport.NetConn)
	}{
		{"connect", nil, func(t testing.TB, env *tenv) {
			mc, err := NewClient(env.opts)
			require.NoError(t, err)
			defer mc.Close()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			require.NoError(t, mc.WaitReady(ctx))
			assert.True(t, mc.IsReady())
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			defer env.alive.Done()
			pkt, err := b.Receive()
			require.NoError(t, err)
			assert.Equal(t, `<Connect ClientID="" KeepAlive=0 Username="" Password="" CleanSession=true Will=nil Version=4>`, pkt.String())
			connack := packet.NewConnack()
			connack.ReturnCode = packet.ConnectionAccepted
			require.NoError(t, b.Send(connack, false))
		}},
		{"subscribe-initial", func(env *tenv) {
			env.opts.ClientID = "sub1"
			env.opts.Subscriptions = []packet.Subscription{{Topic: "escola/sala1/temperatura"}}
		}, func(t testing.TB, env *tenv) {
			mc, err := NewClient(env.opts)
			require.NoError(t, err)
			defer mc.Close()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			require.NoError(t, mc.WaitReady(ctx))
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			defer env.alive.Done()
			_, err := b.Receive()
			require.NoError(t, err)
			connack := packet.NewConnack()
			connack.ReturnCode = packet.ConnectionAccepted
			require.NoError(t, b.Send(connack, false))
			pkt, err := b.Receive()
			require.NoError(t, err)
			sub, ok := pkt.(*packet.Subscribe)
			require.True(t, ok, pkt.String())
			require.Len(t, sub.Subscriptions, 1)
			assert.Equal(t, "escola/sala1/temperatura", sub.Subscriptions[0].Topic)
			suback := packet.NewSuback()
			suback.ID = sub.ID
			suback.ReturnCodes = []packet.QOS{packet.QOSAtMostOnce}
			require.NoError(t, b.Send(suback, false))
		}},
		{"connect-denied", func(env *tenv) {
			env.opts.ReconnectDelay = time.Hour
		}, func(t testing.TB, env *tenv) {
			mc, err := NewClient(env.opts)
			require.NoError(t, err)
			defer mc.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			assert.Equal(t, context.Canceled, mc.WaitReady(ctx))
			assert.False(t, mc.IsReady())
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			defer env.alive.Done()
			_, err := b.Receive()
			require.NoError(t, err)
			connack := packet.NewConnack()
			connack.ReturnCode = packet.NotAuthorized
			require.NoError(t, b.Send(connack, false))
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			env := &tenv{alive: alive.NewAlive()}
			ln, err := net.Listen("tcp", "127.0.0.1:")
			require.NoError(t, err)
			defer ln.Close()
			env.addr = ln.Addr().String()
			env.opts.BrokerURL = fmt.Sprintf("tcp://%s", env.addr)
			env.opts.OnMessage = func(m *packet.Message) error {
				t.Log(m.String())
				return nil
			}
			env.opts.Log = log2.NewTest(t, log2.LDebug)
			env.opts.NetworkTimeout = timeout
			if c.setup != nil {
				c.setup(env)
			}
			env.alive.Add(1)
			go func() {
				defer env.alive.Done()
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				if !env.alive.Add(1) {
					return
				}
				_ = conn.SetDeadline(time.Now().Add(timeout))
				c.server(t, env, transport.NewNetConn(conn))
			}()
			c.client(t, env)
			env.alive.Wait()
		})
	}
}

func TestClientServerRelay(t *testing.T) {
	t.Parallel()
	const timeout = 5 * time.Second
	log := log2.NewTest(t, log2.LDebug)

	s := NewServer(ServerOptions{
		Log:   log,
		Users: map[string]string{"bitdoglab": "secret"},
	})
	require.NoError(t, s.Listen(context.Background(), []*BackendOptions{{URL: "tcp://127.0.0.1:", NetworkTimeout: timeout}}))
	defer s.Close()
	addrs := s.Addrs()
	require.Len(t, addrs, 1)

	received := make(chan *packet.Message, 1)
	newClient := func(id string) *Client {
		c, err := NewClient(ClientOptions{
			BrokerURL:      "tcp://bitdoglab:secret@" + addrs[0],
			ClientID:       id,
			NetworkTimeout: timeout,
			KeepaliveSec:   10,
			Log:            log,
			OnMessage: func(m *packet.Message) error {
				received <- m.Copy()
				return nil
			},
		})
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		require.NoError(t, c.WaitReady(ctx))
		return c
	}
	sub := newClient("subscriber")
	defer sub.Close()
	pub := newClient("publisher")
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	const topic = "escola/sala1/temperatura"
	require.NoError(t, sub.Subscribe(ctx, packet.Subscription{Topic: topic}))
	// repeated subscribe is no-op
	require.NoError(t, sub.Subscribe(ctx, packet.Subscription{Topic: topic}))

	payload := []byte{0x18, 0x1c, 0x04, 0x1f}
	require.NoError(t, pub.Publish(ctx, &packet.Message{Topic: topic, Payload: payload}))
	select {
	case m := <-received:
		assert.Equal(t, topic, m.Topic)
		assert.Equal(t, payload, m.Payload)
	case <-time.After(timeout):
		t.Fatal("timeout waiting relayed message")
	}
	assert.Eventually(t, func() bool { return s.Stats().Relayed == 1 }, timeout, 10*time.Millisecond)
}

func TestTopicMatch(t *testing.T) {
	t.Parallel()
	cases := []struct {
		filter, topic string
		expect        bool
	}{
		{"escola/sala1/temperatura", "escola/sala1/temperatura", true},
		{"escola/+/temperatura", "escola/sala2/temperatura", true},
		{"escola/#", "escola/sala1/temperatura", true},
		{"#", "anything", true},
		{"escola/+", "escola/sala1/temperatura", false},
		{"escola/sala1/temperatura", "escola/sala1", false},
		{"escola/#/x", "escola/a/x", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.expect, TopicMatch(c.filter, c.topic), "filter=%s topic=%s", c.filter, c.topic)
	}
}
