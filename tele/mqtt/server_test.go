package mqtt_test

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/bitdoglab/sectele/helpers"
	"github.com/bitdoglab/sectele/log2"
	"github.com/bitdoglab/sectele/tele/mqtt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDefaultTimeout = 1000 * time.Millisecond

type tenv struct {
	t    testing.TB
	ctx  context.Context
	log  *log2.Log
	sopt *mqtt.ServerOptions
	s    *mqtt.Server
	addr string
	rand *rand.Rand
}

func TestServer(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*tenv)
		check func(*tenv)
	}{
		{name: "invalid-credentials", check: func(env *tenv) {
			conn := connDial(env)
			pktConnect := packet.NewConnect()
			pktConnect.CleanSession = false
			pktConnect.ClientID = "cli"
			pktConnect.Username = "unknown"
			require.NoError(env.t, conn.Send(pktConnect, false))
			pktConnack := connReceive(env, conn).(*packet.Connack)
			assert.False(env.t, pktConnack.SessionPresent)
			assert.Equal(env.t, packet.NotAuthorized, pktConnack.ReturnCode)
		}},
		{name: "accepted-clean", check: func(env *tenv) {
			conn := connDial(env)
			connConnect(env, conn, "", nil)
		}},
		{name: "sub-qos0", check: func(env *tenv) {
			conn := connDial(env)
			connConnect(env, conn, "", nil)
			connSubscribe(env, conn, []packet.Subscription{{Topic: "#", QOS: packet.QOSAtMostOnce}})
			msgout := packet.Message{Topic: "escola/sala1/temperatura", QOS: packet.QOSAtMostOnce, Payload: []byte("26.5,1000")}
			connPublish(env, conn, msgout)
			pktPublish := connReceive(env, conn).(*packet.Publish)
			assert.Equal(env.t, msgout.Topic, pktPublish.Message.Topic)
			assert.Equal(env.t, msgout.Payload, pktPublish.Message.Payload)
		}},
		{name: "sub-qos1-pub-qos0", check: func(env *tenv) {
			conn := connDial(env)
			connConnect(env, conn, "", nil)
			connSubscribe(env, conn, []packet.Subscription{{Topic: "#", QOS: packet.QOSAtLeastOnce}})
			msgout := packet.Message{Topic: "escola/sala1/temperatura", QOS: packet.QOSAtMostOnce, Payload: []byte("26.5,1000")}
			connPublish(env, conn, msgout)
			pktPublish := connReceive(env, conn).(*packet.Publish)
			assert.Equal(env.t, msgout.Topic, pktPublish.Message.Topic)
			assert.Equal(env.t, msgout.Payload, pktPublish.Message.Payload)
			require.Equal(env.t, packet.QOSAtLeastOnce, pktPublish.Message.QOS)
			connPuback(env, conn, pktPublish.ID)
			time.Sleep(testDefaultTimeout / 2)
		}},
		{name: "will", check: func(env *tenv) {
			conn := connDial(env)
			connConnect(env, conn, "", nil)
			connSubscribe(env, conn, []packet.Subscription{{Topic: "#", QOS: packet.QOSAtMostOnce}})

			connTrigger := connDial(env)
			will := &packet.Message{Topic: "escola/sala1/status", Payload: []byte("offline")}
			connConnect(env, connTrigger, "", will)
			require.NoError(env.t, connTrigger.Close())

			pktPublish := connReceive(env, conn).(*packet.Publish)
			assert.Equal(env.t, will.Topic, pktPublish.Message.Topic)
			assert.Equal(env.t, will.Payload, pktPublish.Message.Payload)
			require.Equal(env.t, packet.QOSAtMostOnce, pktPublish.Message.QOS)
		}},
		{name: "disconnect-clean", check: func(env *tenv) {
			conn := connDial(env)
			connConnect(env, conn, "", nil)
			connSubscribe(env, conn, []packet.Subscription{{Topic: "#", QOS: packet.QOSAtMostOnce}})

			connTrigger := connDial(env)
			will := &packet.Message{Topic: "escola/sala1/status", Payload: []byte("offline"), Retain: true}
			connConnect(env, connTrigger, "", will)
			connDisconnect(env, connTrigger)
			require.NoError(env.t, connTrigger.Close())

			require.Len(env.t, env.s.Retain(), 0)
		}},
		{name: "retained", check: func(env *tenv) {
			pub := connDial(env)
			connConnect(env, pub, "", nil)
			msgout := packet.Message{Topic: "escola/sala1/temperatura", QOS: packet.QOSAtMostOnce, Payload: []byte("26.5,1000"), Retain: true}
			connPublish(env, pub, msgout)
			require.Eventually(env.t, func() bool { return len(env.s.Retain()) == 1 }, testDefaultTimeout, 10*time.Millisecond)

			conn := connDial(env)
			connConnect(env, conn, "", nil)
			connSubscribe(env, conn, []packet.Subscription{{Topic: "escola/+/temperatura", QOS: packet.QOSAtMostOnce}})
			pktPublish := connReceive(env, conn).(*packet.Publish)
			assert.Equal(env.t, msgout.Topic, pktPublish.Message.Topic)
			assert.Equal(env.t, msgout.Payload, pktPublish.Message.Payload)
		}},
		{name: "stats", check: func(env *tenv) {
			conn := connDial(env)
			id := fmt.Sprintf("cli%d", env.rand.Int31())
			connConnect(env, conn, id, nil)
			connSubscribe(env, conn, []packet.Subscription{{Topic: "escola/#", QOS: packet.QOSAtMostOnce}})
			connPublish(env, conn, packet.Message{Topic: "escola/sala1/temperatura", Payload: []byte{0x18, 0x1c}})
			_ = connReceive(env, conn).(*packet.Publish)
			connPublish(env, conn, packet.Message{Topic: "other", Payload: []byte("x")})
			require.Eventually(env.t, func() bool { return env.s.Stats().Dropped == 1 }, testDefaultTimeout, 10*time.Millisecond)
			st := env.s.Stats()
			assert.Equal(env.t, 1, st.Clients)
			assert.Equal(env.t, uint64(2), st.Received)
			assert.Equal(env.t, uint64(1), st.Relayed)
		}},
		{name: "anonymous-denied", check: func(env *tenv) {
			conn := connDial(env)
			pktConnect := packet.NewConnect()
			pktConnect.ClientID = "anon"
			require.NoError(env.t, conn.Send(pktConnect, false))
			pktConnack := connReceive(env, conn).(*packet.Connack)
			assert.Equal(env.t, packet.NotAuthorized, pktConnack.ReturnCode)
		}},
		{name: "on-publish-observe", setup: func(env *tenv) {
			env.sopt = &mqtt.ServerOptions{OnPublish: func(ctx context.Context, clientID string, msg *packet.Message) error {
				if msg.Topic == "forbidden" {
					return fmt.Errorf("topic not allowed")
				}
				return nil
			}}
			testServerDefaultSetup(env)
		}, check: func(env *tenv) {
			conn := connDial(env)
			connConnect(env, conn, "", nil)
			connPublish(env, conn, packet.Message{Topic: "forbidden", Payload: []byte("x")})
			_, err := conn.Receive()
			require.Error(env.t, err)
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			env := &tenv{
				t:    t,
				ctx:  context.Background(),
				log:  log2.NewTest(t, log2.LDebug),
				rand: helpers.RandUnix(),
			}
			if os.Getenv("sectele_test_log_stderr") == "1" {
				env.log = log2.NewStderr(log2.LDebug) // useful with panics
			}
			env.log.SetFlags(log2.LTestFlags)
			if c.setup == nil {
				c.setup = testServerDefaultSetup
			}
			defer func() {
				assert.NoError(t, env.s.Close())
			}()
			c.setup(env)
			c.check(env)
		})
	}
}

func TestServerCloseListen(t *testing.T) {
	t.Parallel()

	s := mqtt.NewServer(mqtt.ServerOptions{Log: log2.NewTest(t, log2.LDebug)})
	require.NoError(t, s.Close())
	lopts := []*mqtt.BackendOptions{{URL: "tcp://localhost:"}}
	err := s.Listen(context.Background(), lopts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Listen after Close")
}

func newTestServer(env *tenv, opt mqtt.ServerOptions, lopts []*mqtt.BackendOptions) (*mqtt.Server, string) {
	if opt.Log == nil {
		opt.Log = env.log
	}
	s := mqtt.NewServer(opt)
	require.NoError(env.t, s.Listen(context.Background(), lopts))
	addrs := s.Addrs()
	require.Equal(env.t, len(lopts), len(addrs))
	firstAddr := ""
	if len(addrs) >= 1 {
		firstAddr = addrs[0]
	}
	return s, firstAddr
}

func testServerDefaultSetup(env *tenv) {
	sopt := mqtt.ServerOptions{
		Users: map[string]string{"testuser": "testsecret"},
	}
	if env.sopt != nil {
		sopt.OnPublish = env.sopt.OnPublish
	}
	lopts := []*mqtt.BackendOptions{
		{
			URL:            "tcp://localhost:",
			NetworkTimeout: testDefaultTimeout,
		}}
	env.s, env.addr = newTestServer(env, sopt, lopts)
}

func connDial(env *tenv) transport.Conn {
	addr := "tcp://" + env.addr
	c, err := transport.Dial(addr)
	require.NoError(env.t, err)
	env.log.Infof("testClient dial %s", addr)
	c.SetReadTimeout(testDefaultTimeout)
	return c
}

func connConnect(env *tenv, c transport.Conn, id string, will *packet.Message) {
	if id == "" {
		id = fmt.Sprintf("cli%d", env.rand.Int31())
	}
	pktConnect := packet.NewConnect()
	pktConnect.CleanSession = true
	pktConnect.ClientID = id
	pktConnect.Username = "testuser"
	pktConnect.Password = "testsecret"
	pktConnect.Will = will
	require.NoError(env.t, c.Send(pktConnect, false))
	env.log.Infof("testClient sent %s", pktConnect.String())
	pktConnack := connReceive(env, c).(*packet.Connack)
	assert.False(env.t, pktConnack.SessionPresent)
	assert.Equal(env.t, packet.ConnectionAccepted, pktConnack.ReturnCode)
}

func connPublish(env *tenv, c transport.Conn, msg packet.Message) {
	pktPublish := packet.NewPublish()
	pktPublish.ID = packet.ID(env.rand.Uint32() % (1 << 16))
	pktPublish.Message = msg
	require.NoError(env.t, c.Send(pktPublish, false))
	env.log.Infof("testClient sent %s", pktPublish.String())
	switch msg.QOS {
	case packet.QOSAtMostOnce:
		return

	case packet.QOSAtLeastOnce:
		pktPuback := connReceive(env, c).(*packet.Puback)
		assert.Equal(env.t, pktPublish.ID, pktPuback.ID)

	default:
		panic("code error qos=2 not supported")
	}
}

func connReceive(env *tenv, c transport.Conn) packet.Generic {
	pkt, err := c.Receive()
	if pkt == nil {
		env.log.Infof("testClient recv pkt=nil err=%v", err)
	} else {
		env.log.Infof("testClient recv pkt=%s err=%v", pkt.String(), err)
	}
	require.NoError(env.t, err)
	return pkt
}

func connSubscribe(env *tenv, c transport.Conn, subs []packet.Subscription) {
	pktSubscribe := packet.NewSubscribe()
	pktSubscribe.ID = packet.ID(env.rand.Uint32() % (1 << 16))
	pktSubscribe.Subscriptions = subs
	require.NoError(env.t, c.Send(pktSubscribe, false))
	env.log.Infof("testClient sent %s", pktSubscribe.String())
	pktSuback := connReceive(env, c).(*packet.Suback)
	expect := make([]packet.QOS, 0, len(subs))
	for _, sub := range subs {
		expect = append(expect, sub.QOS)
	}
	assert.Equal(env.t, expect, pktSuback.ReturnCodes)
}

func connPuback(env *tenv, c transport.Conn, id packet.ID) {
	pkt := packet.NewPuback()
	pkt.ID = id
	require.NoError(env.t, c.Send(pkt, false))
	env.log.Infof("testClient sent %s", pkt.String())
}

func connDisconnect(env *tenv, c transport.Conn) {
	pkt := packet.NewDisconnect()
	require.NoError(env.t, c.Send(pkt, false))
	env.log.Infof("testClient sent %s", pkt.String())
}
