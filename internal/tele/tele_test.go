package tele

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/bitdoglab/sectele/log2"
	tele_config "github.com/bitdoglab/sectele/tele/config"
	"github.com/bitdoglab/sectele/tele/mqtt"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTopic = tele_config.DefaultTopic

func TestNewInvalidTransport(t *testing.T) {
	t.Parallel()
	_, err := New(tele_config.Config{Transport: "carrier-pigeon"}, log2.NewTest(t, log2.LDebug))
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err), errors.ErrorStack(err))
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	var r routes
	got := make([]string, 0)
	assert.True(t, r.add("escola/+/temperatura", func(topic string, _ []byte) { got = append(got, "plus:"+topic) }))
	assert.True(t, r.add("escola/#", func(topic string, _ []byte) { got = append(got, "hash:"+topic) }))
	assert.False(t, r.add("escola/#", func(topic string, _ []byte) { got = append(got, "hash2:"+topic) }))

	assert.Equal(t, 2, r.dispatch(testTopic, nil))
	assert.Equal(t, 1, r.dispatch("escola/sala1/umidade", nil))
	assert.Equal(t, 0, r.dispatch("casa/sala1/temperatura", nil))
	assert.Equal(t, []string{"plus:" + testTopic, "hash2:" + testTopic, "hash2:escola/sala1/umidade"}, got)
	assert.Equal(t, []string{"escola/+/temperatura", "escola/#"}, r.filters())
}

func TestBrokerURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "tcp://192.168.0.10:1883", brokerURL("192.168.0.10:1883"))
	assert.Equal(t, "tls://broker:8883", brokerURL("tls://broker:8883"))
	assert.Equal(t, "tcp://broker:1883", brokerURL("tcp://broker:1883"))
}

// Global vars replaced, not parallel.
func TestLinkUp(t *testing.T) {
	defer func(f1 func() ([]net.Interface, error), f2 func(net.Interface) ([]net.Addr, error)) {
		netInterfaces, interfaceAddrs = f1, f2
	}(netInterfaces, interfaceAddrs)

	lo := net.Interface{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback}
	wlan := net.Interface{Index: 2, Name: "wlan0", Flags: net.FlagUp}
	wlanDown := net.Interface{Index: 2, Name: "wlan0"}
	addr := &net.IPNet{IP: net.IPv4(192, 168, 0, 7), Mask: net.CIDRMask(24, 32)}
	interfaceAddrs = func(iface net.Interface) ([]net.Addr, error) {
		if iface.Name == "wlan0" {
			return []net.Addr{addr}, nil
		}
		return []net.Addr{&net.IPNet{IP: net.IPv4(127, 0, 0, 1), Mask: net.CIDRMask(8, 32)}}, nil
	}

	cases := []struct {
		name   string
		ifaces []net.Interface
		err    error
		expect error
	}{
		{"up", []net.Interface{lo, wlan}, nil, nil},
		{"loopback-only", []net.Interface{lo}, nil, ErrLinkDown},
		{"down", []net.Interface{lo, wlanDown}, nil, ErrLinkDown},
		{"error", nil, fmt.Errorf("netlink"), fmt.Errorf("link check: netlink")},
	}
	for _, c := range cases {
		netInterfaces = func() ([]net.Interface, error) { return c.ifaces, c.err }
		err := LinkUp()
		if c.expect == nil {
			assert.NoError(t, err, c.name)
		} else {
			require.Error(t, err, c.name)
			assert.Equal(t, c.expect.Error(), err.Error(), c.name)
		}
	}
}

func TestMockTransport(t *testing.T) {
	t.Parallel()
	m := NewMockTransport(false)
	assert.Equal(t, ErrNotConnected, m.Publish(testTopic, []byte("x")))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.False(t, m.WaitConnected(ctx))

	m.SetConnected(true)
	require.NoError(t, m.Publish(testTopic, []byte("26.5,1")))
	var got []byte
	require.NoError(t, m.Subscribe(testTopic, func(_ string, p []byte) { got = p }))
	assert.Equal(t, 1, m.Deliver(testTopic, []byte{1, 2}))
	assert.Equal(t, []byte{1, 2}, got)
	assert.Equal(t, []MockMessage{{Topic: testTopic, Payload: []byte("26.5,1")}}, m.Published())
	assert.Equal(t, []string{testTopic}, m.Subscriptions())
}

func TestGomqttRoundTrip(t *testing.T) {
	t.Parallel()
	const timeout = 5 * time.Second
	log := log2.NewTest(t, log2.LDebug)

	s := mqtt.NewServer(mqtt.ServerOptions{
		Log:   log,
		Users: map[string]string{"bitdoglab": "secret"},
	})
	require.NoError(t, s.Listen(context.Background(), []*mqtt.BackendOptions{{URL: "tcp://127.0.0.1:", NetworkTimeout: timeout}}))
	defer s.Close()
	addr := s.Addrs()[0]

	newTransport := func(id string) Transport {
		tr, err := New(tele_config.Config{
			Broker:            addr,
			ClientID:          id,
			Username:          "bitdoglab",
			Password:          "secret",
			NetworkTimeoutSec: 5,
		}, log)
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		require.True(t, tr.WaitConnected(ctx), "client=%s", id)
		return tr
	}
	sub := newTransport("bitdoglab-sub")
	defer sub.Close()
	pub := newTransport("bitdoglab-pub")
	defer pub.Close()

	received := make(chan []byte, 1)
	require.NoError(t, sub.Subscribe(testTopic, func(topic string, payload []byte) {
		assert.Equal(t, testTopic, topic)
		received <- payload
	}))
	frame := []byte{0x18, 0x1c, 0x04, 0x1f, 0x06, 0x1b, 0x1a, 0x1a, 0x1a}
	require.NoError(t, pub.Publish(testTopic, frame))
	select {
	case p := <-received:
		assert.Equal(t, frame, p)
	case <-time.After(timeout):
		t.Fatal("timeout waiting relayed frame")
	}
}

func TestGomqttPublishOffline(t *testing.T) {
	t.Parallel()
	// nothing listens on port 1
	tr, err := NewGomqtt(tele_config.Config{Broker: "127.0.0.1:1", NetworkTimeoutSec: 1}, log2.NewTest(t, log2.LDebug))
	require.NoError(t, err)
	defer tr.Close()
	assert.False(t, tr.IsConnected())
	assert.Equal(t, ErrNotConnected, tr.Publish(testTopic, []byte("x")))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.False(t, tr.WaitConnected(ctx))
}
