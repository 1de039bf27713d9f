// Separate package is workaround to import cycles.
package tele_config

const (
	TransportGomqtt = "gomqtt"
	TransportPaho   = "paho"

	DefaultTopic = "escola/sala1/temperatura"
)

type Config struct { //nolint:maligned
	Transport         string `hcl:"transport"`
	Broker            string `hcl:"broker"`
	ClientID          string `hcl:"client_id"`
	Username          string `hcl:"username"`
	Password          string `hcl:"password"` // secret
	Topic             string `hcl:"topic"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	ConnectWaitSec    int    `hcl:"connect_wait_sec"`
	RequireLink       *bool  `hcl:"require_link"`
	LogDebug          bool   `hcl:"log_debug"`
	TlsCaFile         string `hcl:"tls_ca_file"`
}

func (c *Config) TopicOrDefault() string {
	if c.Topic == "" {
		return DefaultTopic
	}
	return c.Topic
}

// link check is on unless explicitly disabled
func (c *Config) LinkRequired() bool {
	return c.RequireLink == nil || *c.RequireLink
}
