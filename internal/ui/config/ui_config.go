package ui_config

import (
	"time"

	"github.com/bitdoglab/sectele/helpers"
)

const (
	DefaultPublishInterval = 5 * time.Second
	DefaultErrorScreen     = 3 * time.Second
	DefaultTick            = 20 * time.Millisecond
	DefaultInboxSize       = 16
	DefaultValue           = "26.5"
)

type Config struct { //nolint:maligned
	PublishIntervalSec int    `hcl:"publish_interval_sec"`
	ErrorScreenSec     int    `hcl:"error_screen_sec"`
	TickMs             int    `hcl:"tick_ms"`
	InboxSize          int    `hcl:"inbox_size"`
	Value              string `hcl:"value"`
	// millidegrees, like /sys/class/thermal/thermal_zone0/temp
	SensorPath string `hcl:"sensor_path"`
	// initial selection when nothing is persisted: plain, xor, hmac, aes
	DefaultMode string `hcl:"default_mode"`

	Msg struct {
		TitlePublisher  string `hcl:"title_publisher"`
		TitleSubscriber string `hcl:"title_subscriber"`
	}
}

func (c *Config) PublishInterval() time.Duration {
	return helpers.IntSecondDefault(c.PublishIntervalSec, DefaultPublishInterval)
}

func (c *Config) ErrorScreen() time.Duration {
	return helpers.IntSecondDefault(c.ErrorScreenSec, DefaultErrorScreen)
}

func (c *Config) Tick() time.Duration {
	return helpers.IntMillisecondDefault(c.TickMs, DefaultTick)
}

func (c *Config) InboxSizeOrDefault() int {
	if c.InboxSize <= 0 {
		return DefaultInboxSize
	}
	return c.InboxSize
}

func (c *Config) ValueOrDefault() string {
	if c.Value == "" {
		return DefaultValue
	}
	return c.Value
}
