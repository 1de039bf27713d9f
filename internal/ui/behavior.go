package ui

import (
	"fmt"
	"time"

	"github.com/bitdoglab/sectele/helpers"
	"github.com/bitdoglab/sectele/internal/codec"
	"github.com/bitdoglab/sectele/internal/primitive"
	"github.com/bitdoglab/sectele/internal/replay"
	"github.com/bitdoglab/sectele/internal/types"
	"github.com/bitdoglab/sectele/log2"
	"github.com/juju/errors"
)

// Status row texts, distinct per outcome.
const (
	MsgSent           = "Sent:"
	MsgSendFailed     = "SEND FAILED"
	MsgWaiting        = "Waiting msg..."
	MsgSending        = "Sending msg..."
	MsgFresh          = "FRESH"
	MsgReplay         = "REPLAY"
	MsgAuthFail       = "AUTH FAIL"
	MsgMalformed      = "MALFORMED"
	MsgNotImplemented = "Not implemented"
	MsgPressToExit    = "Press to exit"
	MsgError          = "ERROR"
	MsgUnavailable    = "Crypto unavailable"
	MsgBackToMenu     = "Back to menu..."
)

// modeBehavior is the per mode variant of the operating state.
// All methods run on the loop goroutine.
type modeBehavior interface {
	Mode() types.Mode
	// enter fills status rows after transition into mode.
	// Error means mode cannot run, controller shows error screen.
	enter(s *screen, now time.Duration) error
	// tick runs when no event arrived this tick.
	tick(s *screen, now time.Duration) error
	// message handles one inbound frame.
	message(s *screen, payload []byte)
	// accepts reports whether inbound frames are consumed.
	accepts() bool
}

type behaviorEnv struct {
	log      *log2.Log
	preview  int // hex preview bytes
	publish  func(payload []byte) error
	value    func() string
	interval time.Duration
}

// publishBehavior encodes and publishes a measurement on cadence.
type publishBehavior struct {
	env    *behaviorEnv
	codec  codec.Codec
	nextAt time.Duration
	lastTs uint64
	sent   uint32
}

func (self *publishBehavior) Mode() types.Mode { return self.codec.Mode() }
func (self *publishBehavior) accepts() bool    { return false }

func (self *publishBehavior) enter(s *screen, now time.Duration) error {
	s.status(MsgSending, "", "", "")
	// first publish on first tick in mode
	self.nextAt = now
	return nil
}

func (self *publishBehavior) tick(s *screen, now time.Duration) error {
	if now < self.nextAt {
		return nil
	}
	self.nextAt += self.env.interval
	if self.nextAt <= now {
		self.nextAt = now + self.env.interval
	}

	ts := uint64(now / time.Microsecond)
	if ts <= self.lastTs {
		ts = self.lastTs + 1
	}
	m := codec.Measurement{Value: self.env.value(), Timestamp: ts}
	frame, err := self.codec.Encode(m)
	if err != nil {
		return errors.Annotatef(err, "encode mode=%s", self.Mode().String())
	}
	self.lastTs = ts

	row1 := fmt.Sprintf("%s %s", MsgSent, m.Value)
	if err := self.env.publish(frame); err != nil {
		// logged, not retried, next publish on cadence
		self.env.log.Errorf("publish mode=%s err=%v", self.Mode().String(), err)
		row1 = MsgSendFailed
	} else {
		self.sent++
		self.env.log.Debugf("published mode=%s plain=%s frame=%x", self.Mode().String(), m.Plain(), frame)
	}
	s.status(row1, fmt.Sprintf("TS: %d", ts), helpers.HexPreview(frame, self.env.preview), authPreview(self.Mode(), frame, self.env.preview))
	return nil
}

func (self *publishBehavior) message(*screen, []byte) {}

// consumeBehavior decodes inbound frames and guards against replay.
// Replay state lives as long as the behavior, across menu round trips.
type consumeBehavior struct {
	env    *behaviorEnv
	codec  codec.Codec
	replay replay.State
}

func (self *consumeBehavior) Mode() types.Mode { return self.codec.Mode() }
func (self *consumeBehavior) accepts() bool    { return true }

func (self *consumeBehavior) enter(s *screen, now time.Duration) error {
	s.status(MsgWaiting, "", "", "")
	return nil
}

func (self *consumeBehavior) tick(*screen, time.Duration) error { return nil }

func (self *consumeBehavior) message(s *screen, payload []byte) {
	mode := self.Mode().String()
	hexRow := helpers.HexPreview(payload, self.env.preview)
	m, verdict, err := self.codec.Decode(payload)
	if err != nil {
		self.env.log.Errorf("decode mode=%s len=%d err=%v", mode, len(payload), err)
		s.status(MsgMalformed, fmt.Sprintf("len=%d", len(payload)), hexRow, "")
		return
	}

	decision := replay.Check(&self.replay, m.Timestamp, verdict)
	self.env.log.Debugf("received mode=%s verdict=%s decision=%s value=%s ts=%d", mode, verdict.String(), decision.String(), m.Value, m.Timestamp)
	switch decision {
	case replay.Accept:
		s.status(MsgFresh+" "+m.Value, fmt.Sprintf("TS: %d", m.Timestamp), hexRow, "auth: "+verdict.String())
	case replay.RejectReplay:
		self.env.log.Infof("replay rejected mode=%s ts=%d last=%d", mode, m.Timestamp, self.replay.LastAccepted)
		s.status(MsgReplay, fmt.Sprintf("TS: %d", m.Timestamp), fmt.Sprintf("last: %d", self.replay.LastAccepted), "")
	case replay.RejectUnauthenticated:
		self.env.log.Errorf("authentication failed mode=%s len=%d", mode, len(payload))
		s.status(MsgAuthFail, fmt.Sprintf("len=%d", len(payload)), hexRow, "")
	}
}

// unimplementedBehavior is the placeholder for modes disabled in config.
type unimplementedBehavior struct{ mode types.Mode }

func (self unimplementedBehavior) Mode() types.Mode { return self.mode }
func (self unimplementedBehavior) accepts() bool    { return false }
func (self unimplementedBehavior) enter(s *screen, now time.Duration) error {
	s.status(MsgNotImplemented, MsgPressToExit, "", "")
	return nil
}
func (self unimplementedBehavior) tick(*screen, time.Duration) error { return nil }
func (self unimplementedBehavior) message(*screen, []byte)           {}

// unavailableBehavior keeps codec construction error until mode is entered.
type unavailableBehavior struct {
	mode types.Mode
	err  error
}

func (self unavailableBehavior) Mode() types.Mode                   { return self.mode }
func (self unavailableBehavior) accepts() bool                      { return false }
func (self unavailableBehavior) enter(*screen, time.Duration) error { return self.err }
func (self unavailableBehavior) tick(*screen, time.Duration) error  { return self.err }
func (self unavailableBehavior) message(*screen, []byte)            {}

func newBehavior(env *behaviorEnv, role types.Role, mode types.Mode, enabled bool, keys codec.Keys) modeBehavior {
	if !enabled {
		return unimplementedBehavior{mode: mode}
	}
	c, err := codec.New(mode, keys)
	if err != nil {
		return unavailableBehavior{mode: mode, err: errors.Annotatef(err, "mode=%s", mode.String())}
	}
	if role == types.RoleSubscriber {
		return &consumeBehavior{env: env, codec: c}
	}
	return &publishBehavior{env: env, codec: c}
}

// authPreview shows leading bytes of HMAC tag or AEAD IV and tag.
func authPreview(mode types.Mode, frame []byte, n int) string {
	switch mode {
	case types.ModeHmac:
		if len(frame) >= primitive.HmacTagLen {
			return "tag:" + helpers.HexPreview(frame[:primitive.HmacTagLen], n-2)
		}
	case types.ModeAeadGcm:
		if len(frame) >= primitive.AeadIVLen+primitive.AeadTagLen {
			half := (n - 4) / 2
			if half < 1 {
				half = 1
			}
			return "iv:" + helpers.HexPreview(frame[:primitive.AeadIVLen], half) +
				" t:" + helpers.HexPreview(frame[primitive.AeadIVLen:primitive.AeadIVLen+primitive.AeadTagLen], half)
		}
	}
	return ""
}

func isUnavailable(err error) bool { return errors.Cause(err) == primitive.ErrUnavailable }
