// Package types holds enums shared between controller, codec and input.
package types

import "fmt"

//go:generate stringer -type=Mode -trimprefix=Mode
type Mode uint8

const (
	ModeMenu Mode = iota
	ModePlain
	ModeXor
	ModeHmac
	ModeAeadGcm
	modeCount
)

// OperatingModes in menu order.
var OperatingModes = [...]Mode{ModePlain, ModeXor, ModeHmac, ModeAeadGcm}

func (m Mode) Valid() bool     { return m < modeCount }
func (m Mode) Operating() bool { return m > ModeMenu && m < modeCount }

// ParseMode accepts config names: plain, xor, hmac, aes, aead.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "plain", "none":
		return ModePlain, nil
	case "xor":
		return ModeXor, nil
	case "hmac":
		return ModeHmac, nil
	case "aes", "aead", "aes-gcm", "gcm":
		return ModeAeadGcm, nil
	}
	return ModeMenu, fmt.Errorf("unknown mode=%s", s)
}

//go:generate stringer -type=EventKind -trimprefix=Event
type EventKind uint8

const (
	EventInvalid EventKind = iota
	EventConfirm
	EventNavigateUp
	EventNavigateDown
)

type Event struct {
	Kind EventKind
	At   int64 // nanoseconds, arbiter clock
}

func (e Event) String() string { return fmt.Sprintf("input.Event(%s)", e.Kind.String()) }

//go:generate stringer -type=AuthVerdict -trimprefix=Auth
type AuthVerdict uint8

const (
	AuthNotApplicable AuthVerdict = iota
	AuthVerified
	AuthFailed
)

// Acceptable means frame content may be trusted as far as the mode allows.
func (v AuthVerdict) Acceptable() bool { return v != AuthFailed }

//go:generate stringer -type=Role -trimprefix=Role
type Role uint8

const (
	RolePublisher Role = iota
	RoleSubscriber
)

func ParseRole(s string) (Role, error) {
	switch s {
	case "", "publisher", "pub":
		return RolePublisher, nil
	case "subscriber", "sub":
		return RoleSubscriber, nil
	}
	return RolePublisher, fmt.Errorf("unknown role=%s", s)
}
