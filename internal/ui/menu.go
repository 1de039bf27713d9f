package ui

import (
	"fmt"

	"github.com/bitdoglab/sectele/internal/types"
	"github.com/juju/errors"
)

var modeLabels = map[types.Mode]string{
	types.ModePlain:   "No security",
	types.ModeXor:     "XOR cipher",
	types.ModeHmac:    "HMAC auth",
	types.ModeAeadGcm: "AES-GCM",
}

func ModeLabel(m types.Mode) string {
	if s, ok := modeLabels[m]; ok {
		return s
	}
	return m.String()
}

// Menu selection always in [0, len(Items)).
// Binary form is the selected mode, for persist.
type Menu struct {
	Items    []types.Mode
	Selected int
}

func NewMenu() *Menu {
	return &Menu{Items: append([]types.Mode(nil), types.OperatingModes[:]...)}
}

func (self *Menu) Current() types.Mode { return self.Items[self.Selected] }

// Move shifts selection by delta with wraparound at both ends.
func (self *Menu) Move(delta int) {
	n := len(self.Items)
	self.Selected = ((self.Selected+delta)%n + n) % n
}

// Select returns false when mode is not a menu item.
func (self *Menu) Select(m types.Mode) bool {
	for i, x := range self.Items {
		if x == m {
			self.Selected = i
			return true
		}
	}
	return false
}

// Lines is the menu screen, row 0 title then one row per item.
func (self *Menu) Lines(title string) []string {
	lines := make([]string, 0, len(self.Items)+1)
	lines = append(lines, title)
	for i, m := range self.Items {
		marker := "  "
		if i == self.Selected {
			marker = "> "
		}
		lines = append(lines, marker+ModeLabel(m))
	}
	return lines
}

func (self *Menu) MarshalBinary() ([]byte, error) {
	return []byte{byte(self.Current())}, nil
}

func (self *Menu) UnmarshalBinary(b []byte) error {
	if len(b) != 1 {
		return errors.NotValidf("menu state len=%d", len(b))
	}
	m := types.Mode(b[0])
	if !m.Operating() || !self.Select(m) {
		return errors.NotValidf("menu state mode=%d", b[0])
	}
	return nil
}

func (self *Menu) String() string {
	return fmt.Sprintf("menu selected=%d(%s)", self.Selected, self.Current().String())
}
