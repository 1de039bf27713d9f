// Package text_display keeps a row based character display in sync with
// requested screen contents. Full redraw clears the panel, partial redraw
// rewrites only changed rows in place, which looks smoother.
package text_display

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/paulrosania/go-charset/charset"
	_ "github.com/paulrosania/go-charset/data"
)

const (
	MaxWidth = 40
	MaxRows  = 5
)

var spaceBytes = bytes.Repeat([]byte{' '}, MaxWidth)

//go:generate stringer -type=ScreenKind -trimprefix=Screen
type ScreenKind uint8

const (
	ScreenMenu ScreenKind = iota
	ScreenStatus
)

// RenderRequest row 0 is the title. Rows beyond MaxRows are ignored.
type RenderRequest struct {
	Lines []string
	Kind  ScreenKind
	Clear bool
}

type Devicer interface {
	Clear()
	// 1-based, false when panel has no such position
	CursorYX(y, x uint8) bool
	Write(b []byte)
}

// Flusher is optional, called after each render.
type Flusher interface {
	Flush()
}

type TextDisplay struct { //nolint:maligned
	mu    sync.Mutex
	dev   Devicer
	tr    atomic.Value
	width uint32
	state State
	drawn bool
	upd   chan<- State
}

type TextDisplayConfig struct {
	Codepage string
	Width    uint32
}

func NewTextDisplay(opt *TextDisplayConfig) (*TextDisplay, error) {
	if opt == nil {
		opt = &TextDisplayConfig{}
	}
	if opt.Width == 0 || opt.Width > MaxWidth {
		return nil, errors.NotValidf("text display width=%d", opt.Width)
	}
	self := &TextDisplay{width: opt.Width}

	if opt.Codepage != "" {
		if err := self.SetCodepage(opt.Codepage); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return self, nil
}

func (self *TextDisplay) SetCodepage(cp string) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	tr, err := charset.TranslatorTo(cp)
	if err != nil {
		return errors.Annotatef(err, "codepage=%s", cp)
	}
	self.tr.Store(tr)
	return nil
}

func (self *TextDisplay) SetDevice(dev Devicer) {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.dev = dev
	self.drawn = false
}

func (self *TextDisplay) Width() uint32 { return atomic.LoadUint32(&self.width) }

// Render applies request. Same request twice leaves same panel contents.
// Caller keeps ownership of req.Lines.
func (self *TextDisplay) Render(req RenderRequest) {
	next := State{Kind: req.Kind}
	n := len(req.Lines)
	if n > MaxRows {
		n = MaxRows
	}
	for i := 0; i < n; i++ {
		next.Rows[i] = self.Translate(req.Lines[i])
	}

	self.mu.Lock()
	defer self.mu.Unlock()
	if self.dev == nil {
		panic("code error text display device is not set")
	}

	// title row changes only with clear
	full := req.Clear || !self.drawn || !bytes.Equal(next.Rows[0], self.state.Rows[0])
	if full {
		self.dev.Clear()
		for i := range next.Rows {
			if len(next.Rows[i]) > 0 {
				self.writeRow(i, next.Rows[i])
			}
		}
	} else {
		for i := 1; i < MaxRows; i++ {
			if !bytes.Equal(next.Rows[i], self.state.Rows[i]) {
				// padding erases previous longer text
				self.writeRow(i, self.PadRight(next.Rows[i]))
			}
		}
	}
	self.state = next
	self.drawn = true

	if f, ok := self.dev.(Flusher); ok {
		f.Flush()
	}
	if self.upd != nil {
		self.upd <- self.state.Copy()
	}
}

func (self *TextDisplay) writeRow(row int, b []byte) {
	if uint32(len(b)) > self.width {
		b = b[:self.width]
	}
	if !self.dev.CursorYX(uint8(row+1), 1) {
		return
	}
	self.dev.Write(b)
}

// sometimes returns slice into shared spaceBytes
// sometimes returns `b` (len>=width-1)
// sometimes allocates new buffer
func (self *TextDisplay) JustCenter(b []byte) []byte {
	l := len(b)
	w := int(atomic.LoadUint32(&self.width))

	if l == 0 {
		return spaceBytes[:w]
	}
	if l >= w-1 {
		return b
	}
	padtotal := w - l
	n := padtotal / 2
	padleft := spaceBytes[:n]
	padright := spaceBytes[:n+padtotal%2] // account for odd length
	buf := make([]byte, 0, w)
	buf = append(append(append(buf, padleft...), b...), padright...)
	return buf
}

// CenterString is JustCenter for titles, before codepage translation.
func (self *TextDisplay) CenterString(s string) string {
	w := int(self.Width())
	if len(s) >= w-1 {
		return s
	}
	left := (w - len(s)) / 2
	return strings.Repeat(" ", left) + s
}

// returns `b` when len>=width
// otherwise pads with spaces
func (self *TextDisplay) PadRight(b []byte) []byte {
	return PadSpace(b, self.Width())
}

// Translate always returns fresh buffer.
func (self *TextDisplay) Translate(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	result := []byte(s)
	tr, ok := self.tr.Load().(charset.Translator)
	if ok && tr != nil {
		self.mu.Lock()
		_, tb, err := tr.Translate(result, true)
		// translator reuses single internal buffer, make a copy
		if err == nil {
			result = append([]byte(nil), tb...)
		}
		self.mu.Unlock()
	}
	return result
}

func (self *TextDisplay) SetUpdateChan(ch chan<- State) {
	self.mu.Lock()
	self.upd = ch
	self.mu.Unlock()
}

func (self *TextDisplay) State() State {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.state.Copy()
}

type State struct {
	Rows [MaxRows][]byte
	Kind ScreenKind
}

func (s State) Copy() State {
	c := State{Kind: s.Kind}
	for i := range s.Rows {
		if s.Rows[i] != nil {
			c.Rows[i] = append([]byte(nil), s.Rows[i]...)
		}
	}
	return c
}

func (s State) Row(i int) string { return string(s.Rows[i]) }

func (s State) Format(width uint32) string {
	ss := make([]string, MaxRows)
	for i := range s.Rows {
		row := PadSpace(s.Rows[i], width)
		if uint32(len(row)) > width {
			row = row[:width]
		}
		ss[i] = string(row)
	}
	return strings.Join(ss, "\n")
}

func (s State) String() string {
	ss := make([]string, MaxRows)
	for i := range s.Rows {
		ss[i] = string(s.Rows[i])
	}
	return fmt.Sprintf("%s(%s)", s.Kind.String(), strings.Join(ss, "|"))
}

func PadSpace(b []byte, width uint32) []byte {
	l := uint32(len(b))

	if l == 0 {
		return spaceBytes[:width]
	}
	if l >= width {
		return b
	}
	buf := make([]byte, 0, width)
	buf = append(append(buf, b...), spaceBytes[:width-l]...)
	return buf
}
