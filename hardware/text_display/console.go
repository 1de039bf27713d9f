package text_display

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/bitdoglab/sectele/log2"
	"github.com/mattn/go-isatty"
)

// ConsoleDevice draws the panel on a terminal with ANSI escapes,
// or logs whole frame after each render when output is not a TTY.
type ConsoleDevice struct {
	w     io.Writer
	log   *log2.Log
	ansi  bool
	grid  MockDevicer
	dirty bool
}

var _ Devicer = new(ConsoleDevice)
var _ Flusher = new(ConsoleDevice)

func NewConsoleDevice(log *log2.Log, rows uint8, width uint32) *ConsoleDevice {
	self := &ConsoleDevice{
		w:    os.Stdout,
		log:  log,
		ansi: isatty.IsTerminal(os.Stdout.Fd()),
	}
	self.grid.rows, self.grid.width = rows, width
	self.grid.Clear()
	return self
}

func (self *ConsoleDevice) Clear() {
	self.grid.Clear()
	self.dirty = true
	if self.ansi {
		fmt.Fprint(self.w, "\x1b[2J\x1b[H")
	}
}

func (self *ConsoleDevice) CursorYX(y, x uint8) bool {
	if !self.grid.CursorYX(y, x) {
		return false
	}
	if self.ansi {
		fmt.Fprintf(self.w, "\x1b[%d;%dH", y, x)
	}
	return true
}

func (self *ConsoleDevice) Write(b []byte) {
	self.grid.Write(b)
	self.dirty = true
	if self.ansi {
		_, _ = self.w.Write(b)
	}
}

func (self *ConsoleDevice) Flush() {
	if !self.dirty {
		return
	}
	self.dirty = false
	if self.ansi {
		fmt.Fprintf(self.w, "\x1b[%d;1H", self.grid.rows+1)
		return
	}
	buf := bytes.NewBufferString("display\n")
	for _, row := range self.grid.Screen() {
		buf.WriteString("| ")
		buf.WriteString(row)
		buf.WriteByte('\n')
	}
	self.log.Info(buf.String())
}
