package text_display

import (
	"strings"
	"sync"
)

func NewMockTextDisplay(opt *TextDisplayConfig) (*TextDisplay, *MockDevicer) {
	display, err := NewTextDisplay(opt)
	if err != nil {
		panic(err)
	}
	dev := NewMockDevicer(MaxRows, display.Width())
	display.SetDevice(dev)
	return display, dev
}

type MockWrite struct {
	Row  uint8
	Text string
}

// MockDevicer is a character grid that records operations.
type MockDevicer struct {
	mu     sync.Mutex
	rows   uint8
	width  uint32
	grid   [][]byte
	y, x   uint8
	Clears int
	Writes []MockWrite
}

func NewMockDevicer(rows uint8, width uint32) *MockDevicer {
	self := &MockDevicer{rows: rows, width: width}
	self.Clear()
	self.Clears = 0
	return self
}

func (self *MockDevicer) Clear() {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.grid = make([][]byte, self.rows)
	for i := range self.grid {
		self.grid[i] = []byte(strings.Repeat(" ", int(self.width)))
	}
	self.y, self.x = 1, 1
	self.Clears++
}

func (self *MockDevicer) CursorYX(y, x uint8) bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	if y < 1 || y > self.rows || x < 1 || uint32(x) > self.width {
		return false
	}
	self.y, self.x = y, x
	return true
}

// Write truncates at row end, like a panel without line wrap.
func (self *MockDevicer) Write(b []byte) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Writes = append(self.Writes, MockWrite{Row: self.y - 1, Text: string(b)})
	row := self.grid[self.y-1]
	if int(self.x) > len(row) {
		return
	}
	n := copy(row[self.x-1:], b)
	self.x += uint8(n)
}

func (self *MockDevicer) Row(i int) string {
	self.mu.Lock()
	defer self.mu.Unlock()
	return strings.TrimRight(string(self.grid[i]), " ")
}

func (self *MockDevicer) Screen() []string {
	ss := make([]string, self.rows)
	for i := range ss {
		ss[i] = self.Row(i)
	}
	return ss
}

func (self *MockDevicer) Reset() {
	self.mu.Lock()
	self.Clears = 0
	self.Writes = nil
	self.mu.Unlock()
}
