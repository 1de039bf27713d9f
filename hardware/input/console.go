package input

import (
	"strings"
	"time"

	"github.com/bitdoglab/sectele/helpers/cli"
	"github.com/bitdoglab/sectele/log2"
	"github.com/c-bata/go-prompt"
	"github.com/temoto/alive/v2"
)

const ConsoleTag = "console"

// Console reads operator commands from stdin, for running without panel hardware.
type Console struct {
	log    *log2.Log
	button Edger
	stick  *KeyStick
	now    func() time.Duration
	stop   func()
}

var _ Source = new(Console)

var consoleSuggest = []prompt.Suggest{
	{Text: "confirm", Description: "button press"},
	{Text: "up", Description: "joystick up"},
	{Text: "down", Description: "joystick down"},
	{Text: "quit", Description: "stop"},
}

func NewConsole(log *log2.Log, button Edger, stick *KeyStick, now func() time.Duration) *Console {
	return &Console{log: log, button: button, stick: stick, now: now}
}

func (self *Console) String() string { return ConsoleTag }

func (self *Console) Run(a *alive.Alive) error {
	self.stop = a.Stop
	cli.MainLoop(ConsoleTag, self.Exec, self.complete)
	return nil
}

// Exec handles one command line. Unknown commands are logged.
func (self *Console) Exec(line string) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
	case "c", "confirm", "ok", "enter":
		self.button.Edge(self.now())
	case "u", "up":
		self.stick.Pulse(StickMax)
	case "d", "down":
		self.stick.Pulse(StickMin)
	case "q", "quit", "exit":
		if self.stop != nil {
			self.stop()
		}
	default:
		self.log.Errorf("%s unknown command=%q", ConsoleTag, line)
	}
}

func (self *Console) complete(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(consoleSuggest, d.GetWordBeforeCursor(), true)
}
