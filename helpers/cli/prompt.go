// Package cli runs an operator command loop: go-prompt on a terminal,
// line by line reading otherwise.
package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

type ExecFunc func(line string)

// MainLoop returns on stdin EOF.
func MainLoop(tag string, exec ExecFunc, complete prompt.Completer) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(prompt.Executor(exec), complete,
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		).Run()
		return
	}
	ReadLines(os.Stdin, exec)
}

func ReadLines(r io.Reader, exec ExecFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		exec(strings.TrimSpace(scanner.Text()))
	}
}
