// Package frame is operator console to encode and inspect wire frames
// with configured keys, e.g. payloads captured by mosquitto_sub.
package frame

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/bitdoglab/sectele/cmd/sectele/subcmd"
	"github.com/bitdoglab/sectele/helpers/cli"
	"github.com/bitdoglab/sectele/internal/codec"
	"github.com/bitdoglab/sectele/internal/replay"
	"github.com/bitdoglab/sectele/internal/state"
	"github.com/bitdoglab/sectele/internal/types"
	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
)

const modName = "frame"

var Mod = subcmd.Mod{Name: modName, Main: Main}

const usage = `commands:
- encode MODE VALUE TS   print frame hex
- decode MODE HEX        decode, verify and check replay
- reset                  forget accepted timestamps
MODE: plain xor hmac aes`

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	keys, err := config.Keys()
	if err != nil {
		return err
	}
	s := NewSession(keys, os.Stdout)
	g.Log.Debugf("frame console ready")
	cli.MainLoop(modName, func(line string) {
		if err := s.Exec(line); err != nil {
			g.Log.Error(err)
		}
	}, complete)
	return nil
}

// Session keeps replay state per mode between commands.
type Session struct {
	keys   codec.Keys
	out    io.Writer
	replay map[types.Mode]*replay.State
}

func NewSession(keys codec.Keys, out io.Writer) *Session {
	return &Session{
		keys:   keys,
		out:    out,
		replay: make(map[types.Mode]*replay.State),
	}
}

func (self *Session) Exec(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	switch parts[0] {
	case "encode":
		if len(parts) != 4 {
			return errors.NotValidf("syntax: encode MODE VALUE TS")
		}
		mode, err := types.ParseMode(parts[1])
		if err != nil {
			return errors.Trace(err)
		}
		ts, err := strconv.ParseUint(parts[3], 10, 64)
		if err != nil {
			return errors.NotValidf("timestamp=%s", parts[3])
		}
		frame, err := codec.Encode(mode, codec.Measurement{Value: parts[2], Timestamp: ts}, self.keys)
		if err != nil {
			return errors.Annotatef(err, "encode mode=%s", mode.String())
		}
		fmt.Fprintln(self.out, hex.EncodeToString(frame))

	case "decode":
		if len(parts) != 3 {
			return errors.NotValidf("syntax: decode MODE HEX")
		}
		mode, err := types.ParseMode(parts[1])
		if err != nil {
			return errors.Trace(err)
		}
		s := parts[2]
		// mosquitto_sub wrongly strips leading zero in hex format
		if len(s)%2 == 1 {
			s = "0" + s
		}
		frame, err := hex.DecodeString(s)
		if err != nil {
			return errors.Annotate(err, "hex")
		}
		m, verdict, err := codec.Decode(mode, frame, self.keys)
		if err != nil {
			return errors.Annotatef(err, "decode mode=%s", mode.String())
		}
		rs, ok := self.replay[mode]
		if !ok {
			rs = new(replay.State)
			self.replay[mode] = rs
		}
		decision := replay.Check(rs, m.Timestamp, verdict)
		fmt.Fprintf(self.out, "value=%s ts=%d auth=%s decision=%s\n", m.Value, m.Timestamp, verdict.String(), decision.String())

	case "reset":
		self.replay = make(map[types.Mode]*replay.State)

	case "help", "?":
		fmt.Fprintln(self.out, usage)

	default:
		return errors.NotValidf("command=%s (try help)", parts[0])
	}
	return nil
}

var suggestCommands = []prompt.Suggest{
	{Text: "encode", Description: "MODE VALUE TS"},
	{Text: "decode", Description: "MODE HEX"},
	{Text: "reset", Description: "forget accepted timestamps"},
	{Text: "help"},
}
var suggestModes = []prompt.Suggest{
	{Text: "plain"},
	{Text: "xor"},
	{Text: "hmac"},
	{Text: "aes", Description: "AES-256-GCM"},
}

func complete(d prompt.Document) []prompt.Suggest {
	word := d.GetWordBeforeCursor()
	switch len(strings.Fields(d.TextBeforeCursor())) {
	case 0:
		return suggestCommands
	case 1:
		if word != "" {
			return prompt.FilterHasPrefix(suggestCommands, word, true)
		}
		return suggestModes
	case 2:
		if word != "" {
			return prompt.FilterHasPrefix(suggestModes, word, true)
		}
	}
	return nil
}
