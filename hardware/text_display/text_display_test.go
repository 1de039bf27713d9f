package text_display

import (
	"testing"

	"github.com/bitdoglab/sectele/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderFullThenPartial(t *testing.T) {
	t.Parallel()

	d, dev := NewMockTextDisplay(&TextDisplayConfig{Width: 16})
	d.Render(RenderRequest{Lines: []string{"Mode: XOR", "waiting"}, Kind: ScreenStatus, Clear: true})
	assert.Equal(t, 1, dev.Clears)
	assert.Equal(t, []string{"Mode: XOR", "waiting", "", "", ""}, dev.Screen())
	assert.Len(t, dev.Writes, 2)

	dev.Reset()
	d.Render(RenderRequest{Lines: []string{"Mode: XOR", "Original:", "26.5,1000", "XOR hex:", "181c041f061b1a1a"}, Kind: ScreenStatus})
	assert.Equal(t, 0, dev.Clears, "partial update must not clear")
	for _, w := range dev.Writes {
		assert.NotEqual(t, uint8(0), w.Row, "partial update must not touch title")
		assert.Len(t, w.Text, 16, "partial rows are padded")
	}
	assert.Len(t, dev.Writes, 4)
	assert.Equal(t, []string{"Mode: XOR", "Original:", "26.5,1000", "XOR hex:", "181c041f061b1a1a"}, dev.Screen())

	dev.Reset()
	d.Render(RenderRequest{Lines: []string{"Mode: XOR", "Original:", "26.5,6000", "XOR hex:", "181c041f061c1a1a"}, Kind: ScreenStatus})
	assert.Equal(t, 0, dev.Clears)
	assert.Len(t, dev.Writes, 2, "only changed rows")
}

func TestRenderIdempotent(t *testing.T) {
	t.Parallel()

	d, dev := NewMockTextDisplay(&TextDisplayConfig{Width: 16})
	req := RenderRequest{Lines: []string{"PUBLISHER", "> No security", "  XOR cipher"}, Kind: ScreenMenu, Clear: true}
	d.Render(req)
	first := dev.Screen()
	req.Clear = false
	dev.Reset()
	d.Render(req)
	assert.Equal(t, first, dev.Screen())
	assert.Len(t, dev.Writes, 0)
	d.Render(RenderRequest{Lines: []string{"PUBLISHER", "> No security", "  XOR cipher"}, Kind: ScreenMenu, Clear: true})
	assert.Equal(t, first, dev.Screen())
}

func TestRenderErasesShorterRow(t *testing.T) {
	t.Parallel()

	d, dev := NewMockTextDisplay(&TextDisplayConfig{Width: 12})
	d.Render(RenderRequest{Lines: []string{"T", "long long"}, Clear: true})
	d.Render(RenderRequest{Lines: []string{"T", "ok"}})
	assert.Equal(t, "ok", dev.Row(1))
	d.Render(RenderRequest{Lines: []string{"T"}})
	assert.Equal(t, "", dev.Row(1))
}

func TestRenderTitleChangeEscalates(t *testing.T) {
	t.Parallel()

	d, dev := NewMockTextDisplay(&TextDisplayConfig{Width: 12})
	d.Render(RenderRequest{Lines: []string{"A", "1", "2"}, Clear: true})
	dev.Reset()
	d.Render(RenderRequest{Lines: []string{"B", "1"}})
	assert.Equal(t, 1, dev.Clears)
	assert.Equal(t, []string{"B", "1", "", "", ""}, dev.Screen())
}

func TestRenderTruncates(t *testing.T) {
	t.Parallel()

	d, err := NewTextDisplay(&TextDisplayConfig{Width: 8})
	require.NoError(t, err)
	dev := NewMockDevicer(4, 8) // panel shorter than request
	d.SetDevice(dev)
	lines := []string{"title", "much-too-long-line", "2", "3", "4", "ignored"}
	d.Render(RenderRequest{Lines: lines, Clear: true})
	assert.Equal(t, []string{"title", "much-too", "2", "3"}, dev.Screen())
	assert.Equal(t, "much-too-long-line", d.State().Row(1), "state keeps full text")
	assert.Equal(t, "much-too-long-line", lines[1], "input untouched")
}

func TestUpdateChan(t *testing.T) {
	t.Parallel()

	d, _ := NewMockTextDisplay(&TextDisplayConfig{Width: 8})
	ch := make(chan State, 1)
	d.SetUpdateChan(ch)
	d.Render(RenderRequest{Lines: []string{"hello", "world"}, Kind: ScreenStatus, Clear: true})
	s := <-ch
	assert.Equal(t, "Status(hello|world|||)", s.String())
	assert.Equal(t, "hello   \nworld   \n        \n        \n        ", s.Format(8))
}

func TestCodepage(t *testing.T) {
	t.Parallel()

	d, err := NewTextDisplay(&TextDisplayConfig{Width: 8, Codepage: "windows-1252"})
	require.NoError(t, err)
	assert.Equal(t, []byte{'N', 0xe3, 'o'}, d.Translate("Não"))

	_, err = NewTextDisplay(&TextDisplayConfig{Width: 8, Codepage: "no-such-codepage"})
	assert.Error(t, err)
	_, err = NewTextDisplay(&TextDisplayConfig{Width: 0})
	assert.Error(t, err)
}

func TestJustCenter(t *testing.T) {
	t.Parallel()

	d, err := NewTextDisplay(&TextDisplayConfig{Width: 8})
	require.NoError(t, err)
	assert.Equal(t, []byte("longlong"), d.JustCenter([]byte("longlong")))
	assert.Equal(t, []byte("longlon"), d.JustCenter([]byte("longlon")))
	assert.Equal(t, []byte("  long  "), d.JustCenter([]byte("long")))
	assert.Equal(t, []byte("   1    "), d.JustCenter([]byte("1")))
	assert.Equal(t, "  long", d.CenterString("long"))
}

func TestConsoleDevicePlain(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	d, err := NewTextDisplay(&TextDisplayConfig{Width: 10})
	require.NoError(t, err)
	dev := NewConsoleDevice(log, MaxRows, 10)
	dev.ansi = false
	d.SetDevice(dev)
	d.Render(RenderRequest{Lines: []string{"PUBLISHER", "> Plain"}, Clear: true})
	assert.Equal(t, "> Plain", dev.grid.Row(1))
	assert.False(t, dev.dirty)
}
