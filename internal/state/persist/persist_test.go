package persist

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	"github.com/bitdoglab/sectele/log2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n byte }

func (c *counter) MarshalBinary() ([]byte, error) { return []byte{c.n}, nil }
func (c *counter) UnmarshalBinary(b []byte) error {
	if len(b) != 1 {
		return fmt.Errorf("counter len=%d", len(b))
	}
	c.n = b[0]
	return nil
}

type memStorage struct {
	b   []byte
	err error
}

func (m *memStorage) Read() ([]byte, error) { return m.b, m.err }
func (m *memStorage) Write(b []byte) (int, error) {
	m.b = append([]byte(nil), b...)
	return len(b), nil
}

func TestPersistDisabled(t *testing.T) {
	t.Parallel()
	var p Persist
	c := &counter{n: 7}
	require.NoError(t, p.Init("sel", c, "", log2.NewTest(t, log2.LDebug)))
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Store())
	assert.NoError(t, p.Load())
	assert.Equal(t, byte(7), c.n)
}

func TestPersistMemory(t *testing.T) {
	t.Parallel()
	var p Persist
	c := &counter{}
	require.NoError(t, p.Init("sel", c, "", log2.NewTest(t, log2.LDebug)))
	ms := &memStorage{}
	p.storage = ms

	require.NoError(t, p.Load(), "empty storage")
	assert.Equal(t, byte(0), c.n)
	c.n = 3
	require.NoError(t, p.Store())
	assert.Equal(t, []byte{3}, ms.b)

	c.n = 0
	require.NoError(t, p.Load())
	assert.Equal(t, byte(3), c.n)

	ms.b = []byte{1, 2}
	assert.Error(t, p.Load())
}

func TestPersistExtremofile(t *testing.T) {
	t.Parallel()
	root, err := ioutil.TempDir("", "sectele-persist-")
	require.NoError(t, err)
	defer os.RemoveAll(root)
	log := log2.NewTest(t, log2.LDebug)

	var p1 Persist
	c1 := &counter{n: 2}
	require.NoError(t, p1.Init("menu", c1, root, log))
	require.True(t, p1.Enabled())
	require.NoError(t, p1.Store())

	var p2 Persist
	c2 := &counter{}
	require.NoError(t, p2.Init("menu", c2, root, log))
	require.NoError(t, p2.Load())
	assert.Equal(t, byte(2), c2.n)
}
