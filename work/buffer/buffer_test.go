package buffer

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsEmptySizedBuffer(t *testing.T) {
	bp := NewBufferPool(1024)

	buf := bp.Get()
	assert.Zero(t, buf.Len())
	assert.GreaterOrEqual(t, cap(buf.B), 1024)

	buf.WriteString("stale")
	bp.Put(buf)

	buf = bp.Get()
	assert.Zero(t, buf.Len())
	bp.Put(buf)
}

func TestCopyRelaysEverything(t *testing.T) {
	bp := NewBufferPool(16)
	payload := strings.Repeat("segment-bytes-", 100)

	var dst bytes.Buffer
	n, err := bp.Copy(&dst, strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, dst.String())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("upstream reset") }

func TestReadAll(t *testing.T) {
	bp := NewBufferPool(0)

	buf, err := bp.ReadAll(strings.NewReader("#EXTM3U\n"))
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n", buf.String())
	bp.Put(buf)

	_, err = bp.ReadAll(failingReader{})
	assert.EqualError(t, err, "upstream reset")
}
