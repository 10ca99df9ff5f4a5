package buffer

import (
	"io"

	"github.com/valyala/bytebufferpool"
)

// BufferPool hands out reusable byte buffers for relaying upstream bodies.
// Buffers come back with at least bufferSize capacity.
type BufferPool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewBufferPool creates a pool of buffers sized for bufferSize byte chunks
func NewBufferPool(bufferSize int64) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = 32 * 1024
	}
	return &BufferPool{
		bufferSize: int(bufferSize),
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves an empty buffer from the pool
func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	buf := bp.pool.Get()
	buf.Reset()
	if cap(buf.B) < bp.bufferSize {
		buf.B = make([]byte, 0, bp.bufferSize)
	}
	return buf
}

// Put returns a buffer to the pool
func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		bp.pool.Put(buf)
	}
}

// Copy relays src into dst through a pooled chunk buffer and returns the
// number of bytes written.
func (bp *BufferPool) Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := bp.Get()
	defer bp.Put(buf)

	chunk := buf.B[:cap(buf.B)]
	return io.CopyBuffer(dst, src, chunk)
}

// ReadAll drains r into a pooled buffer. The caller must Put the buffer
// back once done with its bytes.
func (bp *BufferPool) ReadAll(r io.Reader) (*bytebufferpool.ByteBuffer, error) {
	buf := bp.Get()
	if _, err := buf.ReadFrom(r); err != nil {
		bp.Put(buf)
		return nil, err
	}
	return buf, nil
}
