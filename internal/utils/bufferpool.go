package utils

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// BufferPool hands out reusable byte buffers for JSON encoding.
type BufferPool struct {
	pool *bytebufferpool.Pool
}

var (
	globalPool     *BufferPool
	globalPoolOnce sync.Once
)

func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: &bytebufferpool.Pool{},
	}
}

func (bp *BufferPool) Get() *bytebufferpool.ByteBuffer {
	return bp.pool.Get()
}

func (bp *BufferPool) Put(buf *bytebufferpool.ByteBuffer) {
	bp.pool.Put(buf)
}

// MarshalJSON encodes v through a pooled buffer. The returned slice is owned
// by the caller and does not alias pooled memory.
func (bp *BufferPool) MarshalJSON(v any) ([]byte, error) {
	buf := bp.Get()
	defer bp.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	out := bytes.TrimSuffix(buf.B, []byte("\n"))
	return bytes.Clone(out), nil
}

// Global returns the global buffer pool instance
func Global() *BufferPool {
	globalPoolOnce.Do(func() {
		globalPool = NewBufferPool()
	})
	return globalPool
}

func MarshalJSON(v any) ([]byte, error) {
	return Global().MarshalJSON(v)
}
