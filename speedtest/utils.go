package speedtest

import (
	"bytes"
	"io"
	"sync"
)

const readChunkSize = 1024 * 32 // 32 KBytes

// payloadByte fills upload bodies; only the size matters to the server.
const payloadByte = 'A'

// RepeatReader yields size copies of a constant byte without allocating the
// whole payload.
type RepeatReader struct {
	ContentLength int64
	rs            []byte
	n             int64
}

func NewRepeatReader(size int64) *RepeatReader {
	if size <= 0 {
		panic("the size of repeated bytes should be > 0")
	}
	return &RepeatReader{rs: repeatChunk(), ContentLength: size, n: size}
}

func (r *RepeatReader) Read(b []byte) (n int, err error) {
	if r.n <= 0 {
		return 0, io.EOF
	}
	chunk := r.rs
	if r.n < int64(len(chunk)) {
		chunk = chunk[:r.n]
	}
	n = copy(b, chunk)
	r.n -= int64(n)
	return
}

var (
	repeatOnce  sync.Once
	repeatBytes []byte
)

func repeatChunk() []byte {
	repeatOnce.Do(func() {
		repeatBytes = bytes.Repeat([]byte{payloadByte}, readChunkSize)
	})
	return repeatBytes
}

var blackHolePool = sync.Pool{
	New: func() any {
		b := make([]byte, readChunkSize)
		return &b
	},
}
