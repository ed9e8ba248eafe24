package wire

import (
	"io"
	"sync"
)

// Writer serializes frames onto an underlying stream. Writes are
// mutex-guarded so one Writer can be shared by several goroutines; the
// server writes each session's frames, keepalive pings included, from a
// single writer goroutine.
type Writer struct {
	mu  sync.Mutex
	dst io.Writer
}

// NewWriter wraps dst with a frame-aware writer.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst}
}

// WriteFrame encodes and writes one frame. Safe for concurrent use.
func (w *Writer) WriteFrame(msgType uint32, payload []byte) error {
	buf, err := AppendFrame(make([]byte, 0, len(payload)+2*maxVarintLen+1), msgType, payload)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.dst.Write(buf)
	return err
}
