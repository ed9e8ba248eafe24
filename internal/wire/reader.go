package wire

import (
	"errors"
	"io"

	"github.com/smallnest/ringbuffer"
)

// initialRingCapacity is the accumulator's starting size. It grows by
// doubling whenever bytes read off the stream don't fit in its free
// space, so a handful of large GATT read responses don't force
// every connection to pay for a large buffer up front.
const initialRingCapacity = 4096

// Reader accumulates bytes from an underlying stream and peels off complete
// frames as they arrive, the same "read raw bytes, buffer until callers have
// enough" shape as ptyio's read side — except here the accumulator is
// grown instead of treated as a fixed-size backpressure point, since a
// control session cannot simply drop bytes it can't yet parse.
type Reader struct {
	src   io.Reader
	ring  *ringbuffer.RingBuffer
	chunk []byte
}

// NewReader wraps src with a frame-aware reader.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:   src,
		ring:  ringbuffer.New(initialRingCapacity),
		chunk: make([]byte, initialRingCapacity),
	}
}

// ReadFrame blocks until one complete frame has been accumulated from the
// underlying reader, or the underlying reader fails or is exhausted.
func (r *Reader) ReadFrame() (Frame, error) {
	for {
		frame, ok, err := r.tryParse()
		if err != nil {
			return Frame{}, err
		}
		if ok {
			return frame, nil
		}
		if err := r.fill(); err != nil {
			return Frame{}, err
		}
	}
}

// fill reads one chunk from the underlying stream into the ring.
func (r *Reader) fill() error {
	n, err := r.src.Read(r.chunk)
	if n > 0 {
		r.ensureFree(n)
		if _, werr := r.ring.Write(r.chunk[:n]); werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
			return werr
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrShortRead
		}
		return err
	}
	return nil
}

// tryParse drains everything currently buffered, attempts to peel one frame
// off the front, and pushes back whatever remains unconsumed. The ring
// buffer has no peek API, so "peek" is implemented as drain-then-requeue.
func (r *Reader) tryParse() (Frame, bool, error) {
	avail := r.ring.Length()
	if avail == 0 {
		return Frame{}, false, nil
	}

	buf := make([]byte, avail)
	n, err := r.ring.TryRead(buf)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return Frame{}, false, err
	}
	buf = buf[:n]

	frame, consumed, ok, perr := parseFrame(buf)
	if perr != nil {
		return Frame{}, false, perr
	}

	if remainder := buf[consumed:]; len(remainder) > 0 {
		r.ensureFree(len(remainder))
		if _, werr := r.ring.Write(remainder); werr != nil && !errors.Is(werr, ringbuffer.ErrIsFull) {
			return Frame{}, false, werr
		}
	}

	if !ok {
		return Frame{}, false, nil
	}
	return frame, true, nil
}

// ensureFree grows the ring, doubling its capacity, until it can hold at
// least n additional bytes without overflowing.
func (r *Reader) ensureFree(n int) {
	for r.ring.Capacity()-r.ring.Length() < n {
		grown := ringbuffer.New(r.ring.Capacity() * 2)
		pending := make([]byte, r.ring.Length())
		_, _ = r.ring.TryRead(pending)
		_, _ = grown.Write(pending)
		r.ring = grown
	}
}
