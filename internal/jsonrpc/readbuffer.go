package jsonrpc

import "bytes"

// ReadBuffer accumulates bytes from a stream transport and yields one
// complete '\n'-terminated frame at a time, preserving any trailing partial
// frame across Feed calls.
type ReadBuffer struct {
	buf []byte
}

// Feed appends newly-read bytes to the buffer.
func (b *ReadBuffer) Feed(chunk []byte) {
	b.buf = append(b.buf, chunk...)
}

// Next extracts the next complete frame (without its trailing newline), or
// returns ok=false if no complete frame is currently buffered. Call Next
// repeatedly after each Feed to drain every frame a chunk may have completed.
func (b *ReadBuffer) Next() (frame []byte, ok bool) {
	idx := bytes.IndexByte(b.buf, '\n')
	if idx < 0 {
		return nil, false
	}
	frame = b.buf[:idx]
	frame = bytes.TrimSuffix(frame, []byte("\r"))
	b.buf = b.buf[idx+1:]
	return frame, true
}

// Pending reports whether a trailing partial frame is buffered.
func (b *ReadBuffer) Pending() bool {
	return len(b.buf) > 0
}
