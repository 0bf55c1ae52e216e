// Package framebuf holds the single frame store shared by the serial reader
// and the UDP responder.
//
// The store is a relaxed single-writer/single-reader buffer. The serial reader
// is the only writer and the UDP responder the only reader. Pixel bytes are
// written in place with no lock and no double buffering, so a reply that races
// with the next frame can carry a mix of old and new pixels. Only the published
// ready length is atomic, which keeps every reply inside the buffer bounds
// without ever making the writer wait on the network.
package framebuf

import "sync/atomic"

// BytesPerPixel is the RGB stride of a stored pixel.
const BytesPerPixel = 3

// Buffer is a fixed capacity pixel store with a write cursor and a published
// ready length. The zero value is unusable; call New.
type Buffer struct {
	data   []byte
	cursor int // writer-owned; offset of the next write
	ready  atomic.Int64
}

// New allocates a buffer for maxPixels RGB pixels. Non-positive sizes yield
// an empty buffer that drops every append.
func New(maxPixels int) *Buffer {
	if maxPixels < 0 {
		maxPixels = 0
	}
	return &Buffer{data: make([]byte, maxPixels*BytesPerPixel)}
}

// Cap returns the capacity in bytes.
func (b *Buffer) Cap() int { return len(b.data) }

// MaxPixels returns the capacity in pixels.
func (b *Buffer) MaxPixels() int { return len(b.data) / BytesPerPixel }

// Len returns the cursor position (bytes written into the frame in progress).
func (b *Buffer) Len() int { return b.cursor }

// Free returns the bytes left before the cursor reaches capacity.
func (b *Buffer) Free() int { return len(b.data) - b.cursor }

// Append copies p at the cursor and advances it. Bytes past capacity are not
// written; the number of bytes copied is returned.
func (b *Buffer) Append(p []byte) int {
	n := copy(b.data[b.cursor:], p)
	b.cursor += n
	return n
}

// Window returns the n-byte region at the cursor and advances the cursor past
// it, letting a decoder read device bytes straight into the frame. It returns
// nil and leaves the cursor alone when n does not fit.
func (b *Buffer) Window(n int) []byte {
	if n < 0 || n > b.Free() {
		return nil
	}
	w := b.data[b.cursor : b.cursor+n : b.cursor+n]
	b.cursor += n
	return w
}

// Finalize publishes the cursor as the ready length, resets the cursor for the
// next frame and returns the published length.
func (b *Buffer) Finalize() int {
	n := b.cursor
	b.ready.Store(int64(n))
	b.cursor = 0
	return n
}

// ReadyLen returns the published byte count, 0 until the first frame.
func (b *Buffer) ReadyLen() int { return int(b.ready.Load()) }

// PixelCount returns the ready length in pixels.
func (b *Buffer) PixelCount() int { return b.ReadyLen() / BytesPerPixel }

// Snapshot returns the published frame. The slice aliases the live buffer:
// its length is stable but its bytes may be overwritten by the frame in
// progress while the caller is using them.
func (b *Buffer) Snapshot() []byte {
	n := b.ReadyLen()
	if n > len(b.data) {
		n = len(b.data)
	}
	return b.data[:n:n]
}

// Reset clears the cursor and the ready length. Only call it while no reader
// or writer goroutine is running.
func (b *Buffer) Reset() {
	b.cursor = 0
	b.ready.Store(0)
}
