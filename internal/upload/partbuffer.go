package upload

// partBuffer accumulates bytes up to a fixed capacity. The backing array is
// reused across parts.
type partBuffer struct {
	buf []byte
}

func newPartBuffer(size int) *partBuffer {
	return &partBuffer{buf: make([]byte, 0, size)}
}

// fill copies as much of p as fits and returns the number of bytes taken.
func (b *partBuffer) fill(p []byte) int {
	n := min(len(p), cap(b.buf)-len(b.buf))
	b.buf = append(b.buf, p[:n]...)
	return n
}

func (b *partBuffer) full() bool    { return len(b.buf) == cap(b.buf) }
func (b *partBuffer) len() int      { return len(b.buf) }
func (b *partBuffer) bytes() []byte { return b.buf }
func (b *partBuffer) reset()        { b.buf = b.buf[:0] }
