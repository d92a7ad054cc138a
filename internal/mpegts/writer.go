package mpegts

import "io"

// Writer is an io.WriteCloser that demultiplexes every write and forwards
// the AAC elementary stream to an underlying writer.
type Writer struct {
	s *Session
	w io.Writer
}

// NewWriter returns a Writer forwarding elementary stream bytes to w.
func NewWriter(w io.Writer, opts ...SessionOption) *Writer {
	return &Writer{s: NewSession(opts...), w: w}
}

// Write pushes p into the session. Bytes assembled before a parse error are
// still forwarded.
func (w *Writer) Write(p []byte) (int, error) {
	perr := w.s.Push(p)
	if out := w.s.Take(); len(out) > 0 {
		if _, err := w.w.Write(out); err != nil {
			return 0, err
		}
	}
	if perr != nil {
		return 0, perr
	}
	return len(p), nil
}

// Close finishes the session. It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.s.Finish()
}

// Session returns the underlying session.
func (w *Writer) Session() *Session {
	return w.s
}
