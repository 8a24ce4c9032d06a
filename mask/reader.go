package mask

import "io"

type reader struct {
	r io.Reader
	x XOR
}

// NewReader returns a reader yielding the transformed bytes of r. Since the
// transform has no lookahead, chunk boundaries never affect the output.
func (x XOR) NewReader(r io.Reader) io.Reader {
	return &reader{r: r, x: x}
}

func (r *reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.x.Apply(p[:n])
	return n, err
}

type writer struct {
	w   io.Writer
	x   XOR
	buf []byte
}

// NewWriter returns a writer that transforms bytes before passing them to w.
// The caller's slice is never modified.
func (x XOR) NewWriter(w io.Writer) io.Writer {
	return &writer{w: w, x: x}
}

func (w *writer) Write(p []byte) (int, error) {
	if cap(w.buf) < len(p) {
		w.buf = make([]byte, len(p))
	}
	buf := w.buf[:len(p)]
	copy(buf, p)
	w.x.Apply(buf)
	return w.w.Write(buf)
}
