package helpers

import (
	"io"
)

// WriteAll repeats short writes until b is consumed.
// A writer that accepts nothing without error gets io.ErrShortWrite.
func WriteAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n <= 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
