package display

import (
	"fmt"
	"io"
	"sync"

	"github.com/temoto/telenode/helpers"
)

// TermDevicer draws text panel on ANSI terminal, for hosts without a panel.
type TermDevicer struct {
	mu   sync.Mutex
	w    io.Writer
	rows uint8
	cols uint8
	err  error
}

func NewTermDevicer(w io.Writer, rows, cols uint8) *TermDevicer {
	return &TermDevicer{w: w, rows: rows, cols: cols}
}

func (self *TermDevicer) Clear() { self.write([]byte("\x1b[2J\x1b[H")) }

func (self *TermDevicer) CursorYX(y, x uint8) bool {
	if y == 0 || y > self.rows || x == 0 || x > self.cols {
		return false
	}
	self.write([]byte(fmt.Sprintf("\x1b[%d;%dH", y, x)))
	return true
}

func (self *TermDevicer) Write(b []byte) { self.write(b) }

// Err returns first write error, terminal writes are best effort.
func (self *TermDevicer) Err() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.err
}

func (self *TermDevicer) write(b []byte) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if err := helpers.WriteAll(self.w, b); err != nil && self.err == nil {
		self.err = err
	}
}
