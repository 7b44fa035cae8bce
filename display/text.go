package display

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/paulrosania/go-charset/charset"
	_ "github.com/paulrosania/go-charset/data"
)

const MaxWidth = 40

var spaceBytes = bytes.Repeat([]byte{' '}, MaxWidth)

// Devicer is character display hardware, rows and columns start at 1.
type Devicer interface {
	Clear()
	CursorYX(y, x uint8) bool
	Write(b []byte)
}

type TextPanelConfig struct {
	Codepage string
	Width    uint32
	Rows     int
}

// TextPanel keeps fixed-width line buffer and rewrites it to a Devicer on Flush.
type TextPanel struct {
	mu    sync.Mutex
	dev   Devicer
	tr    atomic.Value
	width uint32
	lines [][]byte
	upd   chan<- []string
}

func NewTextPanel(opt TextPanelConfig, dev Devicer) (*TextPanel, error) {
	if opt.Width == 0 || opt.Width > MaxWidth {
		return nil, errors.NotValidf("text panel width=%d", opt.Width)
	}
	if opt.Rows <= 0 {
		opt.Rows = 4
	}
	self := &TextPanel{
		dev:   dev,
		width: opt.Width,
		lines: make([][]byte, opt.Rows),
	}
	if opt.Codepage != "" {
		tr, err := charset.TranslatorTo(opt.Codepage)
		if err != nil {
			return nil, errors.Annotatef(err, "text panel codepage=%s", opt.Codepage)
		}
		self.tr.Store(tr)
	}
	return self, nil
}

// SetUpdateChan receives line contents after each Flush, send is skipped when full.
func (self *TextPanel) SetUpdateChan(ch chan<- []string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.upd = ch
}

func (self *TextPanel) Clear() {
	self.mu.Lock()
	defer self.mu.Unlock()
	for i := range self.lines {
		self.lines[i] = nil
	}
}

// DrawText outside of panel rows is ignored.
func (self *TextPanel) DrawText(line int, s string) {
	b := self.Translate(s)
	self.mu.Lock()
	defer self.mu.Unlock()
	if line < 0 || line >= len(self.lines) {
		return
	}
	self.lines[line] = b
}

func (self *TextPanel) Flush() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	var buf [MaxWidth]byte
	snap := make([]string, len(self.lines))
	for i, l := range self.lines {
		b := buf[:self.width]
		n := copy(b, l)
		copy(b[n:], spaceBytes)
		if !self.dev.CursorYX(uint8(i+1), 1) {
			return errors.Errorf("text panel cursor row=%d out of device range", i+1)
		}
		self.dev.Write(b)
		snap[i] = string(b)
	}
	if self.upd != nil {
		select {
		case self.upd <- snap:
		default:
		}
	}
	return nil
}

// Translate converts to panel codepage, result is truncated to width.
func (self *TextPanel) Translate(s string) []byte {
	if len(s) == 0 {
		return spaceBytes[:0]
	}
	result := []byte(s)
	tr, ok := self.tr.Load().(charset.Translator)
	if ok && tr != nil {
		_, tb, err := tr.Translate(result, true)
		if err == nil {
			// translator reuses single internal buffer, make a copy
			result = append([]byte(nil), tb...)
		}
	}
	if uint32(len(result)) > self.width {
		result = result[:self.width]
	}
	return result
}

// PadSpace returns `b` when len>=width, otherwise pads with spaces.
func PadSpace(b []byte, width uint32) []byte {
	l := uint32(len(b))
	if l == 0 {
		return spaceBytes[:width]
	}
	if l >= width {
		return b
	}
	buf := make([]byte, 0, width)
	buf = append(append(buf, b...), spaceBytes[:width-l]...)
	return buf
}
