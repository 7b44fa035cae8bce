package display

import (
	"image"
	"image/draw"
	"strings"
	"sync"

	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/periph/devices/ssd1306/image1bit"
)

const DefaultLineHeight = 16

// Sink receives the whole 1-bit frame, *ssd1306.Dev implements it.
type Sink interface {
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// MonoPanel draws text lines into 1-bit frame buffer. Nil sink is headless.
type MonoPanel struct {
	mu         sync.Mutex
	img        *image1bit.VerticalLSB
	face       *basicfont.Face
	lineHeight int
	sink       Sink
}

func NewMonoPanel(size image.Point, lineHeight int, sink Sink) *MonoPanel {
	if lineHeight <= 0 {
		lineHeight = DefaultLineHeight
	}
	return &MonoPanel{
		img:        image1bit.NewVerticalLSB(image.Rectangle{Max: size}),
		face:       basicfont.Face7x13,
		lineHeight: lineHeight,
		sink:       sink,
	}
}

// MonoRows is count of text lines with baseline inside panel height.
func MonoRows(height, lineHeight int) int {
	if lineHeight <= 0 {
		lineHeight = DefaultLineHeight
	}
	ascent := basicfont.Face7x13.Ascent
	if height <= ascent {
		return 0
	}
	return (height-ascent-1)/lineHeight + 1
}

func (self *MonoPanel) Size() image.Point { return self.img.Bounds().Max }

func (self *MonoPanel) Clear() {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.clear()
}

func (self *MonoPanel) clear() {
	draw.Draw(self.img, self.img.Bounds(), &image.Uniform{C: image1bit.Off}, image.Point{}, draw.Src)
}

// DrawText line is text slot index, y = ascent + line*lineHeight.
func (self *MonoPanel) DrawText(line int, s string) {
	self.mu.Lock()
	defer self.mu.Unlock()
	d := font.Drawer{
		Dst:  self.img,
		Src:  &image.Uniform{C: image1bit.On},
		Face: self.face,
		Dot:  fixed.P(0, self.face.Ascent+line*self.lineHeight),
	}
	d.DrawString(s)
}

func (self *MonoPanel) Flush() error {
	if self.sink == nil {
		return nil
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	return errors.Annotate(self.sink.Draw(self.img.Bounds(), self.img, image.Point{}), "display flush")
}

// QR replaces frame with QR code of text, centered.
func (self *MonoPanel) QR(text string, level qrcode.RecoveryLevel) error {
	qr, err := qrcode.New(text, level)
	if err != nil {
		return errors.Annotate(err, "QR")
	}
	qr.DisableBorder = true
	size := self.Size()
	minSize := minInt(size.X, size.Y)
	img, ok := qr.Image(minSize).(*image.Paletted)
	if !ok {
		return errors.Errorf("code error QR image type")
	}
	if img.Bounds().Dx() > size.X || img.Bounds().Dy() > size.Y {
		return errors.Errorf("QR image size=%s > display size=%s", img.Bounds().Max.String(), size.String())
	}
	off := image.Pt((size.X-img.Bounds().Dx())/2, (size.Y-img.Bounds().Dy())/2)

	self.mu.Lock()
	self.clear()
	min, max := img.Bounds().Min, img.Bounds().Max
	for y := min.Y; y < max.Y; y++ {
		for x := min.X; x < max.X; x++ {
			// palette 0 is background, lit on panel
			lit := img.Pix[img.PixOffset(x, y)] == 0
			self.img.SetBit(off.X+x-min.X, off.Y+y-min.Y, image1bit.Bit(lit))
		}
	}
	self.mu.Unlock()
	return self.Flush()
}

// String renders frame as text, lit pixel is '#'.
func (self *MonoPanel) String() string {
	self.mu.Lock()
	defer self.mu.Unlock()
	size := self.img.Bounds().Max
	b := strings.Builder{}
	b.Grow((size.X + 1) * size.Y)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			if self.img.BitAt(x, y) {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// LitCount is number of lit pixels.
func (self *MonoPanel) LitCount() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	n := 0
	size := self.img.Bounds().Max
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			if self.img.BitAt(x, y) {
				n++
			}
		}
	}
	return n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
