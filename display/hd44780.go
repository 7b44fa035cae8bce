package display

import (
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/gpio-cdev-go"
)

type lcdCommand byte

const (
	lcdCommandClear   lcdCommand = 0x01
	lcdCommandReturn  lcdCommand = 0x02
	lcdCommandControl lcdCommand = 0x08
	lcdCommandAddress lcdCommand = 0x80
	lcdControlOn      lcdCommand = 0x04
)

// DDRAM row start addresses, valid for 16x2, 20x2 and 20x4 modules.
var lcdRowOffset = [4]byte{0x00, 0x40, 0x14, 0x54}

type HD44780PinMap struct {
	RS string `hcl:"rs" yaml:"rs"`
	RW string `hcl:"rw" yaml:"rw"`
	E  string `hcl:"e" yaml:"e"`
	D4 string `hcl:"d4" yaml:"d4"`
	D5 string `hcl:"d5" yaml:"d5"`
	D6 string `hcl:"d6" yaml:"d6"`
	D7 string `hcl:"d7" yaml:"d7"`
}

// HD44780 is character LCD on 4 bit bus via gpio character device.
type HD44780 struct {
	rows, cols uint8
	pins       gpio.Lineser
	pinRS      gpio.LineSetFunc // command/data, aliases: A0, RS
	pinRW      gpio.LineSetFunc
	pinE       gpio.LineSetFunc
	pinD4      gpio.LineSetFunc
	pinD5      gpio.LineSetFunc
	pinD6      gpio.LineSetFunc
	pinD7      gpio.LineSetFunc
}

func NewHD44780(chipName string, pinmap HD44780PinMap, rows, cols uint8) (*HD44780, error) {
	if rows == 0 || rows > 4 || cols == 0 || cols > MaxWidth {
		return nil, errors.NotValidf("hd44780 size=%dx%d", cols, rows)
	}
	nums := make([]uint32, 0, 7)
	for _, s := range []string{pinmap.RS, pinmap.RW, pinmap.E, pinmap.D4, pinmap.D5, pinmap.D6, pinmap.D7} {
		x, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, errors.NotValidf("hd44780 pin=%q", s)
		}
		nums = append(nums, uint32(x))
	}
	chip, err := gpio.Open(chipName, "lcd")
	if err != nil {
		return nil, errors.Annotatef(err, "hd44780 gpio chip=%s", chipName)
	}
	pins, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, "lcd", nums...)
	if err != nil {
		return nil, errors.Annotate(err, "hd44780 open lines")
	}
	self := &HD44780{
		rows:  rows,
		cols:  cols,
		pins:  pins,
		pinRS: pins.SetFunc(nums[0]),
		pinRW: pins.SetFunc(nums[1]),
		pinE:  pins.SetFunc(nums[2]),
		pinD4: pins.SetFunc(nums[3]),
		pinD5: pins.SetFunc(nums[4]),
		pinD6: pins.SetFunc(nums[5]),
		pinD7: pins.SetFunc(nums[6]),
	}
	self.init4()
	return self, nil
}

func (self *HD44780) init4() {
	time.Sleep(20 * time.Millisecond)
	// special sequence
	self.command(0x33)
	self.command(0x32)
	self.command(0x28) // 4 bit, 2 lines
	self.command(lcdCommandControl)
	self.command(lcdCommandControl | lcdControlOn)
	self.Clear()
	self.command(0x06) // entry mode: increment, no shift
}

func (self *HD44780) setAll(b byte) {
	self.pinRS(b)
	self.pinRW(b)
	self.pinE(b)
	self.pinD4(b)
	self.pinD5(b)
	self.pinD6(b)
	self.pinD7(b)
	self.pins.Flush() //nolint:errcheck
}

func (self *HD44780) blinkE() {
	self.pinE(1)
	self.pins.Flush() //nolint:errcheck
	time.Sleep(1 * time.Microsecond)
	self.pinE(0)
	self.pins.Flush() //nolint:errcheck
	time.Sleep(1 * time.Microsecond)
}

func (self *HD44780) send4(rs byte, nibble byte) {
	self.pinRS(rs)
	self.pinD4(bit(nibble, 0))
	self.pinD5(bit(nibble, 1))
	self.pinD6(bit(nibble, 2))
	self.pinD7(bit(nibble, 3))
	self.blinkE()
}

func (self *HD44780) send(rs byte, b byte) {
	self.send4(rs, b>>4)
	self.send4(rs, b&0x0f)
	// TODO poll busy flag
	time.Sleep(40 * time.Microsecond)
	self.setAll(0)
}

func (self *HD44780) command(c lcdCommand) { self.send(0, byte(c)) }

func (self *HD44780) Write(bs []byte) {
	for _, b := range bs {
		self.send(1, b)
	}
}

func (self *HD44780) Clear() {
	self.command(lcdCommandClear)
	time.Sleep(2 * time.Millisecond)
	self.command(lcdCommandReturn)
}

func (self *HD44780) CursorYX(row uint8, column uint8) bool {
	addr, ok := lcdAddress(row, column, self.rows, self.cols)
	if !ok {
		return false
	}
	self.command(lcdCommandAddress | lcdCommand(addr))
	return true
}

func lcdAddress(row, column, rows, cols uint8) (byte, bool) {
	if row == 0 || row > rows || column == 0 || column > cols {
		return 0, false
	}
	return lcdRowOffset[row-1] + (column - 1), true
}

func bit(b, n byte) byte { return (b >> n) & 1 }
