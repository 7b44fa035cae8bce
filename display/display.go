// Package display renders status bus snapshots to a small panel.
// Every line has fixed width so the layout never shifts with value magnitude.
package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/temoto/telenode/status"
)

// Panel is a display driver. Only Flush performs I/O.
type Panel interface {
	Clear()
	DrawText(line int, s string)
	Flush() error
}

type Layout struct {
	LabelWidth int
	ValueWidth int
	UnitWidth  int
}

// DefaultLayout fits 18 columns: 128px panel with 7px font.
var DefaultLayout = Layout{LabelWidth: 7, ValueWidth: 6, UnitWidth: 3}

// Width of every formatted line.
func (l Layout) Width() int { return l.LabelWidth + 1 + l.ValueWidth + 1 + l.UnitWidth }

// Line formats `label value unit`: label truncated/padded, value right aligned,
// unit truncated/padded. Value wider than ValueWidth is shown as '#' fill.
func (l Layout) Line(label, value, unit string) string {
	if utf8.RuneCountInString(value) > l.ValueWidth {
		value = strings.Repeat("#", l.ValueWidth)
	}
	var b strings.Builder
	b.Grow(l.Width())
	b.WriteString(fit(label, l.LabelWidth))
	b.WriteByte(' ')
	b.WriteString(strings.Repeat(" ", l.ValueWidth-utf8.RuneCountInString(value)))
	b.WriteString(value)
	b.WriteByte(' ')
	b.WriteString(fit(unit, l.UnitWidth))
	return b.String()
}

func (l Layout) Float(label string, v float64, decimals int, unit string) string {
	return l.Line(label, strconv.FormatFloat(v, 'f', decimals, 64), unit)
}

func (l Layout) Int(label string, v int, unit string) string {
	return l.Line(label, strconv.Itoa(v), unit)
}

// fit truncates or pads s with spaces to exactly width runes.
func fit(s string, width int) string {
	n := 0
	for i := range s {
		if n == width {
			return s[:i]
		}
		n++
	}
	return s + strings.Repeat(" ", width-n)
}

type Labels struct {
	Measurement     string
	MeasurementUnit string
	Quality         string
	Broker          string
}

var DefaultLabels = Labels{
	Measurement:     "Temp",
	MeasurementUnit: "C",
	Quality:         "Link",
	Broker:          "Broker",
}

// FrameLines is elapsed, measurement, link quality, broker status.
const FrameLines = 4

// StaleMark replaces the label separator of a line whose value was not updated recently.
const StaleMark = '*'

// MarkStale puts StaleMark at separator column, line width is unchanged.
func (l Layout) MarkStale(line string) string {
	rs := []rune(line)
	if l.LabelWidth >= len(rs) {
		return line
	}
	rs[l.LabelWidth] = StaleMark
	return string(rs)
}

// Frame is one redraw worth of text lines, discarded after draw.
type Frame struct {
	Lines []string
}

func (f Frame) String() string { return strings.Join(f.Lines, "\n") }

// BuildFrame lines in fixed order: elapsed, measurement, link quality, broker status.
func BuildFrame(l Layout, labels Labels, elapsed time.Duration, snap status.Snapshot) Frame {
	return Frame{Lines: []string{
		fit(fmt.Sprintf("%.3f s", elapsed.Seconds()), l.Width()),
		l.Float(labels.Measurement, snap.Measurement, 1, labels.MeasurementUnit),
		l.Int(labels.Quality, int(snap.SignalQuality), "%"),
		l.Line(labels.Broker, snap.BrokerStatus.Code(), snap.BrokerStatus.String()),
	}}
}
