package chart

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"

	"github.com/verte-zerg/hccdfs/internal/model"
)

const (
	defaultPlotHeight   = 12
	minPlotWidth        = 20
	axisLabelTop        = "1.0"
	axisLabelMid        = "0.5"
	axisLabelBottom     = "0.0"
	axisSeparator       = " │ "
	colorReset          = "\x1b[0m"
	terminalWidthBackup = 80
)

// seriesColor is Color as a 24-bit ANSI foreground.
var seriesColor = fmt.Sprintf("\x1b[38;2;%d;%d;%dm", 0xFF, 0x00, 0x00)

// PlotOptions controls the terminal plot.
type PlotOptions struct {
	Width  int
	Height int
	// ForceColor colors the series even when w is not a terminal.
	ForceColor bool
	// NoColor disables color regardless of the terminal.
	NoColor bool
}

// Plot renders curve as a braille line chart on a fixed 0..1 scale.
func Plot(w io.Writer, curve model.Curve, opts PlotOptions) error {
	if curve.Len() == 0 {
		return nil
	}
	height := opts.Height
	if height <= 0 {
		height = defaultPlotHeight
	}
	width := opts.Width
	if width <= 0 {
		width = autoPlotWidth()
	}
	if width < minPlotWidth {
		width = minPlotWidth
	}

	c := newCanvas(width, height)
	for x, v := range sampleSteps(curve.Survival, width) {
		c.lineTo(x*2, dotRow(v, height*4))
	}

	useColor := !opts.NoColor && shouldUseColor(w, opts.ForceColor)
	leftAxisWidth := len(axisLabelTop)
	axisLabels := makeAxisLabels(height)

	var b strings.Builder
	b.WriteString(YLabel)
	b.WriteByte('\n')
	for y := 0; y < height; y++ {
		fmt.Fprintf(&b, "%*s%s", leftAxisWidth, axisLabels[y], axisSeparator)
		if useColor {
			b.WriteString(seriesColor + c.row(y) + colorReset)
		} else {
			b.WriteString(c.row(y))
		}
		b.WriteByte('\n')
	}
	pad := strings.Repeat(" ", leftAxisWidth+utf8.RuneCountInString(axisSeparator))
	b.WriteString(pad)
	b.WriteString(xTicks(curve.Months[0], curve.Months[curve.Len()-1], width))
	b.WriteByte('\n')
	b.WriteString(pad)
	b.WriteString(centered(XLabel, width))
	b.WriteByte('\n')
	b.WriteString(renderLegend(useColor))
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

// xTicks places the first, middle and last month under the plot area.
func xTicks(first, last, width int) string {
	line := []rune(strings.Repeat(" ", width))
	put := func(pos int, label string) {
		r := []rune(label)
		if pos+len(r) > width {
			pos = width - len(r)
		}
		if pos < 0 {
			pos = 0
		}
		for i, ch := range r {
			if pos+i < width {
				line[pos+i] = ch
			}
		}
	}
	put(0, strconv.Itoa(first))
	if width >= 16 {
		mid := first + (last-first)/2
		put(width/2-1, strconv.Itoa(mid))
	}
	put(width, strconv.Itoa(last))
	return strings.TrimRight(string(line), " ")
}

func centered(label string, width int) string {
	n := utf8.RuneCountInString(label)
	if n >= width {
		return label
	}
	return strings.Repeat(" ", (width-n)/2) + label
}

func autoPlotWidth() int {
	return PlotWidthFor(terminalWidth())
}

// PlotWidthFor computes a plot width that fits within the total available width.
func PlotWidthFor(totalWidth int) int {
	if totalWidth <= 0 {
		return minPlotWidth
	}
	axisWidth := utf8.RuneCountInString(axisLabelTop) + utf8.RuneCountInString(axisSeparator)
	plotWidth := totalWidth - axisWidth
	if plotWidth < minPlotWidth {
		plotWidth = minPlotWidth
	}
	return plotWidth
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return terminalWidthBackup
	}
	return width
}

func shouldUseColor(w io.Writer, force bool) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if force {
		return true
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func makeAxisLabels(height int) []string {
	labels := make([]string, height)
	if height <= 0 {
		return labels
	}
	labels[0] = axisLabelTop
	if height > 2 {
		labels[height/2] = axisLabelMid
	}
	if height > 1 {
		labels[height-1] = axisLabelBottom
	}
	return labels
}

// sampleSteps maps values onto width columns by holding each step.
func sampleSteps(values []float64, width int) []float64 {
	if len(values) == 0 || width <= 0 {
		return nil
	}
	out := make([]float64, width)
	for i := range out {
		out[i] = values[min(i*len(values)/width, len(values)-1)]
	}
	return out
}

// dotRow maps a probability onto a dot row, 0 being the top of the plot.
func dotRow(p float64, dots int) int {
	if dots <= 1 {
		return 0
	}
	row := int(math.Round((1 - p) * float64(dots-1)))
	return max(0, min(row, dots-1))
}

func renderLegend(useColor bool) string {
	label := fmt.Sprintf("%c %s", rune(brailleBase|0x09), SeriesName)
	if useColor {
		label = seriesColor + label + colorReset
	}
	return "Legend: " + label
}

const brailleBase = 0x2800

// brailleDots[col][row] is the bit of a dot inside one braille cell.
var brailleDots = [2][4]uint8{
	{0x01, 0x02, 0x04, 0x40},
	{0x08, 0x10, 0x20, 0x80},
}

// canvas is a grid of braille cells, each holding 2x4 dots.
type canvas struct {
	cells        [][]uint8
	lastX, lastY int
	started      bool
}

func newCanvas(width, height int) *canvas {
	cells := make([][]uint8, height)
	for y := range cells {
		cells[y] = make([]uint8, width)
	}
	return &canvas{cells: cells}
}

func (c *canvas) set(x, y int) {
	if x < 0 || y < 0 || y/4 >= len(c.cells) || x/2 >= len(c.cells[y/4]) {
		return
	}
	c.cells[y/4][x/2] |= brailleDots[x%2][y%4]
}

// lineTo draws from the previous point to (x, y) with Bresenham's algorithm.
func (c *canvas) lineTo(x, y int) {
	if !c.started {
		c.started = true
		c.lastX, c.lastY = x, y
		c.set(x, y)
		return
	}
	x0, y0 := c.lastX, c.lastY
	c.lastX, c.lastY = x, y
	dx, sx := absStep(x - x0)
	dy, sy := absStep(y - y0)
	dy = -dy
	e := dx + dy
	for {
		c.set(x0, y0)
		if x0 == x && y0 == y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func (c *canvas) row(y int) string {
	var b strings.Builder
	for _, mask := range c.cells[y] {
		b.WriteRune(rune(brailleBase + int(mask)))
	}
	return b.String()
}

func absStep(d int) (int, int) {
	if d < 0 {
		return -d, -1
	}
	return d, 1
}
