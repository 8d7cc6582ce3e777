package chart

import (
	"fmt"
	"html"
	"strings"

	"github.com/verte-zerg/hccdfs/internal/model"
)

// SVGOptions sizes the browser chart in pixels.
type SVGOptions struct {
	Width  int
	Height int
}

const (
	svgMarginLeft   = 64
	svgMarginRight  = 16
	svgMarginTop    = 16
	svgMarginBottom = 48
)

// SVG renders curve as a standalone step-line chart on a fixed 0..1 y-scale.
func SVG(curve model.Curve, opts SVGOptions) string {
	width, height := opts.Width, opts.Height
	if width <= 0 {
		width = 720
	}
	if height <= 0 {
		height = 360
	}
	plotW := float64(width - svgMarginLeft - svgMarginRight)
	plotH := float64(height - svgMarginTop - svgMarginBottom)

	first, last := 1, model.Horizon
	if curve.Len() > 0 {
		first, last = curve.Months[0], curve.Months[curve.Len()-1]
	}
	span := float64(last - first)
	if span <= 0 {
		span = 1
	}
	xOf := func(month int) float64 {
		return svgMarginLeft + float64(month-first)/span*plotW
	}
	yOf := func(p float64) float64 {
		return svgMarginTop + (1-p)*plotH
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" role="img" aria-label="%s">`,
		width, height, width, height, html.EscapeString(Subheader))
	b.WriteString(`<g stroke="#ccc" stroke-width="1">`)
	for _, p := range []float64{0, 0.25, 0.5, 0.75, 1} {
		fmt.Fprintf(&b, `<line x1="%d" y1="%.1f" x2="%.1f" y2="%.1f"/>`, svgMarginLeft, yOf(p), svgMarginLeft+plotW, yOf(p))
	}
	b.WriteString(`</g>`)

	b.WriteString(`<g font-size="12" font-family="sans-serif" fill="#333">`)
	for _, p := range []float64{0, 0.25, 0.5, 0.75, 1} {
		fmt.Fprintf(&b, `<text x="%d" y="%.1f" text-anchor="end">%.2f</text>`, svgMarginLeft-6, yOf(p)+4, p)
	}
	for m := first; m <= last; m++ {
		if m != first && m%12 != 0 {
			continue
		}
		fmt.Fprintf(&b, `<text x="%.1f" y="%.1f" text-anchor="middle">%d</text>`, xOf(m), svgMarginTop+plotH+18, m)
	}
	fmt.Fprintf(&b, `<text x="%.1f" y="%d" text-anchor="middle">%s</text>`,
		svgMarginLeft+plotW/2, height-8, html.EscapeString(XLabel))
	fmt.Fprintf(&b, `<text transform="translate(16 %.1f) rotate(-90)" text-anchor="middle">%s</text>`,
		svgMarginTop+plotH/2, html.EscapeString(YLabel))
	b.WriteString(`</g>`)

	if curve.Len() > 0 {
		var path strings.Builder
		for i := 0; i < curve.Len(); i++ {
			x, y := xOf(curve.Months[i]), yOf(curve.Survival[i])
			if i == 0 {
				fmt.Fprintf(&path, "M%.1f %.1f", x, y)
				continue
			}
			// Horizontal then vertical segment keeps the step shape.
			fmt.Fprintf(&path, " H%.1f V%.1f", x, y)
		}
		fmt.Fprintf(&b, `<path d="%s" fill="none" stroke="%s" stroke-width="2"><title>%s</title></path>`,
			path.String(), Color, SeriesName)
	}
	b.WriteString(`</svg>`)
	return b.String()
}
