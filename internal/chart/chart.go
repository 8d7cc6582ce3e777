// Package chart renders survival curves for terminals, browsers and scripts.
package chart

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/verte-zerg/hccdfs/internal/model"
)

// Fixed presentation of the prediction.
const (
	Title      = "Disease-free survival prediction after liver resection for hepatocellular carcinoma"
	Subheader  = "Survival prediction using Random Survival Forest"
	SeriesName = "RSF"
	XLabel     = "Time in months"
	YLabel     = "Survival Probability"
	Color      = "#FF0000"
	Disclaimer = "This curve is a statistical estimate from a model fitted on a historical cohort. " +
		"It does not replace clinical judgement and must not be used as the sole basis for treatment decisions."
)

// Point is one sampled month.
type Point struct {
	Month    int     `json:"month"`
	Survival float64 `json:"survival"`
}

// Document is the machine-readable form of a rendered prediction.
type Document struct {
	Variant string  `json:"variant"`
	Series  string  `json:"series"`
	XLabel  string  `json:"x_label"`
	YLabel  string  `json:"y_label"`
	Color   string  `json:"color"`
	Points  []Point `json:"points"`
}

// Points pairs months with survival values.
func Points(curve model.Curve) []Point {
	points := make([]Point, curve.Len())
	for i := range points {
		points[i] = Point{Month: curve.Months[i], Survival: curve.Survival[i]}
	}
	return points
}

// NewDocument wraps curve with the fixed chart metadata.
func NewDocument(variantName string, curve model.Curve) Document {
	return Document{
		Variant: variantName,
		Series:  SeriesName,
		XLabel:  XLabel,
		YLabel:  YLabel,
		Color:   Color,
		Points:  Points(curve),
	}
}

// WriteJSON writes the prediction as indented JSON.
func WriteJSON(w io.Writer, variantName string, curve model.Curve) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(variantName, curve)); err != nil {
		return fmt.Errorf("failed to encode curve: %w", err)
	}
	return nil
}
