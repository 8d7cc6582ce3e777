// Package tui provides the Bubble Tea prediction form.
package tui

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/verte-zerg/hccdfs/internal/chart"
	"github.com/verte-zerg/hccdfs/internal/model"
	"github.com/verte-zerg/hccdfs/internal/predict"
	"github.com/verte-zerg/hccdfs/internal/variant"
)

// State is the presentation state of the form.
type State int

const (
	// AwaitingTrigger shows only the inputs.
	AwaitingTrigger State = iota
	// Rendered shows the chart for the current inputs.
	Rendered
)

func (s State) String() string {
	if s == Rendered {
		return "rendered"
	}
	return "awaiting trigger"
}

// Predictor produces a survival curve for a record.
type Predictor interface {
	Predict(ctx context.Context, v model.Variant, rec model.Record) (model.Curve, error)
}

type predictionMsg struct {
	seq   int
	curve model.Curve
	err   error
}

const (
	predictTimeout = 2 * time.Minute
	chartHeight    = 12
)

var (
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	sectionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#B0B0B0"))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	buttonStyle    = lipgloss.NewStyle().Padding(0, 2).Border(lipgloss.RoundedBorder(), true).BorderForeground(lipgloss.Color("#4A4A4A"))
	buttonFocused  = buttonStyle.BorderForeground(lipgloss.Color("#FF0000")).Bold(true)
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	disclaimerText = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C")).Italic(true)
)

// Model implements the Bubble Tea prediction form.
type Model struct {
	variant   model.Variant
	predictor Predictor
	logger    *zap.Logger

	inputs      []textinput.Model
	fieldErrors []string
	// focus indexes inputs; len(inputs) is the Generate button.
	focus int

	state   State
	pending bool
	seq     int
	curve   model.Curve
	errMsg  string

	body   viewport.Model
	width  int
	height int
}

// NewModel constructs the form for v with every field at its default.
func NewModel(v model.Variant, predictor Predictor, logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Model{
		variant:     v,
		predictor:   predictor,
		logger:      logger,
		fieldErrors: make([]string, len(v.Covariates)),
		body:        viewport.New(0, 0),
	}
	m.inputs = make([]textinput.Model, len(v.Covariates))
	for i, c := range v.Covariates {
		m.inputs[i] = newFieldInput(c)
	}
	m.setFocus(0)
	return m
}

func newFieldInput(c model.Covariate) textinput.Model {
	input := textinput.New()
	input.Prompt = ""
	input.CharLimit = 16
	input.Width = 12
	input.Placeholder = variant.RangeHint(c)
	input.SetValue(variant.FormatValue(c, variant.Clamp(c, c.Default)))
	return input
}

// State returns the presentation state.
func (m *Model) State() State {
	return m.state
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		return m, nil
	case predictionMsg:
		m.applyPrediction(msg)
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyCtrlG:
			return m, m.generate()
		case tea.KeyTab, tea.KeyDown:
			return m, m.moveFocus(1)
		case tea.KeyShiftTab, tea.KeyUp:
			return m, m.moveFocus(-1)
		case tea.KeyEnter:
			if m.focus == len(m.inputs) {
				return m, m.generate()
			}
			return m, m.moveFocus(1)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.body, cmd = m.body.Update(msg)
			return m, cmd
		}
		if m.focus < len(m.inputs) {
			before := m.inputs[m.focus].Value()
			var cmd tea.Cmd
			m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
			if m.inputs[m.focus].Value() != before {
				m.fieldErrors[m.focus] = ""
				m.invalidate()
			}
			return m, cmd
		}
		return m, nil
	default:
		if m.focus < len(m.inputs) {
			var cmd tea.Cmd
			m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
			return m, cmd
		}
		return m, nil
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	content := m.renderContent()
	if m.width == 0 || m.height == 0 {
		return content + "\n" + m.renderFooter()
	}
	m.body.SetContent(content)
	return fitLines(m.body.View(), m.width, m.height-1) + "\n" + m.renderFooter()
}

// invalidate drops any rendered chart; in-flight results become stale.
func (m *Model) invalidate() {
	m.state = AwaitingTrigger
	m.curve = model.Curve{}
	m.errMsg = ""
	m.pending = false
	m.seq++
}

func (m *Model) generate() tea.Cmd {
	rec, err := m.record()
	if err != nil {
		m.errMsg = err.Error()
		return nil
	}
	m.invalidate()
	m.pending = true
	seq := m.seq
	v := m.variant
	predictor := m.predictor
	logger := m.logger
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), predictTimeout)
		defer cancel()
		start := time.Now()
		curve, err := predictor.Predict(ctx, v, rec)
		if err != nil {
			logger.Warn("prediction failed", zap.String("variant", v.Name), zap.Error(err))
		} else {
			logger.Debug("prediction ready", zap.String("variant", v.Name), zap.Duration("elapsed", time.Since(start)))
		}
		return predictionMsg{seq: seq, curve: curve, err: err}
	}
}

func (m *Model) applyPrediction(msg predictionMsg) {
	if msg.seq != m.seq {
		return
	}
	m.pending = false
	if msg.err != nil {
		m.errMsg = fmt.Sprintf("%s: %v", predict.KindOf(msg.err), msg.err)
		return
	}
	m.curve = msg.curve
	m.state = Rendered
}

// record parses every field, clamps it to its widget range and builds the record.
func (m *Model) record() (model.Record, error) {
	values := make(map[string]float64, len(m.inputs))
	var invalid []string
	for i, c := range m.variant.Covariates {
		value, err := variant.ParseValue(c, m.inputs[i].Value())
		if err != nil {
			m.fieldErrors[i] = "not a number"
			invalid = append(invalid, c.Name)
			continue
		}
		m.fieldErrors[i] = ""
		values[c.Name] = value
	}
	if len(invalid) > 0 {
		return model.Record{}, fmt.Errorf("invalid value for %s", strings.Join(invalid, ", "))
	}
	return variant.NewRecord(m.variant, values)
}

func (m *Model) moveFocus(delta int) tea.Cmd {
	m.commitField(m.focus)
	count := len(m.inputs) + 1
	next := (m.focus + delta + count) % count
	return m.setFocus(next)
}

// commitField rewrites a field with its clamped value, like a number widget on blur.
func (m *Model) commitField(i int) {
	if i < 0 || i >= len(m.inputs) {
		return
	}
	c := m.variant.Covariates[i]
	value, err := variant.ParseValue(c, m.inputs[i].Value())
	if err != nil {
		m.fieldErrors[i] = "not a number"
		return
	}
	m.fieldErrors[i] = ""
	m.inputs[i].SetValue(variant.FormatValue(c, variant.Clamp(c, value)))
}

func (m *Model) setFocus(idx int) tea.Cmd {
	m.focus = idx
	var cmd tea.Cmd
	for i := range m.inputs {
		if i == idx {
			cmd = m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
	return cmd
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	m.body.Width = m.width
	m.body.Height = maxInt(1, m.height-1)
}

func (m *Model) renderContent() string {
	var b strings.Builder
	title := m.variant.Title
	if title == "" {
		title = chart.Title
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")
	b.WriteString(sectionStyle.Render("Input Data"))
	b.WriteString("\n")
	b.WriteString(m.renderForm())
	b.WriteString("\n")
	if m.focus == len(m.inputs) {
		b.WriteString(buttonFocused.Render("Generate Plot"))
	} else {
		b.WriteString(buttonStyle.Render("Generate Plot"))
	}
	b.WriteString("\n")
	switch {
	case m.pending:
		b.WriteString(hintStyle.Render("Fitting model..."))
		b.WriteString("\n")
	case m.errMsg != "":
		b.WriteString(errorStyle.Render(m.errMsg))
		b.WriteString("\n")
	}
	if m.state == Rendered {
		b.WriteString("\n")
		b.WriteString(m.renderResult())
	}
	return b.String()
}

func (m *Model) renderResult() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(chart.Subheader))
	b.WriteString("\n")
	width := 0
	if m.width > 0 {
		width = chart.PlotWidthFor(m.width - 1)
	}
	var plot bytes.Buffer
	if err := chart.Plot(&plot, m.curve, chart.PlotOptions{Width: width, Height: chartHeight, ForceColor: true}); err != nil {
		m.logger.Warn("failed to render chart", zap.Error(err))
	}
	b.WriteString(plot.String())
	disclaimerWidth := m.width - 2
	if disclaimerWidth < 20 {
		disclaimerWidth = 78
	}
	b.WriteString(disclaimerText.Width(disclaimerWidth).Render(chart.Disclaimer))
	return b.String()
}

func (m *Model) renderFooter() string {
	help := fmt.Sprintf("tab/shift+tab: next field  ctrl+g: generate plot  pgup/pgdn: scroll  esc: quit  [%s]", m.variant.Name)
	return footerStyle.Render(truncateLine(help, m.width))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
