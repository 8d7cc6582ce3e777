package tui

import (
	"context"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/verte-zerg/hccdfs/internal/chart"
	"github.com/verte-zerg/hccdfs/internal/cohort"
	"github.com/verte-zerg/hccdfs/internal/model"
	"github.com/verte-zerg/hccdfs/internal/predict"
	"github.com/verte-zerg/hccdfs/internal/variant"
)

type fakePredictor struct {
	calls int
	last  model.Record
	err   error
}

func (f *fakePredictor) Predict(_ context.Context, _ model.Variant, rec model.Record) (model.Curve, error) {
	f.calls++
	f.last = rec
	if f.err != nil {
		return model.Curve{}, f.err
	}
	curve := model.Curve{Months: predict.Months(model.Horizon), Survival: make([]float64, model.Horizon)}
	for i := range curve.Survival {
		curve.Survival[i] = 1 - float64(i)/100
	}
	return curve, nil
}

func newTestModel(t *testing.T, p Predictor) *Model {
	t.Helper()
	v, err := variant.NewRegistry().Lookup(variant.PostOp)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	m := NewModel(v, p, nil)
	m.Update(tea.WindowSizeMsg{Width: 200, Height: 60})
	return m
}

func press(m *Model, msg tea.KeyMsg) tea.Cmd {
	_, cmd := m.Update(msg)
	return cmd
}

func typeText(m *Model, s string) {
	for _, r := range s {
		press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func runCmd(m *Model, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	m.Update(cmd())
}

func TestNoChartBeforeTrigger(t *testing.T) {
	m := newTestModel(t, &fakePredictor{})
	out := m.View()
	if strings.Contains(out, chart.Subheader) {
		t.Fatalf("expected no chart before trigger")
	}
	if !strings.Contains(out, "Generate Plot") || !strings.Contains(out, "Input Data") {
		t.Fatalf("expected form in view:\n%s", out)
	}
	if m.State() != AwaitingTrigger {
		t.Fatalf("unexpected state: %s", m.State())
	}
}

func TestGenerateRendersChart(t *testing.T) {
	p := &fakePredictor{}
	m := newTestModel(t, p)
	cmd := press(m, tea.KeyMsg{Type: tea.KeyCtrlG})
	if cmd == nil {
		t.Fatalf("expected prediction command")
	}
	runCmd(m, cmd)
	if m.State() != Rendered {
		t.Fatalf("expected rendered state, got %s", m.State())
	}
	out := m.View()
	for _, want := range []string{chart.Subheader, chart.XLabel, chart.YLabel, "RSF"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in view", want)
		}
	}
	if !strings.Contains(strings.Join(strings.Fields(out), " "), "statistical estimate") {
		t.Fatalf("expected disclaimer in view")
	}
	defaults := variant.Defaults(m.variant)
	if fmt.Sprint(p.last) != fmt.Sprint(defaults) {
		t.Fatalf("expected default record, got %+v", p.last)
	}
}

func TestInputChangeResetsState(t *testing.T) {
	m := newTestModel(t, &fakePredictor{})
	runCmd(m, press(m, tea.KeyMsg{Type: tea.KeyCtrlG}))
	if m.State() != Rendered {
		t.Fatalf("expected rendered state")
	}
	typeText(m, "1")
	if m.State() != AwaitingTrigger {
		t.Fatalf("expected reset after input change, got %s", m.State())
	}
	if strings.Contains(m.View(), chart.Subheader) {
		t.Fatalf("expected chart hidden after input change")
	}
}

func TestStaleResultIgnored(t *testing.T) {
	m := newTestModel(t, &fakePredictor{})
	cmd := press(m, tea.KeyMsg{Type: tea.KeyCtrlG})
	typeText(m, "2")
	runCmd(m, cmd)
	if m.State() != AwaitingTrigger {
		t.Fatalf("expected stale result to be ignored, got %s", m.State())
	}
}

func TestFieldsAreClampedOnBlur(t *testing.T) {
	p := &fakePredictor{}
	m := newTestModel(t, p)
	// First field is Satellite_nodules, a binary indicator.
	press(m, tea.KeyMsg{Type: tea.KeyBackspace})
	typeText(m, "7")
	press(m, tea.KeyMsg{Type: tea.KeyTab})
	if got := m.inputs[0].Value(); got != "1" {
		t.Fatalf("expected clamped value 1, got %q", got)
	}
	runCmd(m, press(m, tea.KeyMsg{Type: tea.KeyCtrlG}))
	if v, _ := p.last.Value("Satellite_nodules"); v != 1 {
		t.Fatalf("expected clamped record value, got %v", v)
	}
}

func TestInvalidInputBlocksGenerate(t *testing.T) {
	p := &fakePredictor{}
	m := newTestModel(t, p)
	press(m, tea.KeyMsg{Type: tea.KeyBackspace})
	typeText(m, "x")
	if cmd := press(m, tea.KeyMsg{Type: tea.KeyCtrlG}); cmd != nil {
		t.Fatalf("expected no prediction for invalid input")
	}
	if p.calls != 0 {
		t.Fatalf("predictor should not be called")
	}
	if !strings.Contains(m.View(), "not a number") {
		t.Fatalf("expected field error in view")
	}
}

func TestPredictionErrorShowsKind(t *testing.T) {
	m := newTestModel(t, &fakePredictor{err: fmt.Errorf("failed to load cohort: %w", cohort.ErrCohortUnavailable)})
	runCmd(m, press(m, tea.KeyMsg{Type: tea.KeyCtrlG}))
	if m.State() != AwaitingTrigger {
		t.Fatalf("expected no chart on error")
	}
	if !strings.Contains(m.View(), "data unavailable") {
		t.Fatalf("expected error kind in view")
	}
}

func TestEnterOnButtonGenerates(t *testing.T) {
	m := newTestModel(t, &fakePredictor{})
	press(m, tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.focus != len(m.inputs) {
		t.Fatalf("expected focus on button, got %d", m.focus)
	}
	runCmd(m, press(m, tea.KeyMsg{Type: tea.KeyEnter}))
	if m.State() != Rendered {
		t.Fatalf("expected rendered state")
	}
}

func TestQuitKeys(t *testing.T) {
	m := newTestModel(t, &fakePredictor{})
	for _, key := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
		cmd := press(m, tea.KeyMsg{Type: key})
		if cmd == nil {
			t.Fatalf("expected quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected quit message")
		}
	}
}

func TestTwoColumnLayout(t *testing.T) {
	m := newTestModel(t, &fakePredictor{})
	form := m.renderForm()
	first := strings.Split(form, "\n")[0]
	if !strings.Contains(first, "Satellite nodules") {
		t.Fatalf("unexpected first row: %q", first)
	}
	var right string
	for _, c := range m.variant.Covariates {
		if c.Column == 1 {
			right = c.Label
			break
		}
	}
	if right == "" || !strings.Contains(first, right) {
		t.Fatalf("expected right column label %q on first row: %q", right, first)
	}
}
