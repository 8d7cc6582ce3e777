package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/verte-zerg/hccdfs/internal/chart"
	"github.com/verte-zerg/hccdfs/internal/model"
	"github.com/verte-zerg/hccdfs/internal/predict"
	"github.com/verte-zerg/hccdfs/internal/variant"
)

const maxBodyBytes = 1 << 16

// Predictor produces a survival curve for a record.
type Predictor interface {
	Predict(ctx context.Context, v model.Variant, rec model.Record) (model.Curve, error)
}

// Handler serves the form pages and the JSON API.
type Handler struct {
	registry  *variant.Registry
	predictor Predictor
	logger    *zap.Logger
}

// NewHandler returns a handler over the registered variants.
func NewHandler(registry *variant.Registry, predictor Predictor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, predictor: predictor, logger: logger}
}

// Routes builds the router with the standard middleware stack.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recovery(h.logger))
	r.Use(Logger(h.logger))

	r.Get("/", h.Index)
	r.Get("/healthz", h.Health)
	r.Get("/variants/{name}", h.Form)
	r.Post("/variants/{name}/plot", h.Plot)
	r.Route("/api", func(r chi.Router) {
		r.Get("/variants", h.ListVariants)
		r.Post("/variants/{name}/predict", h.Predict)
	})
	return r
}

// Index redirects to the first registered variant.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	if len(names) == 0 {
		writeError(w, http.StatusNotFound, "no variants registered", "")
		return
	}
	http.Redirect(w, r, "/variants/"+names[0], http.StatusFound)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Form renders the empty form with defaults.
func (h *Handler) Form(w http.ResponseWriter, r *http.Request) {
	v, err := h.registry.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	h.renderPage(w, http.StatusOK, h.newPage(v, variant.Defaults(v), nil))
}

// Plot handles the form submission and renders the chart under the form.
func (h *Handler) Plot(w http.ResponseWriter, r *http.Request) {
	v, err := h.registry.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.renderPage(w, http.StatusBadRequest, h.newPage(v, variant.Defaults(v), nil).withError(predict.KindBadInput, "invalid form body"))
		return
	}

	values := make(map[string]float64, len(v.Covariates))
	p := h.newPage(v, variant.Defaults(v), nil)
	var bad []string
	for i, c := range v.Covariates {
		raw := r.PostForm.Get(c.Name)
		value, err := variant.ParseValue(c, raw)
		if err != nil {
			p.Fields[i].Value = raw
			p.Fields[i].Error = "not a number"
			bad = append(bad, c.Name)
			continue
		}
		values[c.Name] = value
	}
	if len(bad) > 0 {
		h.renderPage(w, http.StatusBadRequest, p.withError(predict.KindBadInput, fmt.Sprintf("invalid value for %v", bad)))
		return
	}
	rec, err := variant.NewRecord(v, values)
	if err != nil {
		h.renderPage(w, http.StatusBadRequest, p.withError(predict.KindBadInput, err.Error()))
		return
	}

	curve, err := h.predictor.Predict(r.Context(), v, rec)
	if err != nil {
		kind := predict.KindOf(err)
		h.logPredictError(r, v, err)
		h.renderPage(w, statusFor(kind), h.newPage(v, rec, nil).withError(kind, err.Error()))
		return
	}
	h.renderPage(w, http.StatusOK, h.newPage(v, rec, &curve))
}

type variantView struct {
	Name       string          `json:"name"`
	Title      string          `json:"title"`
	CohortFile string          `json:"cohort_file"`
	Covariates []covariateView `json:"covariates"`
}

type covariateView struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Kind    string   `json:"kind"`
	Min     float64  `json:"min"`
	Max     *float64 `json:"max,omitempty"`
	Default float64  `json:"default"`
	Integer bool     `json:"integer"`
}

// ListVariants returns every variant with its covariate panel.
func (h *Handler) ListVariants(w http.ResponseWriter, _ *http.Request) {
	out := make([]variantView, 0)
	for _, v := range h.registry.All() {
		vv := variantView{Name: v.Name, Title: v.Title, CohortFile: v.CohortFile}
		for _, c := range v.Covariates {
			cv := covariateView{Name: c.Name, Label: c.Label, Kind: c.Kind.String(), Min: c.Min, Default: c.Default, Integer: c.Integer}
			if c.HasMax {
				maxValue := c.Max
				cv.Max = &maxValue
			}
			vv.Covariates = append(vv.Covariates, cv)
		}
		out = append(out, vv)
	}
	writeJSON(w, http.StatusOK, out)
}

type predictRequest struct {
	Values map[string]float64 `json:"values"`
}

// Predict answers a JSON prediction request with the sampled curve.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	v, err := h.registry.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), predict.KindBadInput.String())
		return
	}
	var req predictRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", predict.KindBadInput.String())
		return
	}
	rec, err := variant.NewRecord(v, req.Values)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), predict.KindBadInput.String())
		return
	}
	curve, err := h.predictor.Predict(r.Context(), v, rec)
	if err != nil {
		kind := predict.KindOf(err)
		h.logPredictError(r, v, err)
		writeError(w, statusFor(kind), err.Error(), kind.String())
		return
	}
	writeJSON(w, http.StatusOK, chart.NewDocument(v.Name, curve))
}

func (h *Handler) logPredictError(r *http.Request, v model.Variant, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Warn("prediction failed",
		zap.String("variant", v.Name),
		zap.String("kind", predict.KindOf(err).String()),
		zap.String("request_id", r.Header.Get(RequestIDHeader)),
		zap.Error(err))
}

func (h *Handler) renderPage(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, p); err != nil {
		h.logger.Error("failed to render page", zap.Error(err))
	}
}

func statusFor(kind predict.Kind) int {
	switch kind {
	case predict.KindBadInput:
		return http.StatusBadRequest
	case predict.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort: the status line is already written.
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type page struct {
	Variant   model.Variant
	Variants  []model.Variant
	Fields    []field
	Subheader string
	Chart     template.HTML
	Rendered  bool
	Error     string
	ErrorKind string
	Disclaim  string
}

type field struct {
	Name   string
	Label  string
	Value  string
	Hint   string
	Min    string
	Max    string
	Step   string
	Column int
	Error  string
}

func (h *Handler) newPage(v model.Variant, rec model.Record, curve *model.Curve) page {
	p := page{
		Variant:   v,
		Variants:  h.registry.All(),
		Subheader: chart.Subheader,
		Disclaim:  chart.Disclaimer,
	}
	for i, c := range v.Covariates {
		value := c.Default
		if i < len(rec.Values) {
			value = rec.Values[i]
		}
		f := field{
			Name:   c.Name,
			Label:  c.Label,
			Value:  variant.FormatValue(c, value),
			Hint:   variant.RangeHint(c),
			Min:    variant.FormatValue(c, c.Min),
			Step:   "any",
			Column: c.Column,
		}
		if c.HasMax {
			f.Max = variant.FormatValue(c, c.Max)
		}
		if c.Integer {
			f.Step = "1"
		}
		p.Fields = append(p.Fields, f)
	}
	if curve != nil {
		p.Rendered = true
		// SVG builds its markup from numbers and escaped fixed labels.
		p.Chart = template.HTML(chart.SVG(*curve, chart.SVGOptions{}))
	}
	return p
}

func (p page) withError(kind predict.Kind, msg string) page {
	p.Error = msg
	p.ErrorKind = kind.String()
	return p
}
