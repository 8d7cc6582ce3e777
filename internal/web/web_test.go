package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/verte-zerg/hccdfs/internal/chart"
	"github.com/verte-zerg/hccdfs/internal/cohort"
	"github.com/verte-zerg/hccdfs/internal/forest"
	"github.com/verte-zerg/hccdfs/internal/model"
	"github.com/verte-zerg/hccdfs/internal/predict"
	"github.com/verte-zerg/hccdfs/internal/variant"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubPredictor struct {
	err  error
	last model.Record
}

func (s *stubPredictor) Predict(_ context.Context, _ model.Variant, rec model.Record) (model.Curve, error) {
	s.last = rec
	if s.err != nil {
		return model.Curve{}, s.err
	}
	curve := model.Curve{Months: predict.Months(model.Horizon), Survival: make([]float64, model.Horizon)}
	for i := range curve.Survival {
		curve.Survival[i] = 0.9
	}
	return curve, nil
}

func newTestHandler(t *testing.T, p Predictor) http.Handler {
	t.Helper()
	return NewHandler(variant.NewRegistry(), p, zaptest.NewLogger(t)).Routes()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestIndexRedirectsToFirstVariant(t *testing.T) {
	rec := do(t, newTestHandler(t, &stubPredictor{}), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/variants/postop", rec.Header().Get("Location"))
}

func TestFormHasNoChart(t *testing.T) {
	rec := do(t, newTestHandler(t, &stubPredictor{}), httptest.NewRequest(http.MethodGet, "/variants/prepostop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `name="Preop_albumin"`)
	assert.Contains(t, body, "Generate Plot")
	assert.NotContains(t, body, "<svg")

	rec = do(t, newTestHandler(t, &stubPredictor{}), httptest.NewRequest(http.MethodGet, "/variants/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlotRendersChart(t *testing.T) {
	p := &stubPredictor{}
	rec := do(t, newTestHandler(t, p), postForm("/variants/postop/plot", url.Values{
		"Preop_AFP":         {"250"},
		"Satellite_nodules": {"3"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<svg")
	assert.Contains(t, body, chart.Subheader)
	assert.Contains(t, body, `stroke="#FF0000"`)
	assert.Contains(t, body, chart.XLabel)
	assert.Contains(t, body, "statistical estimate")

	afp, _ := p.last.Value("Preop_AFP")
	assert.Equal(t, 250.0, afp)
	sat, _ := p.last.Value("Satellite_nodules")
	assert.Equal(t, 1.0, sat, "binary field is clamped")
	size, _ := p.last.Value("Largest_nodule_diameter")
	assert.Equal(t, 10.0, size, "missing field keeps its default")
}

func TestPlotStatusByKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "unavailable", err: fmt.Errorf("load: %w", cohort.ErrCohortUnavailable), want: http.StatusServiceUnavailable},
		{name: "schema", err: fmt.Errorf("load: %w", cohort.ErrCohortSchema), want: http.StatusServiceUnavailable},
		{name: "model", err: fmt.Errorf("fit: %w", forest.ErrFit), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, newTestHandler(t, &stubPredictor{err: tc.err}), postForm("/variants/postop/plot", url.Values{}))
			assert.Equal(t, tc.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "<svg")
		})
	}
}

func TestPlotRejectsNonNumeric(t *testing.T) {
	p := &stubPredictor{}
	rec := do(t, newTestHandler(t, p), postForm("/variants/postop/plot", url.Values{"Preop_AFP": {"lots"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not a number")
	assert.Empty(t, p.last.Names, "predictor must not run")
}

func TestAPIListVariants(t *testing.T) {
	rec := do(t, newTestHandler(t, &stubPredictor{}), httptest.NewRequest(http.MethodGet, "/api/variants", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out []variantView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "postop", out[0].Name)
	assert.Len(t, out[0].Covariates, 10)
	assert.Len(t, out[1].Covariates, 9)
}

func TestAPIPredict(t *testing.T) {
	h := newTestHandler(t, &stubPredictor{})
	req := httptest.NewRequest(http.MethodPost, "/api/variants/postop/predict", strings.NewReader(`{"values":{"Gender":1}}`))
	rec := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc chart.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "RSF", doc.Series)
	assert.Len(t, doc.Points, model.Horizon)

	req = httptest.NewRequest(http.MethodPost, "/api/variants/postop/predict", strings.NewReader(`{"values":{"Age":40}}`))
	rec = do(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown covariate")

	req = httptest.NewRequest(http.MethodPost, "/api/variants/postop/predict", strings.NewReader(`{`))
	rec = do(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/variants/other/predict", strings.NewReader(`{}`))
	rec = do(t, h, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIPredictWithFittedForest(t *testing.T) {
	params := model.DefaultForestParams()
	params.Trees = 20
	svc := predict.NewService(cohort.NewBundledLoader(), params, zaptest.NewLogger(t))
	h := newTestHandler(t, svc)
	req := httptest.NewRequest(http.MethodPost, "/api/variants/prepostop/predict", strings.NewReader(`{"values":{"Cirrhosis":1}}`))
	rec := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var doc chart.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	require.Len(t, doc.Points, model.Horizon)
	for i := 1; i < len(doc.Points); i++ {
		assert.LessOrEqual(t, doc.Points[i].Survival, doc.Points[i-1].Survival)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	h := newTestHandler(t, &stubPredictor{})
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, id)
	rec = do(t, h, req)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Recovery(zaptest.NewLogger(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(ln.Addr().String(), newTestHandler(t, &stubPredictor{}), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
