// Package predict runs the load, fit and predict pipeline for a variant.
package predict

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/verte-zerg/hccdfs/internal/cohort"
	"github.com/verte-zerg/hccdfs/internal/forest"
	"github.com/verte-zerg/hccdfs/internal/model"
)

// Months returns the sampling points 1..horizon.
func Months(horizon int) []int {
	months := make([]int, horizon)
	for i := range months {
		months[i] = i + 1
	}
	return months
}

// Sample evaluates fn at months 1..horizon.
func Sample(fn forest.StepFunction, horizon int) model.Curve {
	months := Months(horizon)
	curve := model.Curve{Months: months, Survival: make([]float64, len(months))}
	for i, m := range months {
		curve.Survival[i] = fn.At(float64(m))
	}
	return curve
}

// Fit loads the cohort of v restricted to columns and fits a forest on it.
func Fit(ctx context.Context, loader cohort.Loader, v model.Variant, columns []string, params model.ForestParams) (*forest.Forest, error) {
	c, err := loader.Load(ctx, v, columns)
	if err != nil {
		return nil, fmt.Errorf("failed to load cohort for %s: %w", v.Name, err)
	}
	rows, err := c.Rows(columns)
	if err != nil {
		return nil, fmt.Errorf("failed to project cohort for %s: %w", v.Name, err)
	}
	f, err := forest.Fit(ctx, forest.Dataset{
		Features: columns,
		X:        rows,
		Event:    c.Event,
		Time:     c.Time,
	}, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fit %s: %w", v.Name, err)
	}
	return f, nil
}

// Service predicts curves and keeps one fitted forest per variant, cohort
// source and hyperparameter set. It is safe for concurrent use.
type Service struct {
	loader  cohort.Loader
	params  model.ForestParams
	horizon int
	logger  *zap.Logger

	mu     sync.RWMutex
	models map[string]*forest.Forest
	group  singleflight.Group
}

// NewService returns a service fitting with params against loader.
func NewService(loader cohort.Loader, params model.ForestParams, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		loader:  loader,
		params:  params,
		horizon: model.Horizon,
		logger:  logger,
		models:  map[string]*forest.Forest{},
	}
}

// Source describes the cohort source the service fits against.
func (s *Service) Source() string {
	return s.loader.Describe()
}

// Predict returns the survival curve of rec under variant v.
func (s *Service) Predict(ctx context.Context, v model.Variant, rec model.Record) (model.Curve, error) {
	if len(rec.Names) == 0 || len(rec.Names) != len(rec.Values) {
		return model.Curve{}, fmt.Errorf("%w: record has %d names and %d values", ErrBadInput, len(rec.Names), len(rec.Values))
	}
	f, err := s.Model(ctx, v, rec.Names)
	if err != nil {
		return model.Curve{}, err
	}
	fn, err := f.PredictRecord(rec.Names, rec.Values)
	if err != nil {
		return model.Curve{}, fmt.Errorf("failed to predict %s: %w", v.Name, err)
	}
	return Sample(fn, s.horizon), nil
}

// Model returns the cached forest for v fitted on columns, fitting it on first use.
// Concurrent first calls share one fit.
func (s *Service) Model(ctx context.Context, v model.Variant, columns []string) (*forest.Forest, error) {
	key := s.key(v, columns)
	s.mu.RLock()
	f, ok := s.models[key]
	s.mu.RUnlock()
	if ok {
		return f, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		// The fit outlives the first caller so later callers can reuse it.
		fitCtx := context.WithoutCancel(ctx)
		start := time.Now()
		f, err := Fit(fitCtx, s.loader, v, columns, s.params)
		if err != nil {
			s.logger.Warn("fit failed",
				zap.String("variant", v.Name),
				zap.String("source", s.loader.Describe()),
				zap.Error(err))
			return nil, err
		}
		s.logger.Info("forest fitted",
			zap.String("variant", v.Name),
			zap.String("source", s.loader.Describe()),
			zap.Int("trees", f.Trees()),
			zap.Int("leaves", f.Leaves()),
			zap.Int("event_times", len(f.EventTimes())),
			zap.Duration("elapsed", time.Since(start)))
		s.mu.Lock()
		s.models[key] = f
		s.mu.Unlock()
		return f, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*forest.Forest), nil
	}
}

// Cached reports how many fitted forests the service holds.
func (s *Service) Cached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

func (s *Service) key(v model.Variant, columns []string) string {
	p := s.params
	// Worker count does not change the fitted forest.
	p.Workers = 0
	return fmt.Sprintf("%s|%s|%s|%+v", v.Name, s.loader.Describe(), strings.Join(columns, ","), p)
}
