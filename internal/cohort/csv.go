package cohort

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/verte-zerg/hccdfs/internal/model"
)

// Parse reads a delimited cohort table and validates its schema.
func Parse(r io.Reader, delimiter rune, required []string) (Cohort, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Cohort{}, fmt.Errorf("%w: empty file", ErrCohortSchema)
		}
		return Cohort{}, fmt.Errorf("%w: failed to read header: %v", ErrCohortSchema, err)
	}
	index := make(map[string]int, len(header))
	names := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := index[name]; dup {
			return Cohort{}, fmt.Errorf("%w: duplicate column %q", ErrCohortSchema, name)
		}
		index[name] = i
		names[i] = name
	}

	eventIdx, ok := index[model.EventColumn]
	if !ok {
		return Cohort{}, fmt.Errorf("%w: missing outcome column %q", ErrCohortSchema, model.EventColumn)
	}
	timeIdx, ok := index[model.TimeColumn]
	if !ok {
		return Cohort{}, fmt.Errorf("%w: missing outcome column %q", ErrCohortSchema, model.TimeColumn)
	}

	columns := required
	if len(columns) == 0 {
		columns = nil
		for _, name := range names {
			if name == model.EventColumn || name == model.TimeColumn {
				continue
			}
			columns = append(columns, name)
		}
	}
	if err := checkColumns(columns); err != nil {
		return Cohort{}, err
	}
	colIdx := make([]int, len(columns))
	for j, name := range columns {
		i, ok := index[name]
		if !ok {
			return Cohort{}, fmt.Errorf("%w: missing column %q", ErrCohortSchema, name)
		}
		colIdx[j] = i
	}

	c := Cohort{
		Columns:  append([]string(nil), columns...),
		Features: make(map[string][]float64, len(columns)),
	}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return Cohort{}, fmt.Errorf("%w: line %d: %v", ErrCohortSchema, line, err)
		}
		event, err := parseCell(record[eventIdx], line, model.EventColumn)
		if err != nil {
			return Cohort{}, err
		}
		if event != 0 && event != 1 {
			return Cohort{}, fmt.Errorf("%w: line %d: %s must be 0 or 1, got %v", ErrCohortSchema, line, model.EventColumn, event)
		}
		t, err := parseCell(record[timeIdx], line, model.TimeColumn)
		if err != nil {
			return Cohort{}, err
		}
		if t < 0 {
			return Cohort{}, fmt.Errorf("%w: line %d: %s must be >= 0, got %v", ErrCohortSchema, line, model.TimeColumn, t)
		}
		for j, name := range columns {
			v, err := parseCell(record[colIdx[j]], line, name)
			if err != nil {
				return Cohort{}, err
			}
			c.Features[name] = append(c.Features[name], v)
		}
		c.Event = append(c.Event, event == 1)
		c.Time = append(c.Time, t)
	}
	if c.Len() == 0 {
		return Cohort{}, fmt.Errorf("%w: no rows", ErrCohortSchema)
	}
	return c, nil
}

func parseCell(raw string, line int, column string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: line %d: column %s: non-numeric value %q", ErrCohortSchema, line, column, raw)
	}
	return v, nil
}

// FSLoader reads cohort files from a file system.
type FSLoader struct {
	FS    fs.FS
	Label string
}

// NewDirLoader returns a loader reading cohort files from dir.
func NewDirLoader(dir string) *FSLoader {
	return &FSLoader{FS: os.DirFS(dir), Label: dir}
}

// Load implements Loader.
func (l *FSLoader) Load(_ context.Context, v model.Variant, required []string) (Cohort, error) {
	file, err := l.FS.Open(v.CohortFile)
	if err != nil {
		return Cohort{}, fmt.Errorf("%w: failed to open %s: %v", ErrCohortUnavailable, v.CohortFile, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			// Best-effort close for read-only cohort file.
			_ = cerr
		}
	}()
	c, err := Parse(file, v.Delimiter, required)
	if err != nil {
		return Cohort{}, fmt.Errorf("failed to load %s: %w", v.CohortFile, err)
	}
	return c, nil
}

// Describe implements Loader.
func (l *FSLoader) Describe() string {
	return l.Label
}
