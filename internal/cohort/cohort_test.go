package cohort

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/verte-zerg/hccdfs/internal/model"
)

const supersetCSV = `Patient_ID,Age,Gender,Preop_AFP,DFS,DFS_Delay
1,60,1,3.5,1,12.0
2,45,0,120,0,40.5
3,70,1,8,1,3
`

const projectedCSV = `Gender,Preop_AFP,DFS,DFS_Delay
1,3.5,1,12.0
0,120,0,40.5
1,8,1,3
`

func TestParseAllColumns(t *testing.T) {
	c, err := Parse(strings.NewReader(supersetCSV), ',', nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", c.Len())
	}
	wantCols := []string{"Patient_ID", "Age", "Gender", "Preop_AFP"}
	if !reflect.DeepEqual(c.Columns, wantCols) {
		t.Fatalf("unexpected columns: %v", c.Columns)
	}
	if c.Events() != 2 {
		t.Fatalf("expected 2 events, got %d", c.Events())
	}
	if c.Time[1] != 40.5 {
		t.Fatalf("unexpected time: %v", c.Time)
	}
}

func TestSelectMatchesProjectedFile(t *testing.T) {
	required := []string{"Gender", "Preop_AFP"}
	full, err := Parse(strings.NewReader(supersetCSV), ',', nil)
	if err != nil {
		t.Fatalf("parse superset: %v", err)
	}
	selected, err := full.Select(required)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	restricted, err := Parse(strings.NewReader(supersetCSV), ',', required)
	if err != nil {
		t.Fatalf("parse restricted: %v", err)
	}
	direct, err := Parse(strings.NewReader(projectedCSV), ',', nil)
	if err != nil {
		t.Fatalf("parse projected: %v", err)
	}
	if !reflect.DeepEqual(selected, direct) {
		t.Fatalf("select differs from direct load:\n%+v\n%+v", selected, direct)
	}
	if !reflect.DeepEqual(restricted, direct) {
		t.Fatalf("restricted load differs from direct load:\n%+v\n%+v", restricted, direct)
	}
}

func TestParseSemicolon(t *testing.T) {
	data := strings.ReplaceAll(projectedCSV, ",", ";")
	c, err := Parse(strings.NewReader(data), ';', nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := c.Features["Preop_AFP"]; !reflect.DeepEqual(got, []float64{3.5, 120, 8}) {
		t.Fatalf("unexpected values: %v", got)
	}
}

func TestParseSchemaErrors(t *testing.T) {
	cases := map[string]struct {
		data     string
		required []string
	}{
		"empty":           {data: ""},
		"missing event":   {data: "Gender,DFS_Delay\n1,3\n"},
		"missing time":    {data: "Gender,DFS\n1,1\n"},
		"missing column":  {data: projectedCSV, required: []string{"Cirrhosis"}},
		"non numeric":     {data: "Gender,DFS,DFS_Delay\nM,1,3\n"},
		"bad event":       {data: "Gender,DFS,DFS_Delay\n1,2,3\n"},
		"negative time":   {data: "Gender,DFS,DFS_Delay\n1,1,-3\n"},
		"no rows":         {data: "Gender,DFS,DFS_Delay\n"},
		"ragged row":      {data: "Gender,DFS,DFS_Delay\n1,1\n"},
		"duplicate field": {data: "Gender,Gender,DFS,DFS_Delay\n1,1,1,3\n"},
		"required twice":  {data: projectedCSV, required: []string{"Gender", "Preop_AFP", "Gender"}},
	}
	for name, tc := range cases {
		_, err := Parse(strings.NewReader(tc.data), ',', tc.required)
		if !errors.Is(err, ErrCohortSchema) {
			t.Fatalf("%s: expected ErrCohortSchema, got %v", name, err)
		}
	}
}

func TestDirLoaderMissingFile(t *testing.T) {
	loader := NewDirLoader(t.TempDir())
	v := model.Variant{Name: "x", CohortFile: "missing.csv", Delimiter: ','}
	_, err := loader.Load(context.Background(), v, nil)
	if !errors.Is(err, ErrCohortUnavailable) {
		t.Fatalf("expected ErrCohortUnavailable, got %v", err)
	}
}

func TestBundledCohorts(t *testing.T) {
	loader := NewBundledLoader()
	cases := []struct {
		file      string
		delimiter rune
		required  []string
	}{
		{file: "hcc_dataset.csv", delimiter: ',', required: []string{"Satellite_nodules", "Largest_nodule_diameter", "Preop_AFP", "Gender"}},
		{file: "hcc_pre_postoperative.csv", delimiter: ';', required: []string{"Cirrhosis", "Preop_albumin"}},
	}
	for _, tc := range cases {
		v := model.Variant{Name: tc.file, CohortFile: tc.file, Delimiter: tc.delimiter}
		c, err := loader.Load(context.Background(), v, tc.required)
		if err != nil {
			t.Fatalf("load %s: %v", tc.file, err)
		}
		if c.Len() < 100 {
			t.Fatalf("%s: expected a realistic cohort, got %d rows", tc.file, c.Len())
		}
		if c.Events() == 0 || c.Events() == c.Len() {
			t.Fatalf("%s: expected a mix of events and censoring, got %d/%d", tc.file, c.Events(), c.Len())
		}
	}
}

func TestRows(t *testing.T) {
	c, err := Parse(strings.NewReader(projectedCSV), ',', nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rows, err := c.Rows([]string{"Preop_AFP", "Gender"})
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if !reflect.DeepEqual(rows[1], []float64{120, 0}) {
		t.Fatalf("unexpected row: %v", rows[1])
	}
	if _, err := c.Rows([]string{"Age"}); !errors.Is(err, ErrCohortSchema) {
		t.Fatalf("expected ErrCohortSchema, got %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	st, err := OpenStore(filepath.Join(t.TempDir(), "cohorts.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	ctx := context.Background()
	full, err := Parse(strings.NewReader(supersetCSV), ',', nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := st.Import(ctx, "demo", "superset.csv", full); err != nil {
		t.Fatalf("import: %v", err)
	}
	// Re-import replaces the previous entry.
	if err := st.Import(ctx, "demo", "superset.csv", full); err != nil {
		t.Fatalf("re-import: %v", err)
	}

	v := model.Variant{Name: "demo"}
	all, err := st.Load(ctx, v, nil)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if !reflect.DeepEqual(all, full) {
		t.Fatalf("round trip differs:\n%+v\n%+v", all, full)
	}

	projected, err := st.Load(ctx, v, []string{"Gender", "Preop_AFP"})
	if err != nil {
		t.Fatalf("load projected: %v", err)
	}
	direct, err := Parse(strings.NewReader(projectedCSV), ',', nil)
	if err != nil {
		t.Fatalf("parse projected: %v", err)
	}
	if !reflect.DeepEqual(projected, direct) {
		t.Fatalf("projected load differs:\n%+v\n%+v", projected, direct)
	}

	if _, err := st.Load(ctx, v, []string{"Cirrhosis"}); !errors.Is(err, ErrCohortSchema) {
		t.Fatalf("expected ErrCohortSchema, got %v", err)
	}
	if _, err := st.Load(ctx, model.Variant{Name: "other"}, nil); !errors.Is(err, ErrCohortUnavailable) {
		t.Fatalf("expected ErrCohortUnavailable, got %v", err)
	}

	entries, err := st.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Rows != 3 || entries[0].Events != 2 {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestStoreLoadDriverErrorIsUnavailable(t *testing.T) {
	st, err := OpenStore(filepath.Join(t.TempDir(), "cohorts.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	ctx := context.Background()
	full, err := Parse(strings.NewReader(supersetCSV), ',', nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := st.Import(ctx, "demo", "superset.csv", full); err != nil {
		t.Fatalf("import: %v", err)
	}
	v := model.Variant{Name: "demo"}
	if _, err := st.Load(ctx, v, []string{"Gender", "Gender"}); !errors.Is(err, ErrCohortSchema) {
		t.Fatalf("expected ErrCohortSchema for a repeated column, got %v", err)
	}

	if _, err := st.db.ExecContext(ctx, `DROP TABLE cohort_values`); err != nil {
		t.Fatalf("drop values: %v", err)
	}
	if _, err := st.Load(ctx, v, []string{"Gender"}); !errors.Is(err, ErrCohortUnavailable) {
		t.Fatalf("expected ErrCohortUnavailable, got %v", err)
	}
	if _, err := st.db.ExecContext(ctx, `DROP TABLE cohort_outcomes`); err != nil {
		t.Fatalf("drop outcomes: %v", err)
	}
	if _, err := st.Load(ctx, v, nil); !errors.Is(err, ErrCohortUnavailable) {
		t.Fatalf("expected ErrCohortUnavailable, got %v", err)
	}
}
