package cohort

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/verte-zerg/hccdfs/internal/model"

	_ "modernc.org/sqlite" // SQLite driver.
)

// Store is the SQLite cohort catalogue. Cohorts are imported once and loaded
// back with a column-projected query.
type Store struct {
	db   *sql.DB
	path string
}

// Imported describes a cohort held in the catalogue.
type Imported struct {
	Variant    string
	Source     string
	ImportedAt time.Time
	Rows       int
	Events     int
}

// OpenStore opens or creates the SQLite catalogue and applies migrations.
func OpenStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		if cerr := db.Close(); cerr != nil {
			// Best-effort close on migration failure.
			_ = cerr
		}
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cohorts (
			variant TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			imported_at TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			event_count INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cohort_outcomes (
			variant TEXT NOT NULL,
			row_idx INTEGER NOT NULL,
			event INTEGER NOT NULL,
			delay REAL NOT NULL,
			PRIMARY KEY (variant, row_idx)
		);`,
		`CREATE TABLE IF NOT EXISTS cohort_values (
			variant TEXT NOT NULL,
			row_idx INTEGER NOT NULL,
			column_name TEXT NOT NULL,
			value REAL NOT NULL,
			PRIMARY KEY (variant, column_name, row_idx)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Import replaces the catalogue entry of variant with c.
func (s *Store) Import(ctx context.Context, variant, source string, c Cohort) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				// Best-effort rollback.
				_ = rerr
			}
		}
	}()

	for _, table := range []string{"cohorts", "cohort_outcomes", "cohort_values"} {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE variant = ?`, variant); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO cohorts (variant, source, imported_at, row_count, event_count) VALUES (?, ?, ?, ?, ?)`,
		variant, source, time.Now().UTC().Format(time.RFC3339Nano), c.Len(), c.Events(),
	); err != nil {
		return err
	}

	outStmt, err := tx.PrepareContext(ctx, `INSERT INTO cohort_outcomes (variant, row_idx, event, delay) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := outStmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()
	valStmt, err := tx.PrepareContext(ctx, `INSERT INTO cohort_values (variant, row_idx, column_name, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := valStmt.Close(); cerr != nil {
			// Best-effort statement close.
			_ = cerr
		}
	}()

	for i := 0; i < c.Len(); i++ {
		event := 0
		if c.Event[i] {
			event = 1
		}
		if _, err = outStmt.ExecContext(ctx, variant, i, event, c.Time[i]); err != nil {
			return err
		}
		for _, name := range c.Columns {
			if _, err = valStmt.ExecContext(ctx, variant, i, name, c.Features[name][i]); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// List returns the catalogue entries.
func (s *Store) List(ctx context.Context) ([]Imported, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT variant, source, imported_at, row_count, event_count FROM cohorts ORDER BY variant`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()

	var result []Imported
	for rows.Next() {
		var item Imported
		var importedAt string
		if err := rows.Scan(&item.Variant, &item.Source, &importedAt, &item.Rows, &item.Events); err != nil {
			return nil, err
		}
		parsed, err := time.Parse(time.RFC3339Nano, importedAt)
		if err != nil {
			return nil, err
		}
		item.ImportedAt = parsed
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Load implements Loader over the catalogue.
func (s *Store) Load(ctx context.Context, v model.Variant, required []string) (Cohort, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT row_count FROM cohorts WHERE variant = ?`, v.Name).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return Cohort{}, fmt.Errorf("%w: variant %s not imported (run: hccdfs cohort import --variant %s)", ErrCohortUnavailable, v.Name, v.Name)
	}
	if err != nil {
		return Cohort{}, fmt.Errorf("%w: %v", ErrCohortUnavailable, err)
	}

	c := Cohort{
		Event: make([]bool, n),
		Time:  make([]float64, n),
	}
	if err := s.loadOutcomes(ctx, v.Name, &c); err != nil {
		return Cohort{}, unavailable(err)
	}
	columns := required
	if len(columns) == 0 {
		columns, err = s.columns(ctx, v.Name)
		if err != nil {
			return Cohort{}, unavailable(err)
		}
	}
	if err := checkColumns(columns); err != nil {
		return Cohort{}, err
	}
	c.Columns = append([]string(nil), columns...)
	c.Features = make(map[string][]float64, len(columns))
	for _, name := range columns {
		c.Features[name] = make([]float64, n)
	}
	seen, err := s.loadValues(ctx, v.Name, columns, &c)
	if err != nil {
		return Cohort{}, unavailable(err)
	}
	for _, name := range columns {
		if seen[name] != n {
			return Cohort{}, fmt.Errorf("%w: missing column %q in catalogue", ErrCohortSchema, name)
		}
	}
	return c, nil
}

// unavailable marks driver errors as an unavailable cohort. Schema errors pass through.
func unavailable(err error) error {
	if errors.Is(err, ErrCohortSchema) || errors.Is(err, ErrCohortUnavailable) {
		return err
	}
	return fmt.Errorf("%w: failed to load cohort: %v", ErrCohortUnavailable, err)
}

func (s *Store) loadOutcomes(ctx context.Context, variant string, c *Cohort) error {
	rows, err := s.db.QueryContext(ctx, `SELECT row_idx, event, delay FROM cohort_outcomes WHERE variant = ?`, variant)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	for rows.Next() {
		var idx, event int
		var t float64
		if err := rows.Scan(&idx, &event, &t); err != nil {
			return err
		}
		if idx < 0 || idx >= len(c.Time) {
			return fmt.Errorf("%w: row %d out of range", ErrCohortSchema, idx)
		}
		c.Event[idx] = event == 1
		c.Time[idx] = t
	}
	return rows.Err()
}

func (s *Store) columns(ctx context.Context, variant string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT column_name FROM cohort_values WHERE variant = ? AND row_idx = 0 ORDER BY rowid`, variant)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) loadValues(ctx context.Context, variant string, columns []string, c *Cohort) (map[string]int, error) {
	seen := make(map[string]int, len(columns))
	if len(columns) == 0 {
		return seen, nil
	}
	placeholders := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	args = append(args, variant)
	for i, name := range columns {
		placeholders[i] = "?"
		args = append(args, name)
	}
	query := fmt.Sprintf(`SELECT row_idx, column_name, value FROM cohort_values
		WHERE variant = ? AND column_name IN (%s)`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			// Best-effort rows close.
			_ = cerr
		}
	}()
	for rows.Next() {
		var idx int
		var name string
		var value float64
		if err := rows.Scan(&idx, &name, &value); err != nil {
			return nil, err
		}
		col, ok := c.Features[name]
		if !ok || idx < 0 || idx >= len(col) {
			return nil, fmt.Errorf("%w: unexpected cell %s[%d]", ErrCohortSchema, name, idx)
		}
		col[idx] = value
		seen[name]++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return seen, nil
}

// Describe implements Loader.
func (s *Store) Describe() string {
	return "sqlite:" + s.path
}
