// Package main provides the CLI entrypoint for hccdfs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/hccdfs/internal/chart"
	"github.com/verte-zerg/hccdfs/internal/cohort"
	"github.com/verte-zerg/hccdfs/internal/config"
	"github.com/verte-zerg/hccdfs/internal/logging"
	"github.com/verte-zerg/hccdfs/internal/model"
	"github.com/verte-zerg/hccdfs/internal/predict"
	"github.com/verte-zerg/hccdfs/internal/tui"
	"github.com/verte-zerg/hccdfs/internal/variant"
	"github.com/verte-zerg/hccdfs/internal/web"
)

const (
	defaultVariant = variant.PostOp
	defaultAddr    = ":8501"
	defaultFormat  = "plot"
)

var (
	variantName string
	cohortDir   string
	fromDB      bool
	dbPath      string
	debug       bool
	trees       int
	seed        int64
	workers     int

	predictSets   []string
	predictFormat string
	predictWidth  int

	serveAddr string
	serveWarm bool

	importFile string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaults := model.DefaultForestParams()
	rootCmd := &cobra.Command{
		Use:           "hccdfs",
		Short:         "HCC disease-free survival prediction",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runFormCmd,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&variantName, "variant", defaultVariant, "model variant (postop, prepostop)")
	flags.StringVar(&cohortDir, "cohort", "", "directory with cohort CSV files (default: bundled cohorts)")
	flags.BoolVar(&fromDB, "from-db", false, "load cohorts from the imported catalogue")
	flags.StringVar(&dbPath, "db", config.DefaultDBPath(), "cohort catalogue path")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
	flags.IntVar(&trees, "trees", defaults.Trees, "number of trees in the forest")
	flags.Int64Var(&seed, "seed", defaults.Seed, "random seed for the forest")
	flags.IntVar(&workers, "workers", 0, "parallel tree builders (default: GOMAXPROCS)")

	rootCmd.AddCommand(newPredictCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVariantsCmd())
	rootCmd.AddCommand(newCohortCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

// settings is the resolved configuration after file, environment and flags.
type settings struct {
	file     config.FileConfig
	params   model.ForestParams
	registry *variant.Registry
}

func loadSettings(cmd *cobra.Command) (settings, error) {
	fileCfg, env, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return settings{}, fmt.Errorf("failed to load config: %w", err)
	}
	if env.Variant != "" && !cmd.Flags().Changed("variant") {
		variantName = env.Variant
	}
	applyConfig(cmd, "cohort", &cohortDir, fileCfg.Cohort.Dir)
	applyConfig(cmd, "from-db", &fromDB, fileCfg.Cohort.FromDB)
	applyConfig(cmd, "db", &dbPath, fileCfg.Cohort.DB)
	applyConfig(cmd, "debug", &debug, fileCfg.Log.Debug)
	applyConfig(cmd, "trees", &trees, fileCfg.Forest.Trees)
	applyConfig(cmd, "seed", &seed, fileCfg.Forest.Seed)
	applyConfig(cmd, "workers", &workers, fileCfg.Forest.Workers)

	params := fileCfg.ForestParams()
	params.Trees = trees
	params.Seed = seed
	params.Workers = workers
	if err := validateParams(params); err != nil {
		return settings{}, err
	}

	extra, err := fileCfg.ModelVariants()
	if err != nil {
		return settings{}, fmt.Errorf("invalid config: %w", err)
	}
	return settings{file: fileCfg, params: params, registry: variant.NewRegistry(extra...)}, nil
}

func validateParams(p model.ForestParams) error {
	if p.Trees <= 0 {
		return fmt.Errorf("--trees must be > 0")
	}
	if p.Workers < 0 {
		return fmt.Errorf("--workers must be >= 0")
	}
	if p.MaxDepth < 0 {
		return fmt.Errorf("max-depth must be >= 0")
	}
	return nil
}

// openLoader picks the cohort source. The returned close func is never nil.
func openLoader() (cohort.Loader, func(), error) {
	switch {
	case fromDB:
		st, err := cohort.OpenStore(dbPath)
		if err != nil {
			return nil, func() {}, fmt.Errorf("failed to open db: %w", err)
		}
		return st, func() {
			if cerr := st.Close(); cerr != nil {
				logErrf("failed to close db: %v\n", cerr)
			}
		}, nil
	case cohortDir != "":
		return cohort.NewDirLoader(cohortDir), func() {}, nil
	default:
		return cohort.NewBundledLoader(), func() {}, nil
	}
}

func newLogger(s settings, fallbackPath string) (*zap.Logger, error) {
	path := fallbackPath
	if s.file.Log.File != nil {
		path = *s.file.Log.File
	}
	return logging.New(logging.Options{Debug: debug, Path: path})
}

func syncLogger(logger *zap.Logger) {
	if err := logger.Sync(); err != nil {
		// Syncing stderr fails on some terminals.
		_ = err
	}
}

func runFormCmd(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	v, err := s.registry.Lookup(variantName)
	if err != nil {
		return err
	}
	logger, err := newLogger(s, config.DefaultLogPath())
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	loader, closeLoader, err := openLoader()
	if err != nil {
		return err
	}
	defer closeLoader()

	svc := predict.NewService(loader, s.params, logger)
	program := tea.NewProgram(tui.NewModel(v, svc, logger), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func newPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Print the survival curve for one patient",
		Args:  cobra.NoArgs,
		RunE:  runPredictCmd,
	}
	cmd.Flags().StringArrayVar(&predictSets, "set", nil, "covariate value as Name=value (repeatable)")
	cmd.Flags().StringVar(&predictFormat, "format", defaultFormat, "output format: plot, table, json or svg")
	cmd.Flags().IntVar(&predictWidth, "width", 0, "plot width in columns (default: terminal width)")
	return cmd
}

func runPredictCmd(cmd *cobra.Command, _ []string) error {
	switch predictFormat {
	case "plot", "table", "json", "svg":
	default:
		return fmt.Errorf("unknown --format %q (want plot, table, json or svg)", predictFormat)
	}
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	v, err := s.registry.Lookup(variantName)
	if err != nil {
		return kindError(err)
	}
	values, err := variant.ParseAssignments(v, predictSets)
	if err != nil {
		return kindError(err)
	}
	rec, err := variant.NewRecord(v, values)
	if err != nil {
		return kindError(err)
	}

	logger, err := newLogger(s, config.DefaultLogPath())
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	loader, closeLoader, err := openLoader()
	if err != nil {
		return err
	}
	defer closeLoader()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	curve, err := predict.NewService(loader, s.params, logger).Predict(ctx, v, rec)
	if err != nil {
		return kindError(err)
	}
	return writeCurve(cmd.OutOrStdout(), v, curve)
}

func writeCurve(out io.Writer, v model.Variant, curve model.Curve) error {
	switch predictFormat {
	case "table":
		return chart.WriteTable(out, curve)
	case "json":
		return chart.WriteJSON(out, v.Name, curve)
	case "svg":
		_, err := fmt.Fprintln(out, chart.SVG(curve, chart.SVGOptions{}))
		return err
	}
	if _, err := fmt.Fprintf(out, "%s\n\n", chart.Subheader); err != nil {
		return err
	}
	if err := chart.Plot(out, curve, chart.PlotOptions{Width: predictWidth}); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%s\n", chart.Disclaimer)
	return err
}

// kindError prefixes err with its failure class so scripts can tell bad
// input from a missing cohort.
func kindError(err error) error {
	return fmt.Errorf("%s: %w", predict.KindOf(err), err)
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the prediction form over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", defaultAddr, "listen address")
	cmd.Flags().BoolVar(&serveWarm, "warm", false, "fit every variant's forest at startup")
	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	applyConfig(cmd, "addr", &serveAddr, s.file.Serve.Addr)

	logger, err := newLogger(s, "")
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	loader, closeLoader, err := openLoader()
	if err != nil {
		return err
	}
	defer closeLoader()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := predict.NewService(loader, s.params, logger)
	if serveWarm {
		go warm(ctx, svc, s.registry.All(), logger)
	}
	handler := web.NewHandler(s.registry, svc, logger)
	logger.Info("starting server",
		zap.String("addr", serveAddr),
		zap.String("cohorts", svc.Source()),
		zap.Strings("variants", s.registry.Names()))
	return web.NewServer(serveAddr, handler.Routes(), logger).ListenAndServe(ctx)
}

func warm(ctx context.Context, svc *predict.Service, variants []model.Variant, logger *zap.Logger) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, v := range variants {
		g.Go(func() error {
			if _, err := svc.Model(gctx, v, v.Names()); err != nil {
				return fmt.Errorf("%s: %w", v.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("warm-up failed", zap.Error(err))
		}
		return
	}
	logger.Info("warm-up done", zap.Int("models", svc.Cached()), zap.Duration("elapsed", time.Since(start)))
}

func newVariantsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "variants",
		Short: "List model variants",
		Args:  cobra.NoArgs,
		RunE:  runVariantsCmd,
	}
}

func runVariantsCmd(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	rows := make([][]string, 0)
	for _, v := range s.registry.All() {
		rows = append(rows, []string{v.Name, strconv.Itoa(len(v.Covariates)), v.CohortFile, v.Title})
	}
	return writeLines(cmd.OutOrStdout(), chart.FormatTable([]string{"Name", "Covariates", "Cohort", "Title"}, rows, map[int]bool{1: true}))
}

func newCohortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cohort",
		Short: "Manage the cohort catalogue",
	}
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import a variant's cohort into the catalogue",
		Args:  cobra.NoArgs,
		RunE:  runCohortImportCmd,
	}
	importCmd.Flags().StringVar(&importFile, "file", "", "cohort file to import (default: the variant's file from --cohort or the bundled data)")
	cmd.AddCommand(importCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List imported cohorts",
		Args:  cobra.NoArgs,
		RunE:  runCohortListCmd,
	})
	return cmd
}

func runCohortImportCmd(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	v, err := s.registry.Lookup(variantName)
	if err != nil {
		return err
	}

	var source cohort.Loader
	switch {
	case importFile != "":
		source = cohort.NewDirLoader(filepath.Dir(importFile))
		v.CohortFile = filepath.Base(importFile)
	case cohortDir != "":
		source = cohort.NewDirLoader(cohortDir)
	default:
		source = cohort.NewBundledLoader()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := source.Load(ctx, v, v.Names())
	if err != nil {
		return kindError(err)
	}

	st, err := cohort.OpenStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()
	origin := filepath.Join(source.Describe(), v.CohortFile)
	if err := st.Import(ctx, v.Name, origin, c); err != nil {
		return fmt.Errorf("failed to import cohort: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows (%d events) for %s from %s\n", c.Len(), c.Events(), v.Name, origin)
	return err
}

func runCohortListCmd(cmd *cobra.Command, _ []string) error {
	if _, err := loadSettings(cmd); err != nil {
		return err
	}
	st, err := cohort.OpenStore(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	entries, err := st.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cohorts: %w", err)
	}
	if len(entries) == 0 {
		logErrln("No cohorts imported. Import with: hccdfs cohort import --variant <name>")
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Variant,
			strconv.Itoa(e.Rows),
			strconv.Itoa(e.Events),
			e.ImportedAt.Local().Format("2006-01-02 15:04"),
			e.Source,
		})
	}
	return writeLines(cmd.OutOrStdout(), chart.FormatTable([]string{"Variant", "Rows", "Events", "Imported", "Source"}, rows, map[int]bool{1: true, 2: true}))
}

func writeLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

// applyConfig copies a config value into target unless the flag was set.
func applyConfig[T any](cmd *cobra.Command, name string, target, value *T) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	p := model.DefaultForestParams()
	return fmt.Sprintf(`# hccdfs configuration
# Uncomment a value to enable it. HCCDFS_* environment variables override
# config values and CLI flags override both.

[forest]
# trees = %d                # Number of trees
# max-depth = %d             # Maximum tree depth
# min-samples-split = %d     # Minimum samples to split a node
# min-samples-leaf = %d      # Minimum samples per leaf
# max-features = 0          # Features tried per split (0: sqrt of the feature count)
# bootstrap = %t          # Resample rows for each tree
# seed = %d                 # Random seed
# workers = 0               # Parallel tree builders (0: GOMAXPROCS)

[cohort]
# dir = "/path/to/cohorts"  # Directory with cohort CSV files
# from-db = false           # Load cohorts from the imported catalogue
# db = %q

[serve]
# addr = %q

[log]
# debug = false
# file = %q

# Extra variants. A variant named like a built-in one replaces it.
# [[variant]]
# name = "custom"
# title = "Custom HCC model"
# cohort-file = "custom.csv"
# delimiter = ","
# [[variant.covariate]]
# name = "Preop_AFP"
# label = "Preop AFP"
# kind = "continuous"
# min = 0.0
# default = 10.0
# column = 0
`,
		p.Trees,
		p.MaxDepth,
		p.MinSamplesSplit,
		p.MinSamplesLeaf,
		p.Bootstrap,
		p.Seed,
		config.DefaultDBPath(),
		defaultAddr,
		config.DefaultLogPath(),
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
