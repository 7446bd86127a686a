package commands

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/teranos/strata/config"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/graph"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/metrics"
	"github.com/teranos/strata/results"
	"github.com/teranos/strata/schema"
)

// BenchCmd measures lost updates under each scheduling mode
var BenchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Compare serial and parallel transaction scheduling",
	Long: `Run concurrent read-increment-write transactions against one object and
report how many increments survived under each scheduling mode.

Serial transactions never lose an update. Parallel transactions commit
field by field with the last write winning, so concurrent increments of the
same object overwrite each other.

Modes: serial, parallel, private (a dedicated serial queue) and default
(whatever transactions.default_serial says). With --watch, edits to the
config file switch the default mode while the benchmark runs.

Examples:
  strata bench                          # serial and parallel, 8x25 increments
  strata bench -g 32 -n 100 --rate 500  # throttle to 500 transactions/s
  strata bench --mode default --watch -n 1000`,
	RunE: runBench,
}

var (
	benchEntityFlag     string
	benchAttrFlag       string
	benchGoroutinesFlag int
	benchIncrementsFlag int
	benchRateFlag       float64
	benchModesFlag      []string
	benchWatchFlag      bool
	benchKeepFlag       bool
)

func init() {
	BenchCmd.Flags().StringVar(&benchEntityFlag, "entity", "Item", "Entity of the benchmark object")
	BenchCmd.Flags().StringVar(&benchAttrFlag, "attr", "count", "Int attribute to increment")
	BenchCmd.Flags().IntVarP(&benchGoroutinesFlag, "goroutines", "g", 8, "Concurrent writers")
	BenchCmd.Flags().IntVarP(&benchIncrementsFlag, "increments", "n", 25, "Increments per writer")
	BenchCmd.Flags().Float64Var(&benchRateFlag, "rate", 0, "Maximum transactions per second across writers (0 = unlimited)")
	BenchCmd.Flags().StringSliceVar(&benchModesFlag, "mode", []string{"serial", "parallel"}, "Scheduling modes to run")
	BenchCmd.Flags().BoolVar(&benchWatchFlag, "watch", false, "Apply transactions.default_serial from the config file while running")
	BenchCmd.Flags().BoolVar(&benchKeepFlag, "keep", false, "Keep the benchmark objects instead of deleting them")
}

type benchResult struct {
	mode     string
	expected int64
	final    int64
	elapsed  time.Duration
}

// mergeCounter counts Main change notifications for the benchmark entity
type mergeCounter struct {
	updates atomic.Int64
}

func (m *mergeCounter) WillChangeContent(*results.Controller) {}

func (m *mergeCounter) DidChangeSection(*results.Controller, results.Section, int, results.SectionChange) {
}

func (m *mergeCounter) DidChangeObject(_ *results.Controller, _ *graph.Object, _, _ *results.IndexPath, change results.ChangeType) {
	if change == results.Update {
		m.updates.Add(1)
	}
}

func (m *mergeCounter) DidChangeContent(*results.Controller) {}

func runBench(cmd *cobra.Command, args []string) error {
	if benchGoroutinesFlag < 1 || benchIncrementsFlag < 1 {
		return errors.New("--goroutines and --increments must be at least 1")
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ent, ok := s.coord.Model().Entity(benchEntityFlag)
	if !ok {
		return errors.Newf("unknown entity %q", benchEntityFlag)
	}
	if attr, ok := ent.Attribute(benchAttrFlag); !ok || attr.Type != schema.TypeInt {
		return errors.WithHint(
			errors.Newf("%s has no int attribute %q", ent.Name, benchAttrFlag),
			"pick one with --entity and --attr",
		)
	}

	if benchWatchFlag {
		stop, err := watchDefaultMode(cmd, s)
		if err != nil {
			return err
		}
		defer stop()
	}

	counter := &mergeCounter{}
	ctrl := results.NewController(s.coord, s.coord.Objects(ent.Name), "", counter, s.log)
	defer ctrl.Close()
	var fetchErr error
	s.coord.OnMainAndWait(func(th *graph.Thread) { fetchErr = ctrl.PerformFetch(th) })
	if fetchErr != nil {
		return fetchErr
	}

	var out []benchResult
	for _, mode := range benchModesFlag {
		opts, err := modeOptions(s.coord, mode)
		if err != nil {
			return err
		}
		res, err := benchMode(cmd.Context(), s, mode, opts)
		if err != nil {
			return err
		}
		out = append(out, res)
	}
	// Flush pending merges before reading the counter
	s.coord.OnMainAndWait(func(*graph.Thread) {})

	data := pterm.TableData{{"Mode", "Transactions", "Final", "Lost", "Elapsed", "Tx/s"}}
	for _, r := range out {
		data = append(data, []string{
			r.mode,
			strconv.FormatInt(r.expected, 10),
			strconv.FormatInt(r.final, 10),
			strconv.FormatInt(r.expected-r.final, 10),
			r.elapsed.Round(time.Millisecond).String(),
			fmt.Sprintf("%.0f", float64(r.expected)/r.elapsed.Seconds()),
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Main saw %d object updates\n\n", counter.updates.Load())

	samples, err := metrics.Snapshot()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}
	metricData := pterm.TableData{{"Metric", "Value"}}
	for _, sample := range samples {
		metricData = append(metricData, []string{sample.Name, strconv.FormatFloat(sample.Value, 'f', -1, 64)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(metricData).Render()
}

func modeOptions(coord *graph.Coordinator, mode string) ([]graph.TxOption, error) {
	switch mode {
	case "serial":
		return []graph.TxOption{graph.Serial(true)}, nil
	case "parallel":
		return []graph.TxOption{graph.Serial(false)}, nil
	case "private":
		return []graph.TxOption{graph.On(coord.NewSerialQueue("bench"))}, nil
	case "default":
		return nil, nil
	}
	return nil, errors.Newf("unknown mode %q (want serial, parallel, private or default)", mode)
}

// benchMode creates a fresh object and increments it from every writer
func benchMode(ctx context.Context, s *session, mode string, opts []graph.TxOption) (benchResult, error) {
	coord := s.coord
	th := coord.NewThread()

	var target *graph.Object
	if err := coord.TransactAndWait(th, func(th *graph.Thread) error {
		target = coord.Create(th, benchEntityFlag, false)
		target.SetValue(th, benchAttrFlag, 0)
		return nil
	}); err != nil {
		return benchResult{}, errors.Wrap(err, "failed to create benchmark object")
	}

	limit := rate.Inf
	if benchRateFlag > 0 {
		limit = rate.Limit(benchRateFlag)
	}
	limiter := rate.NewLimiter(limit, 1)

	s.log.Infow("Benchmark started",
		logger.FieldMode, mode,
		logger.FieldObjectID, target.ID(),
		"writers", benchGoroutinesFlag,
	)

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, benchGoroutinesFlag)
	for g := 0; g < benchGoroutinesFlag; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th := coord.NewThread()
			for i := 0; i < benchIncrementsFlag; i++ {
				if err := limiter.Wait(ctx); err != nil {
					errs <- err
					return
				}
				err := coord.TransactAndWait(th, func(th *graph.Thread) error {
					obj := coord.UseInCurrentContext(th, target)
					if obj == nil {
						return errors.Wrapf(errors.ErrNotFound, "benchmark object %s", target.ID())
					}
					obj.SetValue(th, benchAttrFlag, obj.IntValue(th, benchAttrFlag)+1)
					return nil
				}, opts...)
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	close(errs)
	if err := <-errs; err != nil {
		return benchResult{}, err
	}

	var final int64
	err := coord.TransactAndWait(th, func(th *graph.Thread) error {
		obj := coord.UseInCurrentContext(th, target)
		if obj == nil {
			return errors.Wrapf(errors.ErrNotFound, "benchmark object %s", target.ID())
		}
		final = obj.IntValue(th, benchAttrFlag)
		if !benchKeepFlag {
			coord.Delete(th, obj)
		}
		return nil
	})
	if err != nil {
		return benchResult{}, err
	}

	return benchResult{
		mode:     mode,
		expected: int64(benchGoroutinesFlag * benchIncrementsFlag),
		final:    final,
		elapsed:  elapsed,
	}, nil
}

// watchDefaultMode follows transactions.default_serial in the config file
func watchDefaultMode(cmd *cobra.Command, s *session) (func(), error) {
	path := configPath(cmd)
	if path == "" {
		return nil, errors.WithHint(
			errors.New("--watch needs a config file"),
			"pass --config or run from a directory containing strata.toml",
		)
	}

	w, err := config.NewWatcher(path, s.log)
	if err != nil {
		return nil, err
	}
	w.OnReload(func(cfg *config.Config) error {
		if cfg.Transactions.DefaultSerial != s.coord.DefaultSerial() {
			s.coord.SetDefaultSerial(cfg.Transactions.DefaultSerial)
		}
		return nil
	})
	w.Start()

	return func() {
		if err := w.Stop(); err != nil {
			s.log.Warnw("Failed to stop config watcher", logger.FieldError, err)
		}
	}, nil
}
