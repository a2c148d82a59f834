package bench

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dPersist/cmd/util"
	"github.com/ValentinKolb/dPersist/lib/state"
	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/ValentinKolb/dPersist/lib/timers"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	log = logger.GetLogger("bench")

	// BenchCmd runs a timed load against a local store
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark state and timer operations on a local store",
		PreRunE: processConfig,
		RunE:    run,
	}

	benchThreads = 8
	benchOps     = 10000
	benchOwners  = 1000
	benchSkip    = make([]string, 0)
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupStoreFlags(BenchCmd)

	key := "threads"
	BenchCmd.Flags().Int(key, 8, util.WrapString("Number of concurrent workers"))
	key = "ops"
	BenchCmd.Flags().Int(key, 10000, util.WrapString("Operations per benchmark"))
	key = "owners"
	BenchCmd.Flags().Int(key, 1000, util.WrapString("Number of distinct owners used for timers and state"))
	key = "skip"
	BenchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated, e.g. state-read,timer-range)"))
	key = "csv"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	benchThreads = max(1, viper.GetInt("threads"))
	benchOps = max(1, viper.GetInt("ops"))
	benchOwners = max(1, viper.GetInt("owners"))
	benchSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

// benchmark is one named workload. op is called with a worker local counter.
type benchmark struct {
	name  string
	setup func(ctx context.Context) error
	op    func(ctx context.Context, worker, i int) error
}

func run(cmd *cobra.Command, _ []string) error {
	conf, err := util.GetStoreConfig()
	if err != nil {
		return err
	}
	// private prefixes keep benchmark data apart from real data
	conf.ServiceID = "bench-" + uuid.NewString()[:8]
	conf.StatePrefix = "BenchState"
	conf.TimerPrefix = "BenchTimers"

	ls, err := util.OpenLocalStore(conf)
	if err != nil {
		return err
	}
	defer ls.Close()

	states := state.NewStore(ls, state.Options{ServiceID: conf.ServiceID, Prefix: conf.StatePrefix})
	registry := timers.NewRegistry(ls, timers.Options{ServiceID: conf.ServiceID, ClusterID: conf.ClusterID, Prefix: conf.TimerPrefix})

	owners := make([]string, benchOwners)
	for i := range owners {
		owners[i] = uuid.NewString()
	}
	segments := timers.SplitRing(16)

	// versions of the entity each worker writes
	versions := make([]store.Version, benchThreads)

	benchmarks := []benchmark{
		{
			name: "state-write",
			op: func(ctx context.Context, worker, _ int) error {
				v, err := states.Write(ctx, "Bench", strconv.Itoa(worker), []byte("payload"), versions[worker])
				if err != nil {
					return err
				}
				versions[worker] = v
				return nil
			},
		},
		{
			name: "state-read",
			op: func(ctx context.Context, worker, i int) error {
				_, err := states.Read(ctx, "Bench", strconv.Itoa((worker+i)%benchThreads), nil)
				return err
			},
		},
		{
			name: "timer-upsert",
			op: func(ctx context.Context, _, i int) error {
				owner := owners[i%len(owners)]
				_, err := registry.Upsert(ctx, timers.NewEntry(owner, "tick", time.Now(), time.Minute))
				return err
			},
		},
		{
			name: "timer-owner",
			op: func(ctx context.Context, worker, i int) error {
				_, err := registry.FindByOwner(ctx, owners[(worker+i)%len(owners)])
				return err
			},
		},
		{
			name: "timer-range",
			op: func(ctx context.Context, worker, i int) error {
				r := segments[(worker+i)%len(segments)]
				_, err := registry.FindByRange(ctx, r.Begin, r.End)
				return err
			},
		},
	}

	fmt.Println("Benchmark of state and timer operations")
	fmt.Println(conf.String())
	fmt.Printf("Threads: %d, operations per benchmark: %s, owners: %s\n\n",
		benchThreads, humanize.Comma(int64(benchOps)), humanize.Comma(int64(benchOwners)))

	ctx := cmd.Context()
	results := make([]result, 0, len(benchmarks))
	for _, b := range benchmarks {
		if shouldSkip(b.name) {
			continue
		}
		res := runBenchmark(ctx, b)
		printResult(res)
		results = append(results, res)
	}

	if _, err := registry.ClearAll(ctx); err != nil {
		log.Warningf("failed to remove benchmark timers: %v", err)
	}
	if _, err := ls.DeleteCollection(ctx, conf.StatePrefix); err != nil {
		log.Warningf("failed to remove benchmark state: %v", err)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// --------------------------------------------------------------------------
// Measurement
// --------------------------------------------------------------------------

type result struct {
	name     string
	errors   int64
	elapsed  time.Duration
	timer    gometrics.Timer
}

// runBenchmark spreads benchOps operations over benchThreads workers and times each one
func runBenchmark(ctx context.Context, b benchmark) result {
	timer := gometrics.NewTimer()
	errCount := gometrics.NewCounter()

	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < benchThreads; w++ {
		n := benchOps / benchThreads
		if w < benchOps%benchThreads {
			n++
		}
		wg.Add(1)
		go func(worker, n int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				opStart := time.Now()
				if err := b.op(ctx, worker, i); err != nil {
					errCount.Inc(1)
					log.Debugf("(%s) - operation failed: %v", b.name, err)
				}
				timer.UpdateSince(opStart)
			}
		}(w, n)
	}
	wg.Wait()

	return result{
		name:     b.name,
		errors:   errCount.Count(),
		elapsed:  time.Since(start),
		timer:    timer,
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(name string) bool {
	for _, skip := range benchSkip {
		if strings.TrimSpace(skip) == name {
			return true
		}
	}
	return false
}

func (r result) opsPerSec() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.timer.Count()) / r.elapsed.Seconds()
}

func printResult(r result) {
	fmt.Printf("%-14s %10s ops  %12s ops/s  mean %-10s p50 %-10s p99 %-10s errors %d\n",
		r.name,
		humanize.Comma(r.timer.Count()),
		humanize.CommafWithDigits(r.opsPerSec(), 1),
		time.Duration(r.timer.Mean()).Round(time.Microsecond),
		time.Duration(r.timer.Percentile(0.5)).Round(time.Microsecond),
		time.Duration(r.timer.Percentile(0.99)).Round(time.Microsecond),
		r.errors,
	)
}

func writeResultsToCSV(path string, results []result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"benchmark", "ops", "errors", "ops_per_sec", "mean_ns", "p50_ns", "p99_ns", "max_ns", "threads"}); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			r.name,
			strconv.FormatInt(r.timer.Count(), 10),
			strconv.FormatInt(r.errors, 10),
			strconv.FormatFloat(r.opsPerSec(), 'f', 2, 64),
			strconv.FormatFloat(r.timer.Mean(), 'f', 0, 64),
			strconv.FormatFloat(r.timer.Percentile(0.5), 'f', 0, 64),
			strconv.FormatFloat(r.timer.Percentile(0.99), 'f', 0, 64),
			strconv.FormatInt(r.timer.Max(), 10),
			strconv.Itoa(benchThreads),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
