package kv

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thanos/couchbase-ex/bridge/common"
	"github.com/thanos/couchbase-ex/cmd/util"
	"github.com/thanos/couchbase-ex/lib/cberr"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for the bridge",
		Long:    "",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)

	// One timer per benchmark, fed inside the hot loops. The registry gives
	// us latency percentiles on top of the ns/op average that
	// testing.Benchmark reports.
	perfRegistry = gometrics.NewRegistry()
)

func init() {
	// add flags
	key := "skip"
	KeyValueCommands.PersistentFlags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	KeyValueCommands.PersistentFlags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	KeyValueCommands.PersistentFlags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	KeyValueCommands.PersistentFlags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for the Couchbase bridge")

	// Print configuration
	cfg := util.GetBridgeConfig()
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(cfg.String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	setResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("set") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("set")
		timer := perfTimer("set")

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := clus.Delete(k, nil); err != nil {
					log.Printf("(set) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				_, err := clus.Set(getKey(counter), "test", nil)
				timer.UpdateSince(start)
				if err != nil {
					log.Printf("(set) - error setting key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["set"] = setResult
	printResult("set", setResult)

	setLargeValueResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("set-large") {
			return
		}

		// prepare large value
		largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)

		// prepare keys
		getKey, iter := getKeys("set-large")
		timer := perfTimer("set-large")

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := clus.Delete(k, nil); err != nil {
					log.Printf("(set-large) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				_, err := clus.Set(getKey(counter), largeValue, nil)
				timer.UpdateSince(start)
				if err != nil {
					log.Printf("(set-large) - error setting key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["set-large"] = setLargeValueResult
	printResult("set-large", setLargeValueResult)

	getResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("get") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("get")
		timer := perfTimer("get")

		// set keys
		iter(func(k string) {
			if _, err := clus.Set(k, "test", nil); err != nil {
				log.Printf("(get) - error setting key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := clus.Delete(k, nil); err != nil {
					log.Printf("(get) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				_, err := clus.Get(getKey(counter), nil)
				timer.UpdateSince(start)
				if err != nil {
					log.Printf("(get) - error getting key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["get"] = getResult
	printResult("get", getResult)

	deleteResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("delete") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("delete")
		timer := perfTimer("delete")

		// set keys
		iter(func(k string) {
			if _, err := clus.Set(k, "test", nil); err != nil {
				log.Printf("(delete) - error setting key: %v\n", err)
			}
		})

		// cleanup (most keys are already gone at this point)
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := clus.Delete(k, nil); err != nil && !cberr.IsReason(err, cberr.ReasonDocumentNotFound) {
					log.Printf("(delete) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				_, err := clus.Delete(getKey(counter), nil)
				timer.UpdateSince(start)
				// most iterations hit an already deleted key, that is expected
				if err != nil && !cberr.IsReason(err, cberr.ReasonDocumentNotFound) {
					log.Printf("(delete) - error deleting key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["delete"] = deleteResult
	printResult("delete", deleteResult)

	existsResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("exists") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("exists")
		timer := perfTimer("exists")

		// set keys
		iter(func(k string) {
			if _, err := clus.Set(k, "test", nil); err != nil {
				log.Printf("(exists) - error setting key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := clus.Delete(k, nil); err != nil {
					log.Printf("(exists) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				start := time.Now()
				_, err := clus.Exists(getKey(counter), nil)
				timer.UpdateSince(start)
				if err != nil {
					log.Printf("(exists) - error checking key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["exists"] = existsResult
	printResult("exists", existsResult)

	existsNotResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("exists-not") {
			return
		}

		timer := perfTimer("exists-not")

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := fmt.Sprintf("%s-exists-not-%d", perfKeyPrefix, counter%perfKeySpread)
				start := time.Now()
				_, err := clus.Exists(key, nil)
				timer.UpdateSince(start)
				if err != nil {
					log.Printf("(exists-not) - error checking key: %v\n", err)
				}
				counter++
			}
		})
	})

	results["exists-not"] = existsNotResult
	printResult("exists-not", existsNotResult)

	mixedUsageResult := testing.Benchmark(func(b *testing.B) {
		if shouldSkip("mixed") {
			return
		}

		// prepare keys
		getKey, iter := getKeys("mixed")
		timer := perfTimer("mixed")

		// set keys
		iter(func(k string) {
			if _, err := clus.Set(k, "test", nil); err != nil {
				log.Printf("(mixed) - error setting key: %v\n", err)
			}
		})

		// cleanup
		b.Cleanup(func() {
			iter(func(k string) {
				if _, err := clus.Delete(k, nil); err != nil && !cberr.IsReason(err, cberr.ReasonDocumentNotFound) {
					log.Printf("(mixed) - error deleting key: %v\n", err)
				}
			})
		})

		b.SetParallelism(perfNumThreads)

		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			counter := 0
			for pb.Next() {
				key := getKey(counter)
				var err error
				start := time.Now()
				switch counter % 4 {
				case 0: // set
					_, err = clus.Set(key, "test", nil)
				case 1: // get
					_, err = clus.Get(key, nil)
				case 2: // exists
					_, err = clus.Exists(key, nil)
				case 3: // delete
					_, err = clus.Delete(key, nil)
				}
				timer.UpdateSince(start)

				if err != nil && !cberr.IsReason(err, cberr.ReasonDocumentNotFound) {
					log.Printf("(mixed) - error performing operation (%d): %v\n", counter%4, err)
				}
				counter++
			}
		})
	})

	results["mixed"] = mixedUsageResult
	printResult("mixed", mixedUsageResult)

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, cfg); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// perfTimer returns the latency timer for a benchmark, creating it on first
// use. Timers are safe for concurrent updates from the parallel workers.
func perfTimer(test string) gometrics.Timer {
	return gometrics.GetOrRegisterTimer("perf."+test, perfRegistry)
}

// percentiles returns the recorded p50/p95/p99 latencies for a benchmark.
func percentiles(test string) (p50, p95, p99 time.Duration) {
	ps := perfTimer(test).Percentiles([]float64{0.5, 0.95, 0.99})
	return time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2])
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	p50, p95, p99 := percentiles(test)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50=%s p95=%s p99=%s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec, p50, p95, p99)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config common.Config) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50", "P95", "P99", "Skipped",
		"ConnectionString", "Bucket", "PoolSize", "OperationTimeoutMS",
		"Threads", "LargeValueSizeKB", "KeysCount",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
			nsPerOp = 0
			opsPerSec = 0
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		p50, p95, p99 := percentiles(test)

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			p50.String(),
			p95.String(),
			p99.String(),
			skipped,
			config.ConnectionString,
			config.Bucket,
			strconv.Itoa(config.PoolSize),
			strconv.FormatInt(config.OperationTimeoutMS, 10),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
