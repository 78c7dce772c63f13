// Benchmark tool for scoring a labeled synthetic corpus through Kestrel.
//
// Usage:
//
//	go run ./cmd/benchmark -population 2000 -fraud-ratio 0.05 -url http://localhost:8080
//	go run ./cmd/benchmark -in corpus.json
//
// This tool:
//  1. Generates a labeled corpus locally, or reads one written by synth -out
//  2. Posts each timeline to POST /assess with asOf at the end of the window
//  3. Compares the verdict (ALERT/PASS) with the generated fraud label
//  4. Prints the confusion matrix, precision, recall, F1 and per-pattern recall
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/patterns"
)

// AssessRequest is the POST /assess body.
type AssessRequest struct {
	Timeline domain.Timeline `json:"timeline"`
	AsOf     time.Time       `json:"asOf"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // fraud flagged ALERT
	FalsePositives int64 // benign flagged ALERT
	TrueNegatives  int64 // benign passed
	FalseNegatives int64 // fraud passed

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64

	mu        sync.Mutex
	byPattern map[string]*patternStats
}

type patternStats struct {
	total, flagged int
	fraud          bool
}

func (m *Metrics) record(u domain.User, alerted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byPattern == nil {
		m.byPattern = make(map[string]*patternStats)
	}
	name := u.GenerationPattern
	if name == "" {
		name = "(unlabeled)"
	}
	s, ok := m.byPattern[name]
	if !ok {
		s = &patternStats{fraud: u.IsFraud}
		m.byPattern[name] = s
	}
	s.total++
	if alerted {
		s.flagged++
	}
}

// corpusFile is the subset of synth's JSON output the benchmark needs.
type corpusFile struct {
	Seed      int64             `json:"seed"`
	Timelines []domain.Timeline `json:"timelines"`
}

func main() {
	configPath := flag.String("config", os.Getenv("KESTREL_CONFIG"), "Path to a YAML config file")
	in := flag.String("in", "", "Read timelines from a synth -out JSON file instead of generating")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	seed := flag.Int64("seed", 0, "Override the configured seed (0 = keep)")
	population := flag.Int("population", 2000, "Accounts to generate")
	fraudRatio := flag.Float64("fraud-ratio", 0.05, "Share of accounts running an adversarial pattern")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each account result")
	flag.Parse()

	fmt.Println("==================================================================")
	fmt.Println("           KESTREL BENCHMARK - synthetic account timelines")
	fmt.Println("==================================================================")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("OK  Kestrel is healthy")

	var (
		timelines []domain.Timeline
		asOf      time.Time
		err       error
	)
	if *in != "" {
		timelines, asOf, err = readCorpus(*in)
	} else {
		timelines, asOf, err = generate(*configPath, *seed, *population, *fraudRatio)
	}
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK  Loaded %d timelines (asOf %s)\n", len(timelines), asOf.Format(time.RFC3339))

	fraudCount := 0
	for _, tl := range timelines {
		if tl.User.IsFraud {
			fraudCount++
		}
	}
	if len(timelines) > 0 {
		fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(timelines)))
		fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(timelines)-fraudCount, 100*float64(len(timelines)-fraudCount)/float64(len(timelines)))
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(timelines, asOf, *baseURL, *workers, *verbose)
	printResults(metrics, time.Since(startTime))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func generate(configPath string, seed int64, population int, fraudRatio float64) ([]domain.Timeline, time.Time, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, time.Time{}, err
	}
	gen := cfg.Generation
	if seed != 0 {
		gen.Seed = seed
	}
	gen.Population = population
	gen.FraudRatio = fraudRatio

	o, err := corpus.New(gen, patterns.Default())
	if err != nil {
		return nil, time.Time{}, err
	}
	c, err := o.Generate(context.Background())
	if err != nil {
		return nil, time.Time{}, err
	}
	_, end := o.Config().Window()
	fmt.Printf("OK  Generated corpus seed=%d in %s (%d regenerated units)\n", gen.Seed, c.Stats.Duration.Round(time.Millisecond), c.Stats.RegeneratedUnits)
	return c.Timelines, end, nil
}

// readCorpus loads synth output. The reference time is the latest event in the file.
func readCorpus(path string) ([]domain.Timeline, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()

	var doc corpusFile
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(doc.Timelines) == 0 {
		return nil, time.Time{}, fmt.Errorf("%s holds no timelines (written with -no-timelines?)", path)
	}
	var asOf time.Time
	for _, tl := range doc.Timelines {
		if last, ok := tl.Last(); ok && last.Timestamp.After(asOf) {
			asOf = last.Timestamp
		}
	}
	return doc.Timelines, asOf, nil
}

func runBenchmark(timelines []domain.Timeline, asOf time.Time, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan domain.Timeline, 100)
	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tl := range work {
				start := time.Now()
				result, err := assess(client, baseURL, tl, asOf)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tl.User.ID, err)
					}
					continue
				}

				actual := tl.User.IsFraud
				if actual {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				predicted := result.Status == domain.StatusFail
				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}
				metrics.record(tl.User, predicted)

				if verbose {
					mark := "ok "
					if predicted != actual {
						mark = "ERR"
					}
					fmt.Printf("%s %-10s | Pattern: %-26s | Events: %4d | Fraud: %-5v | Kestrel: %-5s (%.2f)\n",
						mark, tl.User.ID, tl.User.GenerationPattern, tl.Len(), actual, result.Status, result.Score)
				}
			}
		}()
	}

	for _, tl := range timelines {
		work <- tl
	}
	close(work)
	wg.Wait()

	return metrics
}

func assess(client *http.Client, baseURL string, tl domain.Timeline, asOf time.Time) (*domain.AssessmentResponse, error) {
	body, err := json.Marshal(AssessRequest{Timeline: tl, AsOf: asOf})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/assess", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.AssessmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n==================================================================")
	fmt.Println("                        BENCHMARK RESULTS")
	fmt.Println("==================================================================")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    ALERT       PASS")
	fmt.Println("              +----------+----------+")
	fmt.Printf("   Actual  F  | %8d | %8d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              +----------+----------+")
	fmt.Printf("          NF  | %8d | %8d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              +----------+----------+")

	precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	accuracy := ratio(m.TruePositives+m.TrueNegatives, m.TruePositives+m.TrueNegatives+m.FalsePositives+m.FalseNegatives)

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many were caught)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nBY PATTERN (alert rate)\n")
	names := make([]string, 0, len(m.byPattern))
	for name := range m.byPattern {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := m.byPattern[names[i]], m.byPattern[names[j]]
		if a.fraud != b.fraud {
			return a.fraud
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		s := m.byPattern[name]
		kind := "benign"
		if s.fraud {
			kind = "fraud "
		}
		fmt.Printf("   %s %-28s %5d / %-5d (%.1f%%)\n", kind, name, s.flagged, s.total, 100*float64(s.flagged)/float64(s.total))
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f timelines/sec\n", tps)
	}
	fmt.Println()
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
