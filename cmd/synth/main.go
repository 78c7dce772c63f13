// Command synth generates a labeled synthetic corpus and writes it to a JSON
// file, a CSV feature matrix and/or the configured store.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/logging"
	"github.com/opensource-finance/kestrel/internal/patterns"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Labeled is one user's vector with its ground truth.
type Labeled struct {
	UserID   string             `json:"userId"`
	Pattern  string             `json:"pattern"`
	IsFraud  bool               `json:"isFraud"`
	IsVictim bool               `json:"isVictim"`
	Features map[string]float64 `json:"features"`
}

// Output is the JSON document written by -out.
type Output struct {
	Seed      int64             `json:"seed"`
	Stats     corpus.Stats      `json:"stats"`
	Users     []domain.User     `json:"users"`
	Timelines []domain.Timeline `json:"timelines,omitempty"`
	Vectors   []Labeled         `json:"vectors"`
}

func main() {
	configPath := flag.String("config", os.Getenv("KESTREL_CONFIG"), "Path to a YAML config file")
	seed := flag.Int64("seed", 0, "Override the configured seed (0 = keep)")
	population := flag.Int("population", 0, "Override the configured population (0 = keep)")
	out := flag.String("out", "", "Write the corpus as JSON to this path (- for stdout)")
	csvPath := flag.String("csv", "", "Write the labeled feature matrix as CSV to this path")
	noTimelines := flag.Bool("no-timelines", false, "Omit timelines from the JSON output")
	store := flag.Bool("store", false, "Persist users, timelines and vectors to the configured store")
	announce := flag.Bool("announce", false, "With -store, publish one ingest event per user")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	// logs go to stderr so -out - stays clean
	slog.SetDefault(logging.NewWriter(os.Stderr, cfg.Logging))

	gen := cfg.Generation
	if *seed != 0 {
		gen.Seed = *seed
	}
	if *population > 0 {
		gen.Population = *population
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, gen, *out, *csvPath, !*noTimelines, *store, *announce); err != nil {
		slog.Error("synth failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *domain.Config, gen domain.GenerationConfig, out, csvPath string, withTimelines, store, announce bool) error {
	o, err := corpus.New(gen, patterns.Default())
	if err != nil {
		return err
	}
	c, err := o.Generate(ctx)
	if err != nil {
		return err
	}
	_, end := o.Config().Window()
	vectors, err := features.ExtractAll(ctx, c.Timelines, end, gen.Workers)
	if err != nil {
		return fmt.Errorf("extract features: %w", err)
	}
	slog.Info("features extracted", "vectors", len(vectors), "as_of", end)

	if store {
		if err := persist(ctx, cfg, gen, c, vectors, end, announce); err != nil {
			return err
		}
	}
	if out != "" {
		if err := writeJSON(out, gen.Seed, c, vectors, withTimelines); err != nil {
			return err
		}
	}
	if csvPath != "" {
		if err := writeCSV(csvPath, c, vectors); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "generated %d users (%d fraud, %d victims), %d interactions, %d regenerated units in %s\n",
		len(c.Users), c.Stats.FraudAccounts, c.Stats.Victims, c.Stats.Interactions,
		c.Stats.RegeneratedUnits, c.Stats.Duration)
	return nil
}

func persist(ctx context.Context, cfg *domain.Config, gen domain.GenerationConfig, c *corpus.Corpus, vectors []features.Vector, asOf time.Time, announce bool) error {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()

	var eventBus domain.EventBus
	if announce {
		eventBus, err = bus.New(cfg.EventBus)
		if err != nil {
			return fmt.Errorf("open event bus: %w", err)
		}
		defer eventBus.Close()
	}

	sum, err := ingest.Corpus(ctx, repo, eventBus, c, gen.Seed, ingest.Options{
		Workers:  gen.Workers,
		Announce: announce,
		AsOf:     asOf,
	})
	if err != nil {
		return err
	}
	for i, tl := range c.Timelines {
		if err := repo.SaveFeatureVector(ctx, tl.User.ID, worker.Stored(tl.User.ID, vectors[i], asOf)); err != nil {
			return fmt.Errorf("save vector %s: %w", tl.User.ID, err)
		}
	}
	slog.Info("corpus stored",
		"driver", cfg.Repository.Driver,
		"users", sum.Users,
		"interactions", sum.Interactions,
		"announced", sum.Announced,
	)
	return nil
}

func labeled(c *corpus.Corpus, vectors []features.Vector) []Labeled {
	out := make([]Labeled, len(c.Timelines))
	for i, tl := range c.Timelines {
		u := tl.User
		out[i] = Labeled{
			UserID:   u.ID,
			Pattern:  u.GenerationPattern,
			IsFraud:  u.IsFraud,
			IsVictim: u.IsFraudVictim,
			Features: vectors[i].Map(),
		}
	}
	return out
}

func create(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func writeJSON(path string, seed int64, c *corpus.Corpus, vectors []features.Vector, withTimelines bool) error {
	f, err := create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	doc := Output{Seed: seed, Stats: c.Stats, Users: c.Users, Vectors: labeled(c, vectors)}
	if withTimelines {
		doc.Timelines = c.Timelines
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// writeCSV writes one row per user: id, pattern, is_fraud, is_victim, then
// every feature in schema order.
func writeCSV(path string, c *corpus.Corpus, vectors []features.Vector) error {
	f, err := create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"user_id", "pattern", "is_fraud", "is_victim"}, features.Names[:]...)
	if err := w.Write(header); err != nil {
		return err
	}
	for i, tl := range c.Timelines {
		u := tl.User
		row := make([]string, 0, len(header))
		row = append(row, u.ID, u.GenerationPattern, strconv.FormatBool(u.IsFraud), strconv.FormatBool(u.IsFraudVictim))
		for _, v := range vectors[i].Values() {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
