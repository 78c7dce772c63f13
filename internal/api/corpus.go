package api

import (
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/corpus"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// PatternInfo describes one registered generator.
type PatternInfo struct {
	Name            string  `json:"name"`
	Family          string  `json:"family"`
	Role            string  `json:"role"`
	MinParticipants int     `json:"minParticipants"`
	MaxParticipants int     `json:"maxParticipants"`
	Span            string  `json:"span"`
	Weight          float64 `json:"weight"`
}

// ListPatterns returns every registered pattern with its configured weight.
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	gens := h.Registry.All()
	out := make([]PatternInfo, 0, len(gens))
	for _, g := range gens {
		lo, hi := g.Participants()
		weight, ok := h.Generation.FraudWeights[g.Name()]
		if !ok {
			weight = h.Generation.BenignWeights[g.Name()]
		}
		out = append(out, PatternInfo{
			Name:            g.Name(),
			Family:          string(g.Family()),
			Role:            string(g.Role()),
			MinParticipants: lo,
			MaxParticipants: hi,
			Span:            g.Span().String(),
			Weight:          weight,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"patterns": out,
		"count":    len(out),
	})
}

// CorpusRequest overrides the server's generation settings for one run.
type CorpusRequest struct {
	Seed          *int64             `json:"seed,omitempty"`
	Population    *int               `json:"population,omitempty"`
	FraudRatio    *float64           `json:"fraudRatio,omitempty"`
	Now           *time.Time         `json:"now,omitempty"`
	FraudWeights  map[string]float64 `json:"fraudWeights,omitempty"`
	BenignWeights map[string]float64 `json:"benignWeights,omitempty"`

	// Persist writes the corpus to the store; default true.
	Persist *bool `json:"persist,omitempty"`
	// Announce publishes every timeline for asynchronous scoring.
	Announce bool `json:"announce,omitempty"`
	// IncludeTimelines returns the generated timelines in the response.
	IncludeTimelines bool `json:"includeTimelines,omitempty"`
}

// CorpusResponse summarizes a generation run.
type CorpusResponse struct {
	Seed   int64           `json:"seed"`
	Users  int             `json:"users"`
	Stats  corpus.Stats    `json:"stats"`
	Ingest *ingest.Summary `json:"ingest,omitempty"`
	Corpus *corpus.Corpus  `json:"corpus,omitempty"`
}

// GenerateCorpus runs the orchestrator and optionally persists the result.
func (h *Handler) GenerateCorpus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CorpusRequest
	if !decode(w, r, &req) {
		return
	}

	cfg := h.Generation
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if req.Population != nil {
		cfg.Population = *req.Population
	}
	if req.FraudRatio != nil {
		cfg.FraudRatio = *req.FraudRatio
	}
	if req.Now != nil {
		cfg.Now = req.Now.UTC()
	}
	if req.FraudWeights != nil {
		cfg.FraudWeights = req.FraudWeights
	}
	if req.BenignWeights != nil {
		cfg.BenignWeights = req.BenignWeights
	}
	if cfg.Population > h.MaxPopulation {
		writeError(w, http.StatusBadRequest, "population exceeds the server limit")
		return
	}

	o, err := corpus.New(cfg, h.Registry)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	c, err := o.Generate(ctx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.Metrics.ObserveCorpus(metrics.CorpusRun{
		Duration:         c.Stats.Duration,
		PatternCounts:    c.Stats.PatternCounts,
		RegeneratedUnits: c.Stats.RegeneratedUnits,
		Repairs:          c.Stats.Repairs,
		Interactions:     c.Stats.Interactions,
	})

	resp := CorpusResponse{Seed: cfg.Seed, Users: len(c.Users), Stats: c.Stats}
	if req.Persist == nil || *req.Persist {
		_, end := o.Config().Window()
		sum, err := ingest.Corpus(ctx, h.Store, h.Bus, c, cfg.Seed, ingest.Options{
			Workers:  cfg.Workers,
			Announce: req.Announce,
			AsOf:     end,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp.Ingest = sum
	}
	if req.IncludeTimelines {
		resp.Corpus = c
	}
	writeJSON(w, http.StatusCreated, resp)
}
