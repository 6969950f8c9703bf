package scoring

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adscope/adscope/pkg/models"
)

const (
	benchmarkCacheTTL = time.Hour

	// minVerticalSample is the smallest vertical-filtered history that is
	// still statistically useful; smaller samples fall back to the global set.
	minVerticalSample = 10
)

// BenchmarkStore is the slice of the persistence layer the engine needs.
type BenchmarkStore interface {
	AppendBenchmarkEntry(ctx context.Context, entry *models.BenchmarkEntry) error
	ListBenchmarkEntries(ctx context.Context) ([]*models.BenchmarkEntry, error)
}

// BenchmarkEngine computes percentile ranks for evaluation scores against
// the historical population. History is loaded from the store and cached
// in-process for an hour; the reload happens under the lock so concurrent
// evaluations share a single store round-trip.
type BenchmarkEngine struct {
	store  BenchmarkStore
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	history []*models.BenchmarkEntry
	loaded  bool
	loadTS  time.Time
}

func NewBenchmarkEngine(store BenchmarkStore, logger *slog.Logger) *BenchmarkEngine {
	return &BenchmarkEngine{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (e *BenchmarkEngine) loadHistory(ctx context.Context) []*models.BenchmarkEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded && e.now().Sub(e.loadTS) < benchmarkCacheTTL {
		return e.history
	}
	entries, err := e.store.ListBenchmarkEntries(ctx)
	if err != nil {
		// Serve the stale copy (or an empty one) rather than failing the
		// evaluation over a benchmark lookup.
		e.logger.Error("failed to load benchmark history", "error", err)
		if e.loaded {
			return e.history
		}
		entries = nil
	}
	e.history = entries
	e.loaded = true
	e.loadTS = e.now()
	return e.history
}

// LogEvaluation appends a finished evaluation's scores to the history and
// folds the entry into the in-process cache so subsequent benchmarks see it
// without waiting for a reload.
func (e *BenchmarkEngine) LogEvaluation(ctx context.Context, jobID uuid.UUID, abcdScore, persuasionScore, performanceScore float64, vertical string) error {
	entry := &models.BenchmarkEntry{
		ID:               uuid.New(),
		JobID:            jobID,
		ABCDScore:        abcdScore,
		PersuasionScore:  persuasionScore,
		PerformanceScore: performanceScore,
		Vertical:         vertical,
		CreatedAt:        e.now().UTC(),
	}
	if err := e.store.AppendBenchmarkEntry(ctx, entry); err != nil {
		return err
	}
	e.mu.Lock()
	if e.loaded {
		e.history = append(e.history, entry)
	}
	e.mu.Unlock()
	return nil
}

// Compute ranks the given scores against the historical population. When a
// vertical is supplied and has enough history, the population is narrowed to
// that vertical; otherwise the global set is used.
func (e *BenchmarkEngine) Compute(ctx context.Context, abcdScore, persuasionScore, performanceScore float64, vertical string) models.Benchmarks {
	history := e.loadHistory(ctx)

	scope := "all"
	if vertical != "" {
		var filtered []*models.BenchmarkEntry
		for _, h := range history {
			if strings.EqualFold(h.Vertical, vertical) {
				filtered = append(filtered, h)
			}
		}
		if len(filtered) >= minVerticalSample {
			history = filtered
		}
		scope = vertical
	}

	abcdVals := make([]float64, 0, len(history))
	persVals := make([]float64, 0, len(history))
	perfVals := make([]float64, 0, len(history))
	for _, h := range history {
		abcdVals = append(abcdVals, h.ABCDScore)
		persVals = append(persVals, h.PersuasionScore)
		perfVals = append(perfVals, h.PerformanceScore)
	}
	sort.Float64s(abcdVals)
	sort.Float64s(persVals)
	sort.Float64s(perfVals)

	return models.Benchmarks{
		ABCDPercentile:        percentileRank(abcdVals, abcdScore),
		PersuasionPercentile:  percentileRank(persVals, persuasionScore),
		PerformancePercentile: percentileRank(perfVals, performanceScore),
		SampleSize:            len(history),
		Vertical:              scope,
		Distribution: map[string]models.DistributionStats{
			"abcd":        distributionStats(abcdVals),
			"persuasion":  distributionStats(persVals),
			"performance": distributionStats(perfVals),
		},
	}
}

// percentileRank returns the percentile (0-100) of value within the sorted
// population: the share of historical entries strictly below it. An empty
// population defaults to the median.
func percentileRank(sortedVals []float64, value float64) float64 {
	if len(sortedVals) == 0 {
		return 50.0
	}
	pos := sort.SearchFloat64s(sortedVals, value)
	return roundTo(float64(pos)/float64(len(sortedVals))*100, 1)
}

// distributionStats summarizes the sorted population at fixed percentile cuts.
func distributionStats(sortedVals []float64) models.DistributionStats {
	n := len(sortedVals)
	if n == 0 {
		return models.DistributionStats{}
	}
	pct := func(p float64) float64 {
		idx := int(p / 100 * float64(n-1))
		return roundTo(sortedVals[idx], 1)
	}
	sum := 0.0
	for _, v := range sortedVals {
		sum += v
	}
	return models.DistributionStats{
		P10:  pct(10),
		P25:  pct(25),
		P50:  pct(50),
		P75:  pct(75),
		P90:  pct(90),
		Mean: roundTo(sum/float64(n), 1),
	}
}
