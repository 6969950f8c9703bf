package models

import (
	"time"

	"github.com/google/uuid"
)

// BenchmarkEntry is one appended record of a successfully scored job,
// read back in bulk to rank future evaluations.
type BenchmarkEntry struct {
	ID               uuid.UUID `db:"id"                json:"id"`
	JobID            uuid.UUID `db:"job_id"            json:"job_id"`
	ABCDScore        float64   `db:"abcd_score"        json:"abcd_score"`
	PersuasionScore  float64   `db:"persuasion_score"  json:"persuasion_score"`
	PerformanceScore float64   `db:"performance_score" json:"performance_score"`
	Vertical         string    `db:"vertical"          json:"vertical"`
	CreatedAt        time.Time `db:"created_at"        json:"created_at"`
}

// Benchmarks ranks the current evaluation against the historical population.
type Benchmarks struct {
	ABCDPercentile        float64                      `json:"abcd_percentile"`
	PersuasionPercentile  float64                      `json:"persuasion_percentile"`
	PerformancePercentile float64                      `json:"performance_percentile"`
	SampleSize            int                          `json:"sample_size"`
	Vertical              string                       `json:"vertical"`
	Distribution          map[string]DistributionStats `json:"distribution"`
}

// DistributionStats summarizes one historical score array.
type DistributionStats struct {
	P10  float64 `json:"p10"`
	P25  float64 `json:"p25"`
	P50  float64 `json:"p50"`
	P75  float64 `json:"p75"`
	P90  float64 `json:"p90"`
	Mean float64 `json:"mean"`
}
