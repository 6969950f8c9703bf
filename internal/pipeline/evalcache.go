package pipeline

import (
	"sync"

	"github.com/adscope/adscope/pkg/models"
)

// EvalCache holds fully formatted reports keyed by fingerprint for the
// lifetime of the process. Entries are never evicted or invalidated; see the
// notes in DESIGN.md on the implications of that.
type EvalCache struct {
	mu      sync.RWMutex
	entries map[string]*models.Report
}

func NewEvalCache() *EvalCache {
	return &EvalCache{entries: make(map[string]*models.Report)}
}

// Probe returns the cached report for a fingerprint, if any.
func (c *EvalCache) Probe(fingerprint string) (*models.Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	report, ok := c.entries[fingerprint]
	return report, ok
}

// StoreIfAbsent writes the report under the fingerprint unless another
// writer got there first, and returns the canonical entry either way. Two
// concurrent runs over the same fingerprint therefore converge on one report.
func (c *EvalCache) StoreIfAbsent(fingerprint string, report *models.Report) *models.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[fingerprint]; ok {
		return existing
	}
	c.entries[fingerprint] = report
	return report
}

// Len reports the number of cached fingerprints.
func (c *EvalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
