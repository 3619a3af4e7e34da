package browse

import (
	"sort"
	"sync"
)

// Stats counts field reads per model. The auto prefetch mode fetches the
// most read fields together.
//
// Counters are process-wide and never decay; Reset clears a model after its
// definition changes.
type Stats struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

// DefaultStats is the process-wide counter set used by caches created
// without their own.
var DefaultStats = NewStats()

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{counts: make(map[string]map[string]int64)}
}

// Hit records one read of model.field.
func (s *Stats) Hit(model, field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.counts[model]
	if !ok {
		m = make(map[string]int64)
		s.counts[model] = m
	}
	m[field]++
}

// Count returns the number of reads of model.field.
func (s *Stats) Count(model, field string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[model][field]
}

// Top returns at most k fields of model, most read first, whose count is
// strictly greater than fraction times the count of the most read field.
// Ties are broken by name.
func (s *Stats) Top(model string, k int, fraction float64) []string {
	s.mu.Lock()
	type entry struct {
		field string
		count int64
	}
	entries := make([]entry, 0, len(s.counts[model]))
	for f, n := range s.counts[model] {
		entries = append(entries, entry{f, n})
	}
	s.mu.Unlock()

	if len(entries) == 0 || k <= 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].field < entries[j].field
	})

	threshold := fraction * float64(entries[0].count)
	var out []string
	for _, e := range entries {
		if len(out) == k {
			break
		}
		if float64(e.count) > threshold {
			out = append(out, e.field)
		}
	}
	return out
}

// Reset clears the counters of model, or of every model when model is empty.
func (s *Stats) Reset(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if model == "" {
		s.counts = make(map[string]map[string]int64)
		return
	}
	delete(s.counts, model)
}
