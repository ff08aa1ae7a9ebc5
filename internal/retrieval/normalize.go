package retrieval

import "sync"

// SourceStats are the min/max bounds used to project one source's raw
// scores onto [0,1]. The feedback tuner refreshes them once per cycle.
type SourceStats struct {
	Min float64
	Max float64
}

// StatsStore holds per-source normalization statistics. The tuner is the
// single writer; retrieval reads concurrently and may observe stale values.
type StatsStore struct {
	mu    sync.RWMutex
	stats map[SourceType]SourceStats
}

func NewStatsStore() *StatsStore {
	return &StatsStore{stats: make(map[SourceType]SourceStats)}
}

func (s *StatsStore) Set(source SourceType, stats SourceStats) {
	if stats.Max <= stats.Min {
		return
	}
	s.mu.Lock()
	s.stats[source] = stats
	s.mu.Unlock()
}

func (s *StatsStore) Get(source SourceType) SourceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.stats[source]; ok {
		return st
	}
	// Identity bounds until the first tuner cycle.
	return SourceStats{Min: 0, Max: 1}
}

// Normalize projects a raw source score onto [0,1] via min-max scaling,
// clamping scores outside the recorded bounds.
func (s *StatsStore) Normalize(source SourceType, raw float64) float64 {
	st := s.Get(source)
	v := (raw - st.Min) / (st.Max - st.Min)
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
