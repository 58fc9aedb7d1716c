package compaction

import "github.com/kvforge/lsmkv/internal/sstable"

// MaxTimestamp scans every run across every level and returns the largest
// timestamp found, used once at startup to seed the facade's monotonic
// timestamp counter past anything already on disk (spec §4.9 recovery).
func (m *Manager) MaxTimestamp() (int64, error) {
	m.mu.Lock()
	var allRuns []*sstable.LazyRun
	for _, runs := range m.levels {
		allRuns = append(allRuns, runs...)
	}
	m.mu.Unlock()

	var max int64
	for _, r := range allRuns {
		entries, err := r.ReadAll()
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			if e.Timestamp > max {
				max = e.Timestamp
			}
		}
	}
	return max, nil
}
