package compaction

import (
	"sort"

	"github.com/kvforge/lsmkv/internal/entry"
	"github.com/kvforge/lsmkv/internal/manifest"
	"github.com/kvforge/lsmkv/internal/sstable"
)

// compactLevel runs the background compaction pipeline for source level L
// into L+1: snapshot, merge (deduplicating by max timestamp, dropping
// tombstones only if L+1 is bottommost), publish the merged run via
// AddSSTable, retire the superseded runs under the lock, then delete their
// directories outside it. See spec §4.8.
func (m *Manager) compactLevel(level int) {
	next := level + 1

	m.mu.Lock()
	srcRuns := append([]*sstable.LazyRun(nil), m.levels[level]...)
	dstRuns := append([]*sstable.LazyRun(nil), m.levels[next]...)
	m.mu.Unlock()

	if len(srcRuns) == 0 {
		return
	}

	allRuns := append(append([]*sstable.LazyRun(nil), srcRuns...), dstRuns...)
	ids := make(map[uint64]bool, len(allRuns))
	for _, r := range allRuns {
		ids[r.Metadata().SSTableID] = true
	}

	m.compactingMu.Lock()
	for id := range ids {
		if m.compactingIDs[id] {
			m.compactingMu.Unlock()
			return
		}
	}
	for id := range ids {
		m.compactingIDs[id] = true
	}
	m.compactingMu.Unlock()
	defer func() {
		m.compactingMu.Lock()
		for id := range ids {
			delete(m.compactingIDs, id)
		}
		m.compactingMu.Unlock()
	}()

	merged, err := mergeRuns(allRuns)
	if err != nil {
		m.log.Errorf("compaction: reading runs for level %d->%d failed: %v", level, next, err)
		return
	}

	bottommost := m.isBottommost(next)
	survivors := dedupeAndFilter(merged, bottommost)
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].Key < survivors[j].Key })

	m.log.Infof("compaction: merging level %d (%d runs) into level %d (%d runs), bottommost=%v, %d survivors",
		level, len(srcRuns), next, len(dstRuns), bottommost, len(survivors))

	srcIDs := idsOf(srcRuns)
	dstIDs := idsOf(dstRuns)

	if len(survivors) > 0 {
		if _, err := m.AddSSTable(survivors, next, false); err != nil {
			m.log.Errorf("compaction: publishing merged run for level %d failed: %v", next, err)
			return
		}
	}

	m.retire(level, next, srcIDs, dstIDs)

	for _, r := range allRuns {
		if err := r.Delete(); err != nil {
			m.log.Warnf("compaction: failed to delete retired run: %v", err)
		}
	}

	m.mu.Lock()
	eligible := m.levelEligibleLocked(next)
	m.mu.Unlock()
	if eligible {
		m.submitCompaction(next)
	}
}

// isBottommost reports whether no level beyond next currently holds any
// run, i.e. whether a tombstone merged into next may be permanently
// dropped.
func (m *Manager) isBottommost(next int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for l, runs := range m.levels {
		if l > next && len(runs) > 0 {
			return false
		}
	}
	return true
}

func idsOf(runs []*sstable.LazyRun) []uint64 {
	out := make([]uint64, len(runs))
	for i, r := range runs {
		out[i] = r.Metadata().SSTableID
	}
	return out
}

// retire removes the snapshotted run-IDs from levels[L] and levels[L+1],
// and from their manifests, all under the manager lock in one critical
// section so the read path never observes a mix of old and new state.
func (m *Manager) retire(level, next int, srcIDs, dstIDs []uint64) {
	m.mu.Lock()
	m.levels[level] = removeByID(m.levels[level], srcIDs)
	m.levels[next] = removeByID(m.levels[next], dstIDs)
	m.mu.Unlock()

	if err := m.manifestMgr.RemoveSSTables(srcIDs, &level); err != nil {
		m.log.Errorf("compaction: removing level %d manifest entries failed: %v", level, err)
	}
	if err := m.manifestMgr.RemoveSSTables(dstIDs, &next); err != nil {
		m.log.Errorf("compaction: removing level %d manifest entries failed: %v", next, err)
	}
	m.requestManifestReload()
}

func removeByID(runs []*sstable.LazyRun, ids []uint64) []*sstable.LazyRun {
	idSet := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	out := runs[:0:0]
	for _, r := range runs {
		if !idSet[r.Metadata().SSTableID] {
			out = append(out, r)
		}
	}
	return out
}

func mergeRuns(runs []*sstable.LazyRun) ([]entry.Entry, error) {
	var all []entry.Entry
	for _, r := range runs {
		entries, err := r.ReadAll()
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// dedupeAndFilter builds key -> entry-with-max-timestamp, then drops
// tombstones if bottommost (tombstones survive everywhere else, preserving
// suppression semantics for lower levels).
func dedupeAndFilter(entries []entry.Entry, bottommost bool) []entry.Entry {
	best := make(map[string]entry.Entry, len(entries))
	for _, e := range entries {
		cur, ok := best[e.Key]
		if !ok || e.NewerThan(cur) {
			best[e.Key] = e
		}
	}
	out := make([]entry.Entry, 0, len(best))
	for _, e := range best {
		if bottommost && e.IsDeleted {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Compact performs a full compaction: collects every entry across every
// level, deduplicates (max-timestamp wins), drops tombstones
// unconditionally (full compaction is bottommost by construction, spec
// §4.8/§9's documented caveat), sorts, and writes a single new run at
// targetLevel (or the highest existing level, or L1 if only L0 holds
// runs). Then retires and deletes every previous run.
func (m *Manager) Compact(targetLevel *int) (manifest.RunEntry, error) {
	m.mu.Lock()
	levelNums := make([]int, 0, len(m.levels))
	var allRuns []*sstable.LazyRun
	perLevelIDs := make(map[int][]uint64)
	for l, runs := range m.levels {
		if len(runs) == 0 {
			continue
		}
		levelNums = append(levelNums, l)
		cp := append([]*sstable.LazyRun(nil), runs...)
		allRuns = append(allRuns, cp...)
		perLevelIDs[l] = idsOf(cp)
	}
	m.mu.Unlock()

	if len(allRuns) == 0 {
		return manifest.RunEntry{}, ErrEmptyStore
	}
	sort.Ints(levelNums)

	target := 1
	if targetLevel != nil {
		target = *targetLevel
	} else if len(levelNums) > 0 {
		highest := levelNums[len(levelNums)-1]
		if highest > 0 {
			target = highest
		}
	}

	merged, err := mergeRuns(allRuns)
	if err != nil {
		return manifest.RunEntry{}, err
	}
	survivors := dedupeAndFilter(merged, true)
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].Key < survivors[j].Key })

	var published manifest.RunEntry
	if len(survivors) > 0 {
		published, err = m.AddSSTable(survivors, target, false)
		if err != nil {
			return manifest.RunEntry{}, err
		}
	}

	for level, ids := range perLevelIDs {
		m.mu.Lock()
		m.levels[level] = removeByID(m.levels[level], ids)
		m.mu.Unlock()
		if err := m.manifestMgr.RemoveSSTables(ids, &level); err != nil {
			m.log.Errorf("compaction: full compact removing level %d manifest entries failed: %v", level, err)
		}
	}
	m.requestManifestReload()

	for _, r := range allRuns {
		if err := r.Delete(); err != nil {
			m.log.Warnf("compaction: full compact failed to delete retired run: %v", err)
		}
	}

	return published, nil
}
