package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/kvforge/lsmkv/internal/logging"
)

// Manager lazily instantiates per-level manifests, discovers existing
// levels by scanning manifests/level_*.json, and coordinates allocation of
// run-IDs through the global manifest. See spec §4.7.
type Manager struct {
	mu           sync.Mutex
	dir          string
	global       *GlobalManifest
	levels       map[int]*LevelManifest
	log          logging.Logger
}

// Open loads the global manifest, discovers any existing per-level
// manifests on disk, and migrates a legacy single-file manifest.json if one
// is found.
func Open(manifestsDir string, log logging.Logger) (*Manager, error) {
	if log == nil {
		log = logging.Noop()
	}
	if err := os.MkdirAll(manifestsDir, 0o755); err != nil {
		return nil, err
	}
	gm, err := OpenGlobal(manifestsDir)
	if err != nil {
		return nil, err
	}
	mgr := &Manager{dir: manifestsDir, global: gm, levels: make(map[int]*LevelManifest), log: log}

	if err := mgr.discoverLevelsLocked(); err != nil {
		return nil, err
	}
	if err := mgr.migrateLegacyLocked(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) discoverLevelsLocked() error {
	ents, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "level_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "level_"), ".json")
		level, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		if _, err := m.levelLocked(level); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) levelLocked(level int) (*LevelManifest, error) {
	if lm, ok := m.levels[level]; ok {
		return lm, nil
	}
	lm, err := OpenLevel(m.dir, level)
	if err != nil {
		return nil, err
	}
	m.levels[level] = lm
	return lm, nil
}

// Level returns the manifest for level, lazily instantiating it.
func (m *Manager) Level(level int) (*LevelManifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levelLocked(level)
}

// Levels returns the set of levels that currently have a manifest, sorted
// ascending.
func (m *Manager) Levels() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.levels))
	for l := range m.levels {
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}

// Global exposes the global manifest for ID allocation.
func (m *Manager) Global() *GlobalManifest { return m.global }

// AddSSTable allocates a run-ID via the global manifest and inserts e (with
// e.SSTableID filled in) into level's manifest.
func (m *Manager) AddSSTable(level int, e RunEntry) (RunEntry, error) {
	id, err := m.global.GetNextID()
	if err != nil {
		return RunEntry{}, err
	}
	e.SSTableID = id
	e.Level = level

	lm, err := m.Level(level)
	if err != nil {
		return RunEntry{}, err
	}
	if err := lm.AddSSTable(e); err != nil {
		return RunEntry{}, err
	}
	return e, nil
}

// RemoveSSTables removes ids from level's manifest. If level is nil, every
// known level is checked.
func (m *Manager) RemoveSSTables(ids []uint64, level *int) error {
	idSet := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	levels := []int{}
	if level != nil {
		levels = append(levels, *level)
	} else {
		levels = m.Levels()
	}
	for _, l := range levels {
		lm, err := m.Level(l)
		if err != nil {
			return err
		}
		if err := lm.RemoveSSTables(idSet); err != nil {
			return err
		}
	}
	return nil
}

// ClearLevel empties level's manifest.
func (m *Manager) ClearLevel(level int) error {
	lm, err := m.Level(level)
	if err != nil {
		return err
	}
	return lm.Clear()
}

// legacy single-file manifest format, pre-per-level split.
type legacyDoc struct {
	NextSSTableID uint64     `json:"next_sstable_id"`
	Entries       []RunEntry `json:"entries"`
}

// migrateLegacyLocked migrates manifests/manifest.json (if present) into
// per-level files, marks the migration in the global manifest's metadata,
// and renames the legacy file to a .backup suffix. Runs once: after the
// rename no manifest.json is left, so a later Open has nothing to migrate.
func (m *Manager) migrateLegacyLocked() error {
	legacyPath := filepath.Join(m.dir, "manifest.json")
	b, err := os.ReadFile(legacyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var doc legacyDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}

	byLevel := make(map[int][]RunEntry)
	for _, e := range doc.Entries {
		byLevel[e.Level] = append(byLevel[e.Level], e)
	}
	for level, entries := range byLevel {
		lm, err := m.levelLocked(level)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := lm.AddSSTable(e); err != nil {
				return err
			}
		}
	}

	if err := m.global.SetNextID(doc.NextSSTableID); err != nil {
		return err
	}
	migrationID := uuid.NewString()
	if err := m.global.SetMetadata("migrated_from_legacy_manifest", migrationID); err != nil {
		return err
	}
	m.log.Infof("manifest: migrated legacy manifest.json to per-level files (migration_id=%s)", migrationID)

	return os.Rename(legacyPath, legacyPath+".backup")
}
