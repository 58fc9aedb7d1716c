package manifest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

type globalDoc struct {
	NextSSTableID uint64                 `json:"next_sstable_id"`
	Version       int                    `json:"version"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

const CurrentFormatVersion = 1

// GlobalManifest owns the monotonic run-ID counter and opaque migration
// metadata for the whole store. See spec §4.7/§4.9.
type GlobalManifest struct {
	mu   sync.Mutex
	path string
	doc  globalDoc
}

// OpenGlobal loads (or creates) manifests/global.json.
func OpenGlobal(manifestsDir string) (*GlobalManifest, error) {
	path := filepath.Join(manifestsDir, "global.json")
	gm := &GlobalManifest{path: path, doc: globalDoc{NextSSTableID: 1, Version: CurrentFormatVersion}}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := gm.persistLocked(); err != nil {
				return nil, err
			}
			return gm, nil
		}
		return nil, err
	}
	var doc globalDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	gm.doc = doc
	return gm, nil
}

// GetNextID returns the next run-ID and persists the incremented counter
// atomically, so run-IDs are never reused even across restarts.
func (gm *GlobalManifest) GetNextID() (uint64, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	id := gm.doc.NextSSTableID
	gm.doc.NextSSTableID = id + 1
	if err := gm.persistLocked(); err != nil {
		gm.doc.NextSSTableID = id
		return 0, err
	}
	return id, nil
}

// SetNextID advances the counter to n, but never regresses it — used only
// by migration.
func (gm *GlobalManifest) SetNextID(n uint64) error {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if n <= gm.doc.NextSSTableID {
		return nil
	}
	prev := gm.doc.NextSSTableID
	gm.doc.NextSSTableID = n
	if err := gm.persistLocked(); err != nil {
		gm.doc.NextSSTableID = prev
		return err
	}
	return nil
}

// SetMetadata stores an opaque metadata key (e.g. a migration marker).
func (gm *GlobalManifest) SetMetadata(key string, value interface{}) error {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	if gm.doc.Metadata == nil {
		gm.doc.Metadata = make(map[string]interface{})
	}
	gm.doc.Metadata[key] = value
	return gm.persistLocked()
}

// Version reports the manifest format version.
func (gm *GlobalManifest) Version() int {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	return gm.doc.Version
}

func (gm *GlobalManifest) persistLocked() error {
	b, err := json.MarshalIndent(gm.doc, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(gm.path, b)
}
