package memtable

import (
	"sync"

	"github.com/kvforge/lsmkv/internal/entry"
	"github.com/kvforge/lsmkv/internal/logging"
)

// FlushCallback is invoked by a flush worker (or a synchronous drain) with
// an immutable memtable that must be persisted. The manager never talks to
// the WAL or the SSTable manager directly — the facade injects this
// function, avoiding the back-reference spec §9 warns against.
type FlushCallback func(*Immutable) error

// Manager owns the active memtable and a FIFO queue of at most
// MaxImmutable immutables, plus a bounded flush worker pool. See spec §4.6.
type Manager struct {
	mu sync.Mutex

	active  *Memtable
	nextSeq uint64

	queue []*Immutable

	maxEntries     int
	maxImmutable   int
	maxMemoryBytes int64

	onFlush FlushCallback
	log     logging.Logger

	jobs   chan *Immutable
	wg     sync.WaitGroup
	closed bool

	totalRotations    int
	totalAsyncFlushes int
}

// Config bundles the manager's construction parameters.
type Config struct {
	MaxEntries     int
	MaxImmutable   int
	MaxMemoryBytes int64
	FlushWorkers   int
	OnFlush        FlushCallback
	Log            logging.Logger
}

// NewManager starts the flush worker pool and returns a ready manager with
// one empty active memtable.
func NewManager(cfg Config) *Manager {
	log := cfg.Log
	if log == nil {
		log = logging.Noop()
	}
	workers := cfg.FlushWorkers
	if workers <= 0 {
		workers = 1
	}
	m := &Manager{
		active:         New(cfg.MaxEntries),
		maxEntries:     cfg.MaxEntries,
		maxImmutable:   cfg.MaxImmutable,
		maxMemoryBytes: cfg.MaxMemoryBytes,
		onFlush:        cfg.OnFlush,
		log:            log,
		jobs:           make(chan *Immutable, cfg.MaxImmutable+workers+1),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.flushWorker()
	}
	return m
}

func (m *Manager) flushWorker() {
	defer m.wg.Done()
	for imm := range m.jobs {
		if imm == nil {
			continue
		}
		if err := m.onFlush(imm); err != nil {
			m.log.Errorf("memtable: flush of immutable seq=%d failed: %v", imm.SequenceNumber, err)
		}
	}
}

// Put inserts e into the active memtable, rotating (and possibly
// triggering a flush) if that makes it full.
func (m *Manager) Put(e entry.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active.Put(e)
	m.rotateIfFullLocked()
}

// Delete inserts a tombstone into the active memtable, same rotation rule
// as Put.
func (m *Manager) Delete(e entry.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active.Delete(e)
	m.rotateIfFullLocked()
}

func (m *Manager) rotateIfFullLocked() {
	if !m.active.IsFull() {
		return
	}
	m.rotateActiveLocked()
	m.checkAndFlushLocked()
}

func (m *Manager) rotateActiveLocked() *Immutable {
	m.nextSeq++
	imm := newImmutable(m.active, m.nextSeq)
	m.queue = append(m.queue, imm)
	m.active = New(m.maxEntries)
	m.totalRotations++
	return imm
}

// checkAndFlushLocked submits the oldest immutable to the worker pool if
// the queue has reached MaxImmutable or total immutable memory has reached
// MaxMemoryBytes. Submission does not block the caller (the channel is
// sized generously; if it is ever full we still must not deadlock the
// caller holding the manager lock, so we spawn the send in a goroutine).
func (m *Manager) checkAndFlushLocked() {
	if len(m.queue) == 0 {
		return
	}
	if !m.immutableThresholdsMetLocked() {
		return
	}
	oldest := m.queue[0]
	m.queue = m.queue[1:]
	m.submitAsync(oldest)
	m.totalAsyncFlushes++
}

func (m *Manager) immutableThresholdsMetLocked() bool {
	if m.maxImmutable > 0 && len(m.queue) >= m.maxImmutable {
		return true
	}
	if m.maxMemoryBytes > 0 {
		var total int64
		for _, imm := range m.queue {
			total += imm.EstimatedBytes
		}
		if total >= m.maxMemoryBytes {
			return true
		}
	}
	return false
}

func (m *Manager) submitAsync(imm *Immutable) {
	select {
	case m.jobs <- imm:
	default:
		go func() { m.jobs <- imm }()
	}
}

// Get checks the active memtable first, then the immutable queue
// newest-to-oldest, returning the first entry found (tombstones included —
// the facade distinguishes deletion from absence).
func (m *Manager) Get(key string) (entry.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.active.Get(key, true); ok {
		return e, true
	}
	for i := len(m.queue) - 1; i >= 0; i-- {
		if e, ok := m.queue[i].Memtable.Get(key, true); ok {
			return e, true
		}
	}
	return entry.Entry{}, false
}

// RotateForFlush synchronously wraps the active memtable as immutable (if
// it has entries) and enqueues it, returning the reference. The caller
// flushes it via the same callback path the worker pool uses and later
// calls RemoveFlushedImmutable to drop it from the queue. This keeps the
// data readable via Get until the run it becomes is actually published —
// spec §4.6's "no read visibility gap" guarantee.
func (m *Manager) RotateForFlush() *Immutable {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active.Len() == 0 {
		return nil
	}
	return m.rotateActiveLocked()
}

// RemoveFlushedImmutable drops imm from the queue once its run has been
// published.
func (m *Manager) RemoveFlushedImmutable(imm *Immutable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.queue {
		if q == imm {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

// ForceFlushAll synchronously drains the immutable queue and the active
// memtable through the flush callback, oldest first.
func (m *Manager) ForceFlushAll() error {
	m.mu.Lock()
	var pending []*Immutable
	pending = append(pending, m.queue...)
	m.queue = nil
	if m.active.Len() > 0 {
		m.nextSeq++
		pending = append(pending, newImmutable(m.active, m.nextSeq))
		m.active = New(m.maxEntries)
	}
	m.mu.Unlock()

	for _, imm := range pending {
		if err := m.onFlush(imm); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts the worker pool down and waits for in-flight flushes.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.jobs)
	m.wg.Wait()
}

// QueueLen reports the current immutable queue depth, diagnostic only.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// ActiveLen reports the active memtable's entry count, diagnostic only.
func (m *Manager) ActiveLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.Len()
}

// ActiveFull reports whether the active memtable has reached MaxEntries.
func (m *Manager) ActiveFull() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.IsFull()
}

// QueueFull reports whether the immutable queue has reached MaxImmutable.
func (m *Manager) QueueFull() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxImmutable > 0 && len(m.queue) >= m.maxImmutable
}

// MaxImmutable reports the configured immutable queue capacity.
func (m *Manager) MaxImmutable() int {
	return m.maxImmutable
}

// ImmutableMemoryBytes reports the total estimated size of the immutable
// queue's memtables, diagnostic only.
func (m *Manager) ImmutableMemoryBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, imm := range m.queue {
		total += imm.EstimatedBytes
	}
	return total
}

// MaxMemoryBytes reports the configured immutable-queue memory ceiling.
func (m *Manager) MaxMemoryBytes() int64 {
	return m.maxMemoryBytes
}

// TotalRotations reports how many times the active memtable has rotated
// into the immutable queue over the manager's lifetime.
func (m *Manager) TotalRotations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalRotations
}

// TotalAsyncFlushes reports how many immutable memtables have been
// submitted to the flush worker pool over the manager's lifetime.
func (m *Manager) TotalAsyncFlushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalAsyncFlushes
}
