package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"BookEngine/internal/observability"
)

var (
	// ErrRecordNotFound covers unknown RNs and records that are not
	// visible (allocated, aborted or archived).
	ErrRecordNotFound = errors.New("record not found")
	// ErrHeadNotFound is returned by GetHead and Update for an unknown
	// head key.
	ErrHeadNotFound = errors.New("head key not found")
)

// DB is one fixed-size record database. RNs are allocated monotonically
// and never reused; every logical update appends a new version under a
// fresh RN and repoints the head-key index, archiving the old one.
type DB struct {
	cfg DBConfig
	id  uint16
	dir string
	log zerolog.Logger
	m   *observability.Metrics

	mu      sync.Mutex
	nextRN  uint64            // next allocatable RN
	written uint64            // slots below this are backfilled on disk
	heads   map[string]uint64 // head key -> latest committed RN
	pending map[uint64]bool   // allocated, not yet committed or aborted
	files   map[uint64]*recordFile
}

func openDB(cfg DBConfig, id uint16, dir string, log zerolog.Logger, m *observability.Metrics) (*DB, error) {
	db := &DB{
		cfg:     cfg,
		id:      id,
		dir:     dir,
		log:     log.With().Str("db", cfg.Name).Logger(),
		m:       m,
		heads:   make(map[string]uint64),
		pending: make(map[uint64]bool),
		files:   make(map[uint64]*recordFile),
	}
	if err := db.recover(); err != nil {
		return nil, fmt.Errorf("db %s: %w", cfg.Name, err)
	}
	return db, nil
}

func (db *DB) slotSize() int64 {
	return slotHeaderSize + maxHeadKey + db.cfg.RecordSize
}

func (db *DB) file(idx uint64) (*recordFile, error) {
	if rf, ok := db.files[idx]; ok {
		return rf, nil
	}
	rf, err := openRecordFile(db.dir, db.cfg.Name, idx, db.slotSize())
	if err != nil {
		return nil, err
	}
	db.files[idx] = rf
	return rf, nil
}

func (db *DB) locate(rn uint64) (uint64, uint64) {
	return rn / db.cfg.RecordsPerFile, rn % db.cfg.RecordsPerFile
}

// recover rebuilds nextRN and the head index by scanning files from RN
// zero until the first unwritten slot. A later committed version of a
// head key supersedes an earlier one. An unrecognized magic aborts the
// scan: the file set is corrupt and the database refuses to open.
func (db *DB) recover() error {
	for rn := uint64(0); ; rn++ {
		fileIdx, slot := db.locate(rn)
		rf, err := db.file(fileIdx)
		if err != nil {
			return err
		}
		magic, key, _, err := rf.readSlot(slot)
		if err != nil {
			return err
		}

		switch magic {
		case 0:
			db.nextRN = rn
			db.written = rn
			db.log.Info().Uint64("next_rn", rn).Int("heads", len(db.heads)).Msg("database recovered")
			return nil
		case magicCommitted:
			if key != "" {
				db.heads[key] = rn
			}
		case magicAllocated, magicAborted, magicArchived:
			// not visible
		default:
			return fmt.Errorf("rn %d: unrecognized record magic %#x", rn, magic)
		}
	}
}

// Close flushes and closes every open file.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	var firstErr error
	for _, rf := range db.files {
		if err := rf.sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := rf.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	db.files = make(map[uint64]*recordFile)
	return firstErr
}

// NextRN is the next allocatable record number, the database's
// contribution to the host's dbState vector.
func (db *DB) NextRN() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.nextRN
}

// Alloc reserves the next RN. The slot stays invisible until Commit;
// Abort releases the reservation without ever exposing it.
func (db *DB) Alloc() uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	rn := db.nextRN
	db.nextRN++
	db.pending[rn] = true
	return rn
}

// backfill writes Allocated placeholders for every unwritten slot below
// rn so a sequential recovery scan never hits a hole. Caller holds mu.
func (db *DB) backfill(rn uint64) error {
	for ; db.written < rn; db.written++ {
		fileIdx, slot := db.locate(db.written)
		rf, err := db.file(fileIdx)
		if err != nil {
			return err
		}
		if err := rf.writeSlot(slot, magicAllocated, "", nil); err != nil {
			return err
		}
	}
	return nil
}

// writeRecord writes one slot with its backfill. Caller holds mu.
func (db *DB) writeRecord(rn uint64, magic uint32, key string, data []byte) error {
	if err := db.backfill(rn); err != nil {
		return err
	}
	fileIdx, slot := db.locate(rn)
	rf, err := db.file(fileIdx)
	if err != nil {
		return err
	}
	if err := rf.writeSlot(slot, magic, key, data); err != nil {
		return err
	}
	if rn == db.written {
		db.written++
	}
	return nil
}

// archive repoints nothing, just marks the superseded RN. Caller holds mu.
func (db *DB) archive(rn uint64) error {
	fileIdx, slot := db.locate(rn)
	rf, err := db.file(fileIdx)
	if err != nil {
		return err
	}
	return rf.setMagic(slot, magicArchived)
}

// Commit makes an allocated record durable and visible. A non-empty
// head key repoints the head index to this RN, archiving the prior
// version.
func (db *DB) Commit(rn uint64, headKey string, data []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.pending[rn] {
		return fmt.Errorf("commit rn %d: %w", rn, ErrRecordNotFound)
	}
	if err := db.writeRecord(rn, magicCommitted, headKey, data); err != nil {
		return err
	}
	delete(db.pending, rn)

	if headKey != "" {
		if old, ok := db.heads[headKey]; ok {
			if err := db.archive(old); err != nil {
				return err
			}
		}
		db.heads[headKey] = rn
	}
	if db.m != nil {
		db.m.StoreRecordsCommitted.WithLabelValues(db.cfg.Name).Inc()
	}
	return nil
}

// Abort releases an allocated RN. The RN itself stays consumed.
func (db *DB) Abort(rn uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.pending[rn] {
		return fmt.Errorf("abort rn %d: %w", rn, ErrRecordNotFound)
	}
	if err := db.writeRecord(rn, magicAborted, "", nil); err != nil {
		return err
	}
	delete(db.pending, rn)
	if db.m != nil {
		db.m.StoreRecordsAborted.WithLabelValues(db.cfg.Name).Inc()
	}
	return nil
}

// Put allocates and commits in one step, returning the new RN.
func (db *DB) Put(headKey string, data []byte) (uint64, error) {
	rn := db.Alloc()
	if err := db.Commit(rn, headKey, data); err != nil {
		return 0, err
	}
	return rn, nil
}

// Update appends a new version for an existing head key. Unlike Put it
// requires the key to already resolve.
func (db *DB) Update(headKey string, data []byte) (uint64, error) {
	db.mu.Lock()
	_, ok := db.heads[headKey]
	db.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("update %q: %w", headKey, ErrHeadNotFound)
	}
	return db.Put(headKey, data)
}

// Get returns a committed record's payload. Allocated, aborted and
// archived slots are not visible.
func (db *DB) Get(rn uint64) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.get(rn)
}

func (db *DB) get(rn uint64) ([]byte, error) {
	if rn >= db.written {
		return nil, fmt.Errorf("rn %d: %w", rn, ErrRecordNotFound)
	}
	fileIdx, slot := db.locate(rn)
	rf, err := db.file(fileIdx)
	if err != nil {
		return nil, err
	}
	magic, _, data, err := rf.readSlot(slot)
	if err != nil {
		return nil, err
	}
	if magic != magicCommitted {
		return nil, fmt.Errorf("rn %d: %w", rn, ErrRecordNotFound)
	}
	return data, nil
}

// GetHead resolves a head key to its latest committed version.
func (db *DB) GetHead(headKey string) (uint64, []byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rn, ok := db.heads[headKey]
	if !ok {
		return 0, nil, fmt.Errorf("%q: %w", headKey, ErrHeadNotFound)
	}
	data, err := db.get(rn)
	if err != nil {
		return 0, nil, err
	}
	return rn, data, nil
}

// readForReplication returns the raw slot for streaming to a peer,
// skipping slots that never committed.
func (db *DB) readForReplication(rn uint64) (string, []byte, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if rn >= db.written {
		return "", nil, false, nil
	}
	fileIdx, slot := db.locate(rn)
	rf, err := db.file(fileIdx)
	if err != nil {
		return "", nil, false, err
	}
	magic, key, data, err := rf.readSlot(slot)
	if err != nil {
		return "", nil, false, err
	}
	if magic != magicCommitted {
		return "", nil, false, nil
	}
	return key, data, true, nil
}

// applyReplicated installs a record received from upstream at its
// original RN. Applying the same RN twice is idempotent; the head index
// follows the highest committed RN per key.
func (db *DB) applyReplicated(rn uint64, headKey string, data []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.writeRecord(rn, magicCommitted, headKey, data); err != nil {
		return err
	}
	delete(db.pending, rn)
	if rn >= db.nextRN {
		db.nextRN = rn + 1
	}

	if headKey != "" {
		if old, ok := db.heads[headKey]; ok && old != rn {
			if old > rn {
				// stale retransmit, the newer version stays head
				return nil
			}
			if err := db.archive(old); err != nil {
				return err
			}
		}
		db.heads[headKey] = rn
	}
	if db.m != nil {
		db.m.StoreRecordsCommitted.WithLabelValues(db.cfg.Name).Inc()
	}
	return nil
}
