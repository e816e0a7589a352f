// Package peerstore implements the peer's content-addressed, capacity-
// bounded blob store: an in-memory digest→path index backed by a
// crash-safe bbolt database, a redundant flat snapshot file, and a
// directory-rescan rebuild path for recovery.
package peerstore

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/leafstore/leafnode/internal/crypto"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const (
	indexBucket = "index"

	// DefaultMaxCapacity is the peer's default storage ceiling.
	DefaultMaxCapacity int64 = 10 << 30 // 10 GiB

	chunksDir    = "chunks"
	indexDBFile  = "index.db"
	snapshotFile = "index.snapshot"
)

var (
	// ErrDuplicateDigest is returned by Save when the digest is already
	// stored.
	ErrDuplicateDigest = errors.New("peerstore: digest already stored")
	// ErrFull is returned by Save when the capacity bound would be
	// exceeded.
	ErrFull = errors.New("peerstore: at capacity")
	// ErrNotFound is returned by Get for an absent digest.
	ErrNotFound = errors.New("peerstore: digest not found")
	// ErrIndexCorrupted signals the persisted index could not be read
	// and must be rebuilt from the chunks directory.
	ErrIndexCorrupted = errors.New("peerstore: index corrupted")
)

type entry struct {
	path string // relative to root, i.e. "chunks/<uuid>.bin"
	size int64
}

// Store is a peer's local chunk store: an in-memory digest→path index, a
// running byte counter, and the root directory holding both the bbolt
// index database and the chunk payload files.
type Store struct {
	mu          sync.Mutex
	root        string
	maxCapacity int64

	index      map[string]entry
	totalBytes int64

	db      *bolt.DB
	batcher *batcher
}

// Open creates or reopens a Store rooted at dir, loading its persisted
// index. maxCapacity <= 0 selects DefaultMaxCapacity.
func Open(dir string, maxCapacity int64) (*Store, error) {
	if maxCapacity <= 0 {
		maxCapacity = DefaultMaxCapacity
	}
	if err := os.MkdirAll(filepath.Join(dir, chunksDir), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir chunks dir")
	}

	db, err := bolt.Open(filepath.Join(dir, indexDBFile), 0o600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open index db")
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists([]byte(indexBucket))
		return e
	}); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create index bucket")
	}

	s := &Store{
		root:        dir,
		maxCapacity: maxCapacity,
		index:       make(map[string]entry),
		db:          db,
		batcher:     newBatcher(db),
	}

	if err := s.loadIndex(); err != nil {
		if snapErr := s.loadSnapshot(); snapErr != nil {
			if rebuildErr := s.Rebuild(); rebuildErr != nil {
				db.Close()
				return nil, errors.Wrap(rebuildErr, "rebuild after corrupted index")
			}
		}
	}
	return s, nil
}

// loadSnapshot attempts to recover the index from the flat snapshot file
// written by Snapshot. Open calls it only when reading the opened bbolt
// index fails; a missing index database is created empty and loads
// without error, so the snapshot is not consulted then, and an index
// database that bbolt cannot open makes Open return that error.
func (s *Store) loadSnapshot() error {
	raw, err := os.ReadFile(filepath.Join(s.root, snapshotFile))
	if err != nil {
		return errSnapshotMissing
	}
	index, totalBytes, err := decodeSnapshot(raw)
	if err != nil {
		return err
	}
	s.index = index
	s.totalBytes = totalBytes
	return nil
}

func (s *Store) loadIndex() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(indexBucket))
		if b == nil {
			return ErrIndexCorrupted
		}
		return b.ForEach(func(k, v []byte) error {
			path := string(v)
			info, err := os.Stat(filepath.Join(s.root, path))
			if err != nil {
				// Referenced file missing: index entry is stale, skip it
				// rather than fail the whole load.
				return nil
			}
			s.index[string(k)] = entry{path: path, size: info.Size()}
			s.totalBytes += info.Size()
			return nil
		})
	})
}

// Admit reports whether digest could currently be deposited: absent from
// the index and under the capacity bound. It mutates nothing.
func (s *Store) Admit(digest crypto.Digest, reservedSize int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked(digest, reservedSize)
}

func (s *Store) admitLocked(digest crypto.Digest, reservedSize int64) bool {
	if _, exists := s.index[digest.String()]; exists {
		return false
	}
	return s.totalBytes+reservedSize <= s.maxCapacity
}

// Save deposits bytes under digest. It is rejected with ErrDuplicateDigest
// if the digest is already present, or ErrFull if capacity would be
// exceeded; both checks are re-evaluated here, transactionally with the
// write, since Admit is only a recent-as-of-query signal.
func (s *Store) Save(digest crypto.Digest, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := digest.String()
	if _, exists := s.index[key]; exists {
		return ErrDuplicateDigest
	}
	if s.totalBytes+int64(len(data)) > s.maxCapacity {
		return ErrFull
	}

	relPath := filepath.Join(chunksDir, uuid.NewString()+".bin")
	if err := atomicWrite(filepath.Join(s.root, relPath), data, 0o644); err != nil {
		return errors.Wrap(err, "write chunk file")
	}

	s.index[key] = entry{path: relPath, size: int64(len(data))}
	s.totalBytes += int64(len(data))
	s.batcher.put(indexBucket, []byte(key), []byte(relPath))
	return nil
}

// Get reads and removes the chunk stored under digest: a single-consumer
// pop. The index entry is erased and the byte counter decremented before
// returning. Returns ErrNotFound if absent.
func (s *Store) Get(digest crypto.Digest) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := digest.String()
	e, exists := s.index[key]
	if !exists {
		return nil, ErrNotFound
	}

	fullPath := filepath.Join(s.root, e.path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		delete(s.index, key)
		s.totalBytes -= e.size
		s.batcher.put(indexBucket, []byte(key), nil)
		return nil, errors.Wrap(err, "read chunk file")
	}
	if err := os.Remove(fullPath); err != nil {
		return nil, errors.Wrap(err, "remove chunk file")
	}

	delete(s.index, key)
	s.totalBytes -= e.size
	s.batcher.put(indexBucket, []byte(key), nil)
	return data, nil
}

// TotalBytes returns the current accounted byte total.
func (s *Store) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes
}

// Len returns the number of chunks currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Snapshot serializes the in-memory index to an atomic snapshot file,
// independent of the bbolt database, by writing to a temp file and
// renaming over the target. Call on graceful shutdown.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	buf := encodeSnapshot(s.index, s.totalBytes)
	path := filepath.Join(s.root, snapshotFile)
	s.mu.Unlock()
	return atomicWrite(path, buf, 0o644)
}

// Rebuild discards the in-memory index and recomputes it by scanning the
// chunks directory and rehashing each file's content, queuing every
// recomputed entry for the bbolt index; entries already in the bbolt
// index are not removed. Digests are derived with the first hasher
// given, or SHA-256 when none is (as when Open calls it).
func (s *Store) Rebuild(hashers ...crypto.Hasher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasher := crypto.Hasher(crypto.NewSHA256Hasher())
	if len(hashers) > 0 {
		hasher = hashers[0]
	}

	s.index = make(map[string]entry)
	s.totalBytes = 0

	dir := filepath.Join(s.root, chunksDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "scan chunks dir")
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		relPath := filepath.Join(chunksDir, de.Name())
		data, err := os.ReadFile(filepath.Join(s.root, relPath))
		if err != nil {
			continue
		}
		digest := hasher.Sum(data)
		key := digest.String()
		s.index[key] = entry{path: relPath, size: int64(len(data))}
		s.totalBytes += int64(len(data))
		s.batcher.put(indexBucket, []byte(key), []byte(relPath))
	}
	return nil
}

// Close flushes and releases the underlying index database. Callers
// should Snapshot before Close for the redundant flat snapshot file.
func (s *Store) Close() error {
	return s.db.Close()
}

// atomicWrite writes data to a temp file beside path, fsyncs it so the
// bytes are durable before the rename is visible, then renames it over
// path. A crash between the write and the rename leaves the original
// file (or no file) in place, never a partial one.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "write temp file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "fsync temp file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	return os.Rename(tmp, path)
}
