// Package cache implements the versioned response cache used by the
// edge worker: a durable key→response-snapshot map partitioned into
// namespaces, where a namespace corresponds to one deployed cache
// version (e.g. "shop-cache-v3"). Exactly one namespace is current at
// a time; activation deletes every other namespace wholesale.
//
// Entries remember their insertion order so that trimming can evict
// the oldest entry by enumeration order. This is deliberately not LRU.
package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"hash/crc32"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout inside leveldb:
//
//	e:<version>|<url> -> gob(Snapshot)   one cached response
//	n:<version>       -> uint64          next insertion sequence
const (
	entryPrefix     = "e:"
	namespacePrefix = "n:"
	keySep          = "|"
)

// Snapshot is a stored HTTP response: status, headers, and body, plus
// bookkeeping used for ordering and change detection.
type Snapshot struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64  // unix seconds
	Seq      uint64 // insertion order within the namespace
	Hash32   uint32 // crc32 of Body, for revalidation change detection
}

// NewSnapshot builds a Snapshot from response parts, stamping the
// store time and body hash. Seq is assigned on Put.
func NewSnapshot(status int, header http.Header, body []byte) Snapshot {
	return Snapshot{
		Status:   status,
		Header:   cloneHeader(header),
		Body:     body,
		StoredAt: time.Now().Unix(),
		Hash32:   crc32.ChecksumIEEE(body),
	}
}

// Store is the durable cache shared by all namespaces. Safe for
// concurrent use; individual entry writes are atomic, and the design
// tolerates interleaved handlers the same way the worker does
// (overwriting a key with a fresher snapshot is always safe).
type Store struct {
	db *leveldb.DB

	mu sync.Mutex // guards sequence allocation
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Namespace returns a handle on the cache generation named by version.
// Opening a namespace is cheap and does not create anything; the
// namespace comes into existence on its first Put.
func (s *Store) Namespace(version string) *Namespace {
	return &Namespace{store: s, version: version}
}

// Namespaces lists every cache generation present in the store.
func (s *Store) Namespaces() ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(namespacePrefix)), nil)
	defer it.Release()

	var out []string
	for it.Next() {
		out = append(out, string(bytes.TrimPrefix(it.Key(), []byte(namespacePrefix))))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// DeleteNamespace removes a cache generation and every entry in it.
func (s *Store) DeleteNamespace(version string) error {
	batch := new(leveldb.Batch)

	it := s.db.NewIterator(util.BytesPrefix([]byte(entryPrefix+version+keySep)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return err
	}

	batch.Delete([]byte(namespacePrefix + version))
	return s.db.Write(batch, nil)
}

// Namespace is one cache generation. All operations are keyed by
// request URL (GET only by convention; callers enforce the method).
type Namespace struct {
	store   *Store
	version string
}

// Version returns the namespace's version string.
func (n *Namespace) Version() string { return n.version }

func (n *Namespace) entryKey(url string) []byte {
	return []byte(entryPrefix + n.version + keySep + url)
}

// Put stores a snapshot under url. Re-putting an existing url
// overwrites the snapshot but keeps its original insertion sequence,
// so repeated pre-caching of the same paths never changes the set or
// its order.
func (n *Namespace) Put(url string, snap Snapshot) error {
	s := n.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok, err := n.matchLocked(url); err != nil {
		return err
	} else if ok {
		snap.Seq = prev.Seq
		b, err := encodeGob(snap)
		if err != nil {
			return err
		}
		return s.db.Put(n.entryKey(url), b, nil)
	}

	seq, err := s.nextSeqLocked(n.version)
	if err != nil {
		return err
	}
	snap.Seq = seq

	b, err := encodeGob(snap)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(n.entryKey(url), b)
	batch.Put([]byte(namespacePrefix+n.version), encodeSeq(seq+1))
	return s.db.Write(batch, nil)
}

// Match looks up the cached snapshot for url.
func (n *Namespace) Match(url string) (Snapshot, bool, error) {
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	return n.matchLocked(url)
}

func (n *Namespace) matchLocked(url string) (Snapshot, bool, error) {
	b, err := n.store.db.Get(n.entryKey(url), nil)
	if err == leveldb.ErrNotFound {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := decodeGob(b, &snap); err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

// Delete removes the entry for url, if present.
func (n *Namespace) Delete(url string) error {
	return n.store.db.Delete(n.entryKey(url), nil)
}

// Keys returns every cached url in insertion order.
func (n *Namespace) Keys() ([]string, error) {
	type keyed struct {
		url string
		seq uint64
	}

	prefix := entryPrefix + n.version + keySep
	it := n.store.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	var items []keyed
	for it.Next() {
		url := strings.TrimPrefix(string(it.Key()), prefix)
		var snap Snapshot
		if err := decodeGob(it.Value(), &snap); err != nil {
			continue
		}
		items = append(items, keyed{url: url, seq: snap.Seq})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	out := make([]string, len(items))
	for i, k := range items {
		out[i] = k.url
	}
	return out, nil
}

// Len returns the number of entries in the namespace.
func (n *Namespace) Len() (int, error) {
	it := n.store.db.NewIterator(util.BytesPrefix([]byte(entryPrefix+n.version+keySep)), nil)
	defer it.Release()

	count := 0
	for it.Next() {
		count++
	}
	return count, it.Error()
}

// TrimOldest evicts the single oldest entry (by insertion order) if
// the namespace holds more than max entries. It evicts at most one
// entry per call, mirroring the one-eviction-per-insert policy of the
// image cache. Returns the evicted url, if any.
func (n *Namespace) TrimOldest(max int) (string, bool, error) {
	count, err := n.Len()
	if err != nil {
		return "", false, err
	}
	if count <= max {
		return "", false, nil
	}

	keys, err := n.Keys()
	if err != nil {
		return "", false, err
	}
	if len(keys) == 0 {
		return "", false, nil
	}

	oldest := keys[0]
	if err := n.Delete(oldest); err != nil {
		return "", false, err
	}
	return oldest, true, nil
}

func (s *Store) nextSeqLocked(version string) (uint64, error) {
	b, err := s.db.Get([]byte(namespacePrefix+version), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return decodeSeq(b), nil
}

func encodeSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func decodeSeq(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func init() {
	gob.Register(http.Header{})
}
