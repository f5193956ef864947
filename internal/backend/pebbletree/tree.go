// Package pebbletree implements backend.RealtimeDB on top of a PebbleDB
// key-value store. Nodes form a tree addressed by slash paths; direct
// children keep insertion order through 8-byte big-endian sequence keys.
package pebbletree

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cnc-lab/talk.git/internal/backend"
)

var ErrBadPath = errors.New("pebbletree: empty or invalid path")

// Key layout:
//
//	v!<path>              -> JSON value of the node
//	c!<parent>\x00<seq8>  -> child key name, seq increasing per write
//	k!<parent>\x00<child> -> seq8 of the child (existence / reverse lookup)
//	m!seq                 -> next sequence number
const (
	valuePrefix = "v!"
	childPrefix = "c!"
	linkPrefix  = "k!"
	sep         = "\x00"
)

var metaSeqKey = []byte("m!seq")

type childSub struct {
	path string
	fn   backend.ChildFunc
}

type valueSub struct {
	path string
	fn   backend.ValueFunc
}

// Store is a tree store with synchronous listener fan-out. Writers are
// serialized and fan-out runs before the writer lock is released, so a
// listener observes every change in commit order and never reentrantly.
// Callbacks may attach further listeners but must not write back into the
// store; a write from a callback would deadlock on the writer lock.
type Store struct {
	db *pebble.DB

	mu      sync.Mutex // serializes writers and seq allocation
	nextSeq uint64

	lmu       sync.Mutex // guards the listener registry
	nextSubID int
	childSubs map[int]*childSub
	valueSubs map[int]*valueSub
}

// Open opens (or creates) a store persisted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

// OpenMem opens an in-memory store, used by tests.
func OpenMem() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

func newStore(db *pebble.DB) (*Store, error) {
	s := &Store{
		db:        db,
		childSubs: map[int]*childSub{},
		valueSubs: map[int]*valueSub{},
	}
	// Recover the sequence counter.
	if raw, closer, err := db.Get(metaSeqKey); err == nil {
		if len(raw) == 8 {
			s.nextSeq = binary.BigEndian.Uint64(raw)
		}
		_ = closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// normalize trims the path and collapses redundant slashes.
func normalize(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", ErrBadPath
	}
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return "", ErrBadPath
	}
	return p, nil
}

func valueKey(p string) []byte { return []byte(valuePrefix + p) }

func childIndexKey(parent string, seq uint64) []byte {
	k := make([]byte, 0, len(childPrefix)+len(parent)+1+8)
	k = append(k, childPrefix...)
	k = append(k, parent...)
	k = append(k, sep...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

func linkKey(parent, child string) []byte {
	return []byte(linkPrefix + parent + sep + child)
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

type link struct {
	parent string
	child  string
}

// ensureLineage indexes every missing parent/child link along p, allocating
// sequence slots in the batch. Returns the links that did not exist before.
func (s *Store) ensureLineage(b *pebble.Batch, p string) []link {
	var added []link
	segs := strings.Split(p, "/")
	parent := ""
	for _, seg := range segs {
		if _, closer, err := s.db.Get(linkKey(parent, seg)); err == nil {
			_ = closer.Close()
		} else {
			seq := s.nextSeq
			s.nextSeq++
			var sb [8]byte
			binary.BigEndian.PutUint64(sb[:], seq)
			_ = b.Set(childIndexKey(parent, seq), []byte(seg), nil)
			_ = b.Set(linkKey(parent, seg), sb[:], nil)
			added = append(added, link{parent: parent, child: seg})
		}
		if parent == "" {
			parent = seg
		} else {
			parent = parent + "/" + seg
		}
	}
	if len(added) > 0 {
		var sb [8]byte
		binary.BigEndian.PutUint64(sb[:], s.nextSeq)
		_ = b.Set(metaSeqKey, sb[:], nil)
	}
	return added
}

func (s *Store) Write(p string, v any) error {
	p, err := normalize(p)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.db.NewBatch()
	added := s.ensureLineage(b, p)
	_ = b.Set(valueKey(p), raw, nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	s.fanOut(p, added)
	return nil
}

func (s *Store) Update(p string, fields map[string]any) error {
	p, err := normalize(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := map[string]any{}
	if raw, closer, err := s.db.Get(valueKey(p)); err == nil {
		if uerr := json.Unmarshal(raw, &obj); uerr != nil {
			obj = map[string]any{}
		}
		_ = closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	for k, v := range fields {
		obj[k] = v
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	added := s.ensureLineage(b, p)
	_ = b.Set(valueKey(p), raw, nil)
	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	s.fanOut(p, added)
	return nil
}

func (s *Store) Delete(p string) error {
	p, err := normalize(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.db.NewBatch()

	// Node value and everything below it.
	_ = b.Delete(valueKey(p), nil)
	_ = b.DeleteRange(valueKey(p+"/"), keyUpperBound(valueKey(p+"/")), nil)

	// Child indexes rooted at or below p.
	for _, pre := range []string{childPrefix, linkPrefix} {
		self := []byte(pre + p + sep)
		_ = b.DeleteRange(self, keyUpperBound(self), nil)
		below := []byte(pre + p + "/")
		_ = b.DeleteRange(below, keyUpperBound(below), nil)
	}

	// Unlink p from its own parent.
	parent, child := splitParent(p)
	if raw, closer, gerr := s.db.Get(linkKey(parent, child)); gerr == nil {
		if len(raw) == 8 {
			seq := binary.BigEndian.Uint64(raw)
			_ = b.Delete(childIndexKey(parent, seq), nil)
		}
		_ = closer.Close()
		_ = b.Delete(linkKey(parent, child), nil)
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return err
	}
	s.fanOut(p, nil)
	return nil
}

func splitParent(p string) (parent, child string) {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i], p[i+1:]
	}
	return "", p
}

func (s *Store) GenerateKey(string) string { return uuid.NewString() }

func (s *Store) Children(p string) ([]backend.Child, error) {
	p, err := normalize(p)
	if err != nil {
		return nil, err
	}
	prefix := []byte(childPrefix + p + sep)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()
	var out []backend.Child
	for it.First(); it.Valid(); it.Next() {
		key := string(it.Value())
		out = append(out, backend.Child{Key: key, Raw: s.rawValue(p + "/" + key)})
	}
	return out, nil
}

func (s *Store) rawValue(p string) []byte {
	raw, closer, err := s.db.Get(valueKey(p))
	if err != nil {
		return []byte("null")
	}
	cp := append([]byte(nil), raw...)
	_ = closer.Close()
	return cp
}

func (s *Store) childCount(p string) int {
	prefix := []byte(childPrefix + p + sep)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: keyUpperBound(prefix)})
	if err != nil {
		log.Warn().Err(err).Str("path", p).Msg("pebbletree: child count iterator")
		return 0
	}
	defer func() { _ = it.Close() }()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	return n
}

// ChildAdded registers fn for new children of p and replays the existing
// ones first. Attaching while another goroutine writes to the same branch
// may replay a racing child twice; the screens attach before they write.
func (s *Store) ChildAdded(p string, fn backend.ChildFunc) backend.UnsubscribeFunc {
	p, err := normalize(p)
	if err != nil {
		return func() {}
	}
	s.lmu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.childSubs[id] = &childSub{path: p, fn: fn}
	s.lmu.Unlock()

	if kids, err := s.Children(p); err == nil {
		for _, k := range kids {
			fn(k.Key, k.Raw)
		}
	}
	return func() {
		s.lmu.Lock()
		delete(s.childSubs, id)
		s.lmu.Unlock()
	}
}

// Value registers fn for changes at or below p and fires it once with the
// current snapshot.
func (s *Store) Value(p string, fn backend.ValueFunc) backend.UnsubscribeFunc {
	p, err := normalize(p)
	if err != nil {
		return func() {}
	}
	s.lmu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.valueSubs[id] = &valueSub{path: p, fn: fn}
	s.lmu.Unlock()

	fn(backend.Snapshot{Path: p, Size: s.childCount(p)})
	return func() {
		s.lmu.Lock()
		delete(s.valueSubs, id)
		s.lmu.Unlock()
	}
}

func ancestorOrEqual(anc, p string) bool {
	return anc == p || strings.HasPrefix(p, anc+"/")
}

// fanOut delivers one callback per affected listener for a committed change
// at path p. added lists the parent/child links created by the change.
func (s *Store) fanOut(p string, added []link) {
	s.lmu.Lock()
	var children []*childSub
	var values []*valueSub
	for _, sub := range s.childSubs {
		children = append(children, sub)
	}
	for _, sub := range s.valueSubs {
		values = append(values, sub)
	}
	s.lmu.Unlock()

	for _, l := range added {
		for _, sub := range children {
			if sub.path == l.parent {
				full := l.child
				if l.parent != "" {
					full = l.parent + "/" + l.child
				}
				sub.fn(l.child, s.rawValue(full))
			}
		}
	}
	for _, sub := range values {
		if ancestorOrEqual(sub.path, p) {
			sub.fn(backend.Snapshot{Path: sub.path, Size: s.childCount(sub.path)})
		}
	}
}
