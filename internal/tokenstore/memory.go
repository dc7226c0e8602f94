package tokenstore

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// memoryRecord is one handle's resident state.
type memoryRecord struct {
	kv      map[string]Entry
	created time.Time
	ttl     time.Duration
}

func (r *memoryRecord) expired(now time.Time) bool {
	return now.Sub(r.created) > r.ttl
}

// s3fifoHandleEntry tracks one handle's position in the eviction queues.
// The algorithm mirrors classic S3-FIFO (Yang et al., 2023): new handles
// enter the small probationary queue S; a handle accessed while resident in
// S is promoted to the protected queue M; handles evicted from S without
// having been accessed are remembered in a bounded ghost set so a
// recently-active handle that resurfaces skips straight back into M.
type s3fifoHandleEntry struct {
	record *memoryRecord
	freq   uint8
	elem   *list.Element
	inM    bool
}

// memoryBackend is the in-memory TokenMap backend. Resident handle count is
// bounded by an S3-FIFO eviction layer so a long-lived process cannot
// accumulate unbounded handles between TTL sweeps. An optional bbolt mirror
// receives a copy of a handle's record on every Create/Put and drops it when
// the handle is evicted or expires. The mirror is never read back, so
// handles do not survive a restart.
type memoryBackend struct {
	mu sync.Mutex

	capacity int
	sTarget  int
	ghostCap int

	entries map[string]*s3fifoHandleEntry
	sQueue  *list.List
	mQueue  *list.List

	ghostBuf   []string
	ghostSet   map[string]struct{}
	ghostHead  int
	ghostCount int

	mirror *bolt.DB // nil if no durability mirror configured
}

const handleBucket = "tokenmap_handles"

// NewMemoryBackend returns an in-memory Backend bounded to maxHandles
// resident handles. If mirrorPath is non-empty, a bbolt database at that
// path mirrors every Put/Create. The file is not read on open, so a new
// backend always starts with no resident handles.
func NewMemoryBackend(maxHandles int, mirrorPath string) (Backend, error) {
	if maxHandles < 2 {
		maxHandles = 2
	}
	sTarget := maxHandles / 10
	if sTarget < 1 {
		sTarget = 1
	}
	ghostCap := 2 * sTarget
	if ghostCap < 4 {
		ghostCap = 4
	}

	b := &memoryBackend{
		capacity: maxHandles,
		sTarget:  sTarget,
		ghostCap: ghostCap,
		entries:  make(map[string]*s3fifoHandleEntry, maxHandles),
		sQueue:   list.New(),
		mQueue:   list.New(),
		ghostBuf: make([]string, ghostCap),
		ghostSet: make(map[string]struct{}, ghostCap),
	}

	if mirrorPath != "" {
		db, err := bolt.Open(mirrorPath, 0600, nil)
		if err != nil {
			return nil, fmt.Errorf("open tokenmap mirror %q: %w", mirrorPath, err)
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists([]byte(handleBucket))
			return err
		}); err != nil {
			db.Close() //nolint:errcheck // best-effort close on init failure
			return nil, fmt.Errorf("create tokenmap mirror bucket: %w", err)
		}
		log.Printf("[TOKENSTORE] memory backend capacity=%d mirror=%s", maxHandles, mirrorPath)
		b.mirror = db
	} else {
		log.Printf("[TOKENSTORE] memory backend capacity=%d (no durability mirror)", maxHandles)
	}

	return b, nil
}

func (b *memoryBackend) Create(_ context.Context, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	handle, err := NewHandle()
	if err != nil {
		return "", err
	}
	rec := &memoryRecord{kv: make(map[string]Entry), created: time.Now(), ttl: ttl}

	b.mu.Lock()
	b.insertLocked(handle, rec)
	b.mu.Unlock()

	b.mirrorWrite(handle, rec)
	return handle, nil
}

func (b *memoryBackend) Put(_ context.Context, handle, placeholder string, entry Entry) error {
	b.mu.Lock()
	e, ok := b.entries[handle]
	if !ok || e.record.expired(time.Now()) {
		b.mu.Unlock()
		return ErrHandleNotFound
	}
	if e.freq < 3 {
		e.freq++
	}
	e.record.kv[placeholder] = entry
	rec := e.record
	b.mu.Unlock()

	b.mirrorWrite(handle, rec)
	return nil
}

func (b *memoryBackend) Get(_ context.Context, handle, placeholder string) (Entry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[handle]
	if !ok || e.record.expired(time.Now()) {
		return Entry{}, false, nil
	}
	if e.freq < 3 {
		e.freq++
	}
	entry, found := e.record.kv[placeholder]
	return entry, found, nil
}

func (b *memoryBackend) All(_ context.Context, handle string) (map[string]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[handle]
	if !ok || e.record.expired(time.Now()) {
		return map[string]Entry{}, nil
	}
	out := make(map[string]Entry, len(e.record.kv))
	for k, v := range e.record.kv {
		out[k] = v
	}
	return out, nil
}

func (b *memoryBackend) Cleanup(_ context.Context) error {
	now := time.Now()
	var expired []string

	b.mu.Lock()
	for handle, e := range b.entries {
		if e.record.expired(now) {
			expired = append(expired, handle)
		}
	}
	for _, handle := range expired {
		b.removeFromMemoryLocked(handle)
	}
	b.mu.Unlock()

	for _, handle := range expired {
		b.mirrorDelete(handle)
	}
	return nil
}

func (b *memoryBackend) Close() error {
	if b.mirror != nil {
		return b.mirror.Close()
	}
	return nil
}

// --- S3-FIFO eviction (adapted for handle keys rather than string values) ---

func (b *memoryBackend) insertLocked(handle string, rec *memoryRecord) {
	if e, ok := b.entries[handle]; ok {
		e.record = rec
		return
	}

	inM := b.ghostContains(handle)
	var elem *list.Element
	if inM {
		elem = b.mQueue.PushBack(handle)
	} else {
		elem = b.sQueue.PushBack(handle)
	}
	b.entries[handle] = &s3fifoHandleEntry{record: rec, freq: 0, elem: elem, inM: inM}

	for b.sQueue.Len()+b.mQueue.Len() > b.capacity {
		b.evictOneLocked()
	}
}

func (b *memoryBackend) evictOneLocked() {
	if b.sQueue.Len() > 0 {
		b.evictFromSLocked()
		return
	}
	b.evictFromMLocked()
}

func (b *memoryBackend) evictFromSLocked() {
	front := b.sQueue.Front()
	if front == nil {
		return
	}
	handle, _ := front.Value.(string)
	b.sQueue.Remove(front)

	e, ok := b.entries[handle]
	if !ok {
		return
	}

	if e.freq > 0 {
		e.freq = 0
		e.inM = true
		e.elem = b.mQueue.PushBack(handle)
		mTarget := b.capacity - b.sTarget
		if b.mQueue.Len() > mTarget {
			b.evictFromMLocked()
		}
	} else {
		delete(b.entries, handle)
		b.ghostAdd(handle)
		go b.mirrorDelete(handle)
	}
}

func (b *memoryBackend) evictFromMLocked() {
	front := b.mQueue.Front()
	if front == nil {
		return
	}
	handle, _ := front.Value.(string)
	b.mQueue.Remove(front)
	delete(b.entries, handle)
	go b.mirrorDelete(handle)
}

func (b *memoryBackend) removeFromMemoryLocked(handle string) {
	e, ok := b.entries[handle]
	if !ok {
		return
	}
	if e.inM {
		b.mQueue.Remove(e.elem)
	} else {
		b.sQueue.Remove(e.elem)
	}
	delete(b.entries, handle)
}

func (b *memoryBackend) ghostContains(handle string) bool {
	_, ok := b.ghostSet[handle]
	return ok
}

func (b *memoryBackend) ghostAdd(handle string) {
	if _, exists := b.ghostSet[handle]; exists {
		return
	}
	if b.ghostCount == b.ghostCap {
		oldest := b.ghostBuf[b.ghostHead]
		delete(b.ghostSet, oldest)
		b.ghostHead = (b.ghostHead + 1) % b.ghostCap
		b.ghostCount--
	}
	writeIdx := (b.ghostHead + b.ghostCount) % b.ghostCap
	b.ghostBuf[writeIdx] = handle
	b.ghostSet[handle] = struct{}{}
	b.ghostCount++
}

// --- durability mirror ---

type mirrorRecord struct {
	KV      map[string]Entry `json:"kv"`
	Created time.Time        `json:"created"`
	TTLSecs float64          `json:"ttlSecs"`
}

func (b *memoryBackend) mirrorWrite(handle string, rec *memoryRecord) {
	if b.mirror == nil {
		return
	}
	payload, err := json.Marshal(mirrorRecord{KV: rec.kv, Created: rec.created, TTLSecs: rec.ttl.Seconds()})
	if err != nil {
		log.Printf("[TOKENSTORE] mirror marshal error: %v", err)
		return
	}
	if err := b.mirror.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(handleBucket)).Put([]byte(handle), payload)
	}); err != nil {
		log.Printf("[TOKENSTORE] mirror write error: %v", err)
	}
}

func (b *memoryBackend) mirrorDelete(handle string) {
	if b.mirror == nil {
		return
	}
	if err := b.mirror.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(handleBucket)).Delete([]byte(handle))
	}); err != nil {
		log.Printf("[TOKENSTORE] mirror delete error: %v", err)
	}
}
