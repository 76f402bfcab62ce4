package signature

import (
	"context"
	"sync"
	"time"
)

// StoreOptions configures a Store's layering.
type StoreOptions struct {
	L1          L1Options         `yaml:"l1"`
	WriteBehind bool              `yaml:"write_behind"` // false = synchronous write-through to L2
	Queue       AsyncQueueOptions `yaml:"queue"`
}

// Store is the SignatureStore (C1): L1 in-memory LRU+TTL in front of a
// durable SQLite L2, with an optional async write-behind queue. L2 failures
// never fail a Get/Set — they degrade the store to L1-only and are recorded
// in Stats (spec §4.1 "Failure semantics").
type Store struct {
	l1    *L1
	l2    *L2 // may be nil: L1-only mode
	queue *AsyncWriteQueue

	mu          sync.Mutex
	lastEntry   *Entry
	hits, misses int64
}

// NewStore constructs a layered SignatureStore. l2 may be nil to run L1-only.
func NewStore(l2 *L2, opts StoreOptions) *Store {
	s := &Store{
		l1: NewL1(opts.L1),
		l2: l2,
	}
	if l2 != nil && opts.WriteBehind {
		s.queue = NewAsyncWriteQueue(l2, opts.Queue, nil)
		s.queue.Start()
	}
	return s
}

// Get implements the L1 -> L2 read path with hash-alone cross-namespace
// fallback (spec §4.1 "Read path").
func (s *Store) Get(ctx context.Context, thinkingHash, namespace, conversationID string) (Entry, bool) {
	now := time.Now()
	key := Key(namespace, conversationID, thinkingHash)

	if e, ok := s.l1.Get(key, now); ok {
		s.recordHit()
		return e, true
	}

	if s.l2 != nil {
		if e, ok, err := s.l2.Get(ctx, key, now); err == nil && ok {
			s.l1.Set(key, e, now)
			s.recordHit()
			return e, true
		}
	}

	s.recordMiss()
	return Entry{}, false
}

// GetByHash performs the fallback-by-hash-alone lookup described in spec §4.1
// and flagged as Open Question (a) in §9; a hit is promoted into the
// requested namespace in L1 only.
func (s *Store) GetByHash(ctx context.Context, thinkingHash, promoteNamespace, promoteConversationID string) (Entry, bool) {
	if s.l2 == nil {
		return Entry{}, false
	}
	now := time.Now()
	e, ok, err := s.l2.GetByHash(ctx, thinkingHash, now)
	if err != nil || !ok {
		return Entry{}, false
	}
	promoted := e
	promoted.Namespace = promoteNamespace
	promoted.ConversationID = promoteConversationID
	s.l1.Set(Key(promoteNamespace, promoteConversationID, thinkingHash), promoted, now)
	return e, true
}

// GetMostRecent returns the most recently accessed signature across all
// namespaces, used by recovery layer 5 (spec §4.2).
func (s *Store) GetMostRecent(ctx context.Context) (Entry, bool) {
	s.mu.Lock()
	if s.lastEntry != nil && !s.lastEntry.Expired(time.Now()) {
		e := *s.lastEntry
		s.mu.Unlock()
		return e, true
	}
	s.mu.Unlock()

	if s.l2 == nil {
		return Entry{}, false
	}
	e, ok, err := s.l2.GetMostRecent(ctx, time.Now())
	if err != nil || !ok {
		return Entry{}, false
	}
	return e, true
}

// Set writes synchronously to L1 and, depending on configuration, either
// synchronously or via the AsyncWriteQueue to L2 (spec §4.1 "Write-through
// or write-behind").
func (s *Store) Set(ctx context.Context, e Entry) {
	now := time.Now()
	key := Key(e.Namespace, e.ConversationID, e.ThinkingHash)
	s.l1.Set(key, e, now)

	s.mu.Lock()
	entryCopy := e
	s.lastEntry = &entryCopy
	s.mu.Unlock()

	if s.l2 == nil {
		return
	}
	if s.queue != nil {
		s.queue.Enqueue(key, e)
		return
	}
	_ = s.l2.Set(ctx, key, e) // errors are degrade-to-L1-only by design
}

// Delete removes an entry from both layers.
func (s *Store) Delete(ctx context.Context, thinkingHash, namespace, conversationID string) {
	key := Key(namespace, conversationID, thinkingHash)
	s.l1.Delete(key)
	if s.l2 != nil {
		_ = s.l2.Delete(ctx, key)
	}
}

// Clear removes entries from both layers matching namespace/conversationID
// (empty strings clear everything).
func (s *Store) Clear(ctx context.Context, namespace, conversationID string) {
	s.l1.Clear(func(e Entry) bool {
		return (namespace == "" || e.Namespace == namespace) && (conversationID == "" || e.ConversationID == conversationID)
	})
	if s.l2 != nil {
		_ = s.l2.Clear(ctx, namespace, conversationID)
	}
}

// Sweep purges expired entries from L1 and L2, intended to run on a
// periodic timer (spec §4.1).
func (s *Store) Sweep(ctx context.Context) {
	s.l1.Sweep(time.Now())
	if s.l2 != nil {
		_, _ = s.l2.PurgeExpired(ctx, time.Now())
	}
}

// ToolGet/ToolSet/SessionGet/SessionSet proxy straight to L2 since the
// tool-id and session namespaces are small, short-lived maps that don't
// warrant a separate L1 (spec §4.1 "specialised ... surfaces").

func (s *Store) ToolGet(ctx context.Context, toolID string) (ToolEntry, bool) {
	if s.l2 == nil {
		return ToolEntry{}, false
	}
	e, ok, err := s.l2.ToolGet(ctx, toolID, time.Now())
	if err != nil {
		return ToolEntry{}, false
	}
	return e, ok
}

func (s *Store) ToolSet(ctx context.Context, e ToolEntry) {
	if s.l2 != nil {
		_ = s.l2.ToolSet(ctx, e)
	}
}

func (s *Store) SessionGet(ctx context.Context, sessionID string) (SessionEntry, bool) {
	if s.l2 == nil {
		return SessionEntry{}, false
	}
	e, ok, err := s.l2.SessionGet(ctx, sessionID, time.Now())
	if err != nil {
		return SessionEntry{}, false
	}
	return e, ok
}

func (s *Store) SessionSet(ctx context.Context, e SessionEntry) {
	if s.l2 != nil {
		_ = s.l2.SessionSet(ctx, e)
	}
}

// Stats is the SignatureStore's observable health surface.
type Stats struct {
	Hits, Misses int64
	L1Size       int
	TotalFailed  int64
	LastError    string
}

// Stats reports cache hit/miss counters plus async-queue failure state.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	hits, misses := s.hits, s.misses
	s.mu.Unlock()

	stats := Stats{Hits: hits, Misses: misses, L1Size: s.l1.Len()}
	if s.queue != nil {
		stats.TotalFailed, stats.LastError = s.queue.Stats()
	}
	return stats
}

func (s *Store) recordHit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *Store) recordMiss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

// Close stops the async write queue, if any.
func (s *Store) Close(ctx context.Context) {
	if s.queue != nil {
		s.queue.Stop(ctx)
	}
}
