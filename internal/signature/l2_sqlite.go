package signature

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, registers under the "sqlite" name
)

// L2 is the durable, WAL-mode SQLite-backed layer of the SignatureStore,
// schema per spec §6. It is opened with modernc.org/sqlite (CGO-free) rather
// than mattn/go-sqlite3, so the gateway runs in minimal containers without a
// C toolchain — see DESIGN.md for the dropped-dependency rationale.
//
// Grounded in internal/memory/backend/sqlitevec.Backend's init()/prepared
// statement idiom, generalized from one table to the four in spec §6.
type L2 struct {
	db *sql.DB
}

// OpenL2 opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func OpenL2(path string) (*L2, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("signature: open l2: %w", err)
	}
	l2 := &L2{db: db}
	if err := l2.init(); err != nil {
		db.Close()
		return nil, err
	}
	return l2, nil
}

func (l2 *L2) init() error {
	statements := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS signature_cache (
			cache_key TEXT PRIMARY KEY,
			thinking_hash TEXT NOT NULL,
			signature TEXT NOT NULL,
			thinking_prefix TEXT,
			model TEXT,
			namespace TEXT NOT NULL,
			conversation_id TEXT,
			created_at DATETIME NOT NULL,
			expires_at DATETIME,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed_at DATETIME,
			metadata_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signature_cache_hash ON signature_cache(thinking_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_signature_cache_namespace ON signature_cache(namespace)`,
		`CREATE INDEX IF NOT EXISTS idx_signature_cache_conversation ON signature_cache(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signature_cache_expires ON signature_cache(expires_at)`,
		`CREATE TABLE IF NOT EXISTS tool_signature_cache (
			tool_id TEXT PRIMARY KEY,
			signature TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS session_signature_cache (
			session_id TEXT PRIMARY KEY,
			signature TEXT NOT NULL,
			thinking_text TEXT,
			created_at DATETIME NOT NULL,
			expires_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_state (
			scid TEXT PRIMARY KEY,
			client_type TEXT,
			authoritative_history_json TEXT NOT NULL,
			last_signature TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			expires_at DATETIME,
			access_count INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range statements {
		if _, err := l2.db.Exec(stmt); err != nil {
			return fmt.Errorf("signature: l2 schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database handle.
func (l2 *L2) Close() error { return l2.db.Close() }

// DB returns the underlying database handle so other schemas (C3's
// conversation_state table) can share this same SQLite file and connection
// pool instead of opening a second one.
func (l2 *L2) DB() *sql.DB { return l2.db }

// Get fetches an unexpired entry by cache key.
func (l2 *L2) Get(ctx context.Context, cacheKey string, now time.Time) (Entry, bool, error) {
	row := l2.db.QueryRowContext(ctx, `
		SELECT signature, thinking_hash, thinking_prefix, model, namespace, conversation_id,
		       created_at, expires_at, access_count, last_accessed_at
		FROM signature_cache WHERE cache_key = ?`, cacheKey)

	var e Entry
	var expiresAt, lastAccessed sql.NullTime
	err := row.Scan(&e.Signature, &e.ThinkingHash, &e.ThinkingPrefix, &e.Model, &e.Namespace, &e.ConversationID,
		&e.CreatedAt, &expiresAt, &e.AccessCount, &lastAccessed)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.ExpiresAt = expiresAt.Time
	e.LastAccessedAt = lastAccessed.Time
	if e.Expired(now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// GetByHash implements the "fallback lookup by hash alone, ignoring
// namespace" cross-client reuse path (spec §4.1, Open Question (a)).
func (l2 *L2) GetByHash(ctx context.Context, thinkingHash string, now time.Time) (Entry, bool, error) {
	row := l2.db.QueryRowContext(ctx, `
		SELECT signature, thinking_hash, thinking_prefix, model, namespace, conversation_id,
		       created_at, expires_at, access_count, last_accessed_at
		FROM signature_cache WHERE thinking_hash = ?
		ORDER BY last_accessed_at DESC LIMIT 1`, thinkingHash)

	var e Entry
	var expiresAt, lastAccessed sql.NullTime
	err := row.Scan(&e.Signature, &e.ThinkingHash, &e.ThinkingPrefix, &e.Model, &e.Namespace, &e.ConversationID,
		&e.CreatedAt, &expiresAt, &e.AccessCount, &lastAccessed)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.ExpiresAt = expiresAt.Time
	e.LastAccessedAt = lastAccessed.Time
	if e.Expired(now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// GetMostRecent implements layer 5/6 of the recovery pipeline: "most
// recently cached signature (any namespace)".
func (l2 *L2) GetMostRecent(ctx context.Context, now time.Time) (Entry, bool, error) {
	row := l2.db.QueryRowContext(ctx, `
		SELECT signature, thinking_hash, thinking_prefix, model, namespace, conversation_id,
		       created_at, expires_at, access_count, last_accessed_at
		FROM signature_cache
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY last_accessed_at DESC LIMIT 1`, now)

	var e Entry
	var expiresAt, lastAccessed sql.NullTime
	err := row.Scan(&e.Signature, &e.ThinkingHash, &e.ThinkingPrefix, &e.Model, &e.Namespace, &e.ConversationID,
		&e.CreatedAt, &expiresAt, &e.AccessCount, &lastAccessed)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e.ExpiresAt = expiresAt.Time
	e.LastAccessedAt = lastAccessed.Time
	return e, true, nil
}

// Set upserts an entry, keyed by CacheKey.
func (l2 *L2) Set(ctx context.Context, cacheKey string, e Entry) error {
	_, err := l2.db.ExecContext(ctx, `
		INSERT INTO signature_cache
			(cache_key, thinking_hash, signature, thinking_prefix, model, namespace, conversation_id,
			 created_at, expires_at, access_count, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			signature=excluded.signature, thinking_prefix=excluded.thinking_prefix,
			model=excluded.model, expires_at=excluded.expires_at,
			access_count=excluded.access_count, last_accessed_at=excluded.last_accessed_at`,
		cacheKey, e.ThinkingHash, e.Signature, e.ThinkingPrefix, e.Model, e.Namespace, e.ConversationID,
		e.CreatedAt, nullTime(e.ExpiresAt), e.AccessCount, nullTime(e.LastAccessedAt))
	return err
}

// Delete removes an entry by cache key.
func (l2 *L2) Delete(ctx context.Context, cacheKey string) error {
	_, err := l2.db.ExecContext(ctx, `DELETE FROM signature_cache WHERE cache_key = ?`, cacheKey)
	return err
}

// Clear deletes entries matching the optional namespace/conversation filter.
func (l2 *L2) Clear(ctx context.Context, namespace, conversationID string) error {
	switch {
	case namespace != "" && conversationID != "":
		_, err := l2.db.ExecContext(ctx, `DELETE FROM signature_cache WHERE namespace = ? AND conversation_id = ?`, namespace, conversationID)
		return err
	case namespace != "":
		_, err := l2.db.ExecContext(ctx, `DELETE FROM signature_cache WHERE namespace = ?`, namespace)
		return err
	default:
		_, err := l2.db.ExecContext(ctx, `DELETE FROM signature_cache`)
		return err
	}
}

// PurgeExpired deletes rows past their expiry, the periodic sweep spec §4.1
// requires for L2.
func (l2 *L2) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := l2.db.ExecContext(ctx, `DELETE FROM signature_cache WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ToolGet/ToolSet/SessionGet/SessionSet implement the tool_id and session_id
// namespaced surfaces (spec §4.1 "specialised tool_get/set, session_get/set").

func (l2 *L2) ToolGet(ctx context.Context, toolID string, now time.Time) (ToolEntry, bool, error) {
	row := l2.db.QueryRowContext(ctx, `SELECT tool_id, signature, expires_at FROM tool_signature_cache WHERE tool_id = ?`, toolID)
	var e ToolEntry
	var expiresAt sql.NullTime
	if err := row.Scan(&e.ToolID, &e.Signature, &expiresAt); err == sql.ErrNoRows {
		return ToolEntry{}, false, nil
	} else if err != nil {
		return ToolEntry{}, false, err
	}
	e.ExpiresAt = expiresAt.Time
	if !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt) {
		return ToolEntry{}, false, nil
	}
	return e, true, nil
}

func (l2 *L2) ToolSet(ctx context.Context, e ToolEntry) error {
	_, err := l2.db.ExecContext(ctx, `
		INSERT INTO tool_signature_cache (tool_id, signature, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(tool_id) DO UPDATE SET signature=excluded.signature, expires_at=excluded.expires_at`,
		e.ToolID, e.Signature, time.Now(), nullTime(e.ExpiresAt))
	return err
}

func (l2 *L2) SessionGet(ctx context.Context, sessionID string, now time.Time) (SessionEntry, bool, error) {
	row := l2.db.QueryRowContext(ctx, `SELECT session_id, signature, thinking_text, expires_at FROM session_signature_cache WHERE session_id = ?`, sessionID)
	var e SessionEntry
	var expiresAt sql.NullTime
	if err := row.Scan(&e.SessionID, &e.Signature, &e.ThinkingText, &expiresAt); err == sql.ErrNoRows {
		return SessionEntry{}, false, nil
	} else if err != nil {
		return SessionEntry{}, false, err
	}
	e.ExpiresAt = expiresAt.Time
	if !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt) {
		return SessionEntry{}, false, nil
	}
	return e, true, nil
}

func (l2 *L2) SessionSet(ctx context.Context, e SessionEntry) error {
	_, err := l2.db.ExecContext(ctx, `
		INSERT INTO session_signature_cache (session_id, signature, thinking_text, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET signature=excluded.signature, thinking_text=excluded.thinking_text, expires_at=excluded.expires_at`,
		e.SessionID, e.Signature, e.ThinkingText, time.Now(), nullTime(e.ExpiresAt))
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
