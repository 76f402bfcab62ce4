package convstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLitePersister implements Persister against the conversation_state table
// (spec §6 schema), sharing the caller's *sql.DB handle (typically the same
// WAL-mode SQLite file the SignatureStore's L2 uses) rather than opening a
// second connection to the database.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister wraps db, assuming the conversation_state table already
// exists (created by signature.L2's schema init against the same database).
func NewSQLitePersister(db *sql.DB) *SQLitePersister {
	return &SQLitePersister{db: db}
}

func (p *SQLitePersister) LoadState(ctx context.Context, scid string) (*State, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT scid, client_type, authoritative_history_json, last_signature,
		       created_at, updated_at, expires_at, access_count
		FROM conversation_state WHERE scid = ?`, scid)

	var s State
	var historyJSON string
	var expiresAt sql.NullTime
	var lastSig sql.NullString
	err := row.Scan(&s.SCID, &s.ClientType, &historyJSON, &lastSig, &s.CreatedAt, &s.UpdatedAt, &expiresAt, &s.AccessCount)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal([]byte(historyJSON), &s.AuthoritativeHistory); err != nil {
		return nil, false, fmt.Errorf("convstate: corrupt authoritative_history_json: %w", err)
	}
	s.LastSignature = lastSig.String
	s.ExpiresAt = expiresAt.Time
	return &s, true, nil
}

func (p *SQLitePersister) SaveState(ctx context.Context, s State) error {
	historyJSON, err := json.Marshal(s.AuthoritativeHistory)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO conversation_state
			(scid, client_type, authoritative_history_json, last_signature, created_at, updated_at, expires_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scid) DO UPDATE SET
			client_type=excluded.client_type,
			authoritative_history_json=excluded.authoritative_history_json,
			last_signature=excluded.last_signature,
			updated_at=excluded.updated_at,
			expires_at=excluded.expires_at,
			access_count=excluded.access_count`,
		s.SCID, s.ClientType, string(historyJSON), s.LastSignature, s.CreatedAt, s.UpdatedAt, nullTime(s.ExpiresAt), s.AccessCount)
	return err
}

func (p *SQLitePersister) DeleteExpired(ctx context.Context, olderThan time.Time) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM conversation_state WHERE updated_at < ?`, olderThan)
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
