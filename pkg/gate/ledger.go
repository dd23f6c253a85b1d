// Package gate implements the per-session acknowledgement ledger that
// blocks translation workflows on user-acknowledgeable decisions: which
// reading to follow for a significant variant, and whether to escalate from
// readable to traceable mode.
package gate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger is the sqlite-backed acknowledgement store.
type Ledger struct {
	db *sql.DB
}

// NewLedger opens (and migrates) a ledger against an existing *sql.DB.
func NewLedger(db *sql.DB) (*Ledger, error) {
	l := &Ledger{db: db}
	if err := l.migrate(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS variant_acks (
	session_id TEXT NOT NULL,
	variant_ref TEXT NOT NULL,
	reading_index INTEGER NOT NULL,
	context TEXT,
	acked_at TEXT NOT NULL,
	PRIMARY KEY (session_id, variant_ref)
);

CREATE TABLE IF NOT EXISTS mode_escalations (
	session_id TEXT NOT NULL,
	from_mode TEXT NOT NULL,
	to_mode TEXT NOT NULL,
	acked_at TEXT NOT NULL,
	PRIMARY KEY (session_id, to_mode)
);
`
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("gate: migrating schema: %w", err)
	}
	return nil
}

// AcknowledgeVariant records that session has chosen readingIndex for the
// variant at variantRef, replacing any prior acknowledgement for the same
// (session, variant) pair.
func (l *Ledger) AcknowledgeVariant(ctx context.Context, session, variantRef string, readingIndex int, context_ string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO variant_acks (session_id, variant_ref, reading_index, context, acked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, variant_ref) DO UPDATE SET
			reading_index=excluded.reading_index,
			context=excluded.context,
			acked_at=excluded.acked_at`,
		session, variantRef, readingIndex, context_, nowRFC3339())
	if err != nil {
		return fmt.Errorf("gate: acknowledging variant %s for session %s: %w", variantRef, session, err)
	}
	return nil
}

// AcknowledgeEscalation records that session consented to move from fromMode
// to toMode.
func (l *Ledger) AcknowledgeEscalation(ctx context.Context, session, fromMode, toMode string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO mode_escalations (session_id, from_mode, to_mode, acked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, to_mode) DO UPDATE SET
			from_mode=excluded.from_mode,
			acked_at=excluded.acked_at`,
		session, fromMode, toMode, nowRFC3339())
	if err != nil {
		return fmt.Errorf("gate: acknowledging escalation for session %s: %w", session, err)
	}
	return nil
}

// SessionState is the full set of acknowledgements recorded for a session.
type SessionState struct {
	AckedVariants map[string]int       // variant_ref -> reading_index
	Escalations   map[string]time.Time // to_mode -> acked_at
}

// LoadSessionState returns every acknowledgement recorded for session.
func (l *Ledger) LoadSessionState(ctx context.Context, session string) (*SessionState, error) {
	state := &SessionState{
		AckedVariants: make(map[string]int),
		Escalations:   make(map[string]time.Time),
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT variant_ref, reading_index FROM variant_acks WHERE session_id = ?`, session)
	if err != nil {
		return nil, fmt.Errorf("gate: loading variant acks for session %s: %w", session, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var ref string
		var idx int
		if err := rows.Scan(&ref, &idx); err != nil {
			return nil, fmt.Errorf("gate: scanning variant ack: %w", err)
		}
		state.AckedVariants[ref] = idx
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	escRows, err := l.db.QueryContext(ctx, `
		SELECT to_mode, acked_at FROM mode_escalations WHERE session_id = ?`, session)
	if err != nil {
		return nil, fmt.Errorf("gate: loading escalations for session %s: %w", session, err)
	}
	defer func() { _ = escRows.Close() }()
	for escRows.Next() {
		var toMode, ts string
		if err := escRows.Scan(&toMode, &ts); err != nil {
			return nil, fmt.Errorf("gate: scanning escalation: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("gate: parsing escalation timestamp: %w", err)
		}
		state.Escalations[toMode] = t
	}
	return state, escRows.Err()
}

// GetSessionAcks is a convenience returning only the variant_ref->reading_index
// map, for callers that don't need escalation history.
func (l *Ledger) GetSessionAcks(ctx context.Context, session string) (map[string]int, error) {
	state, err := l.LoadSessionState(ctx, session)
	if err != nil {
		return nil, err
	}
	return state.AckedVariants, nil
}

// HasEscalated reports whether session has already acknowledged moving to
// toMode.
func (l *Ledger) HasEscalated(ctx context.Context, session, toMode string) (bool, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT 1 FROM mode_escalations WHERE session_id = ? AND to_mode = ?`, session, toMode)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gate: checking escalation: %w", err)
	}
	return true, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
