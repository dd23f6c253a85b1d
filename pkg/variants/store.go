package variants

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed persistent variant store: unique on
// (ref, position) for variant_units, (variant_unit_id, reading_index) for
// witness_readings, and (reading_id, siglum, source_pack_id) for
// reading_support — the last of which is what makes multi-pack aggregation
// idempotent.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) a variant store against an existing
// *sql.DB, a pre-opened handle passed in rather than owning the DSN.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS variant_units (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ref TEXT NOT NULL,
	position INTEGER NOT NULL,
	classification TEXT NOT NULL,
	significance TEXT NOT NULL,
	sblgnt_reading_index INTEGER NOT NULL,
	reason_code TEXT,
	reason_summary TEXT,
	reason_detail TEXT,
	notes TEXT,
	source_pack_id TEXT,
	UNIQUE(ref, position)
);

CREATE TABLE IF NOT EXISTS witness_readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	variant_unit_id INTEGER NOT NULL REFERENCES variant_units(id) ON DELETE CASCADE,
	reading_index INTEGER NOT NULL,
	surface_text TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	notes TEXT,
	source_pack_id TEXT,
	UNIQUE(variant_unit_id, reading_index)
);

CREATE TABLE IF NOT EXISTS reading_support (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	reading_id INTEGER NOT NULL REFERENCES witness_readings(id) ON DELETE CASCADE,
	siglum TEXT NOT NULL,
	type TEXT NOT NULL,
	century_earliest INTEGER,
	century_latest INTEGER,
	source_pack_id TEXT NOT NULL,
	UNIQUE(reading_id, siglum, source_pack_id)
);
`
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return fmt.Errorf("variants: enabling foreign keys: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("variants: migrating schema: %w", err)
	}
	return nil
}

// GetByRefPosition fetches a single variant unit, or nil if absent.
func (s *Store) GetByRefPosition(ctx context.Context, ref string, position int) (*VariantUnit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ref, position, classification, significance, sblgnt_reading_index,
		       reason_code, reason_summary, reason_detail, notes, source_pack_id
		FROM variant_units WHERE ref = ? AND position = ?`, ref, position)

	vu, err := scanVariantUnit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("variants: get %s/%d: %w", ref, position, err)
	}
	if err := s.loadReadings(ctx, vu); err != nil {
		return nil, err
	}
	return vu, nil
}

// ListByVerse returns every variant unit anchored to ref, ordered by position.
func (s *Store) ListByVerse(ctx context.Context, ref string) ([]*VariantUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ref, position, classification, significance, sblgnt_reading_index,
		       reason_code, reason_summary, reason_detail, notes, source_pack_id
		FROM variant_units WHERE ref = ? ORDER BY position ASC`, ref)
	if err != nil {
		return nil, fmt.Errorf("variants: list by verse %s: %w", ref, err)
	}
	defer func() { _ = rows.Close() }()

	var result []*VariantUnit
	for rows.Next() {
		vu, err := scanVariantUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("variants: scanning row: %w", err)
		}
		if err := s.loadReadings(ctx, vu); err != nil {
			return nil, err
		}
		result = append(result, vu)
	}
	return result, rows.Err()
}

// ListSignificant returns variants at ref whose significance is significant
// or major — the set the pipeline orchestrator gates on.
func (s *Store) ListSignificant(ctx context.Context, ref string) ([]*VariantUnit, error) {
	all, err := s.ListByVerse(ctx, ref)
	if err != nil {
		return nil, err
	}
	var out []*VariantUnit
	for _, vu := range all {
		if vu.Significance == SignificanceSignificant || vu.Significance == SignificanceMajor {
			out = append(out, vu)
		}
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanVariantUnit(row scannable) (*VariantUnit, error) {
	var vu VariantUnit
	var reasonCode, reasonSummary, reasonDetail, notes, sourcePackID sql.NullString
	if err := row.Scan(&vu.ID, &vu.Ref, &vu.Position, &vu.Classification, &vu.Significance,
		&vu.SBLGNTReadingIndex, &reasonCode, &reasonSummary, &reasonDetail, &notes, &sourcePackID); err != nil {
		return nil, err
	}
	vu.Reason = Reason{Code: reasonCode.String, Summary: reasonSummary.String, Detail: reasonDetail.String}
	vu.Notes = notes.String
	vu.SourcePackID = sourcePackID.String
	return &vu, nil
}

func (s *Store) loadReadings(ctx context.Context, vu *VariantUnit) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reading_index, surface_text, normalized_text, notes, source_pack_id
		FROM witness_readings WHERE variant_unit_id = ? ORDER BY reading_index ASC`, vu.ID)
	if err != nil {
		return fmt.Errorf("variants: loading readings for %d: %w", vu.ID, err)
	}
	defer func() { _ = rows.Close() }()

	var readings []WitnessReading
	var readingIDs []int64
	for rows.Next() {
		var r WitnessReading
		var id int64
		var notes, sourcePackID sql.NullString
		if err := rows.Scan(&id, &r.ReadingIndex, &r.SurfaceText, &r.NormalizedText, &notes, &sourcePackID); err != nil {
			return fmt.Errorf("variants: scanning reading: %w", err)
		}
		r.Notes = notes.String
		r.SourcePackID = sourcePackID.String
		readings = append(readings, r)
		readingIDs = append(readingIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i, id := range readingIDs {
		supports, err := s.loadSupports(ctx, id)
		if err != nil {
			return err
		}
		readings[i].SupportSet = supports
	}
	vu.Readings = readings
	return nil
}

func (s *Store) loadSupports(ctx context.Context, readingID int64) ([]WitnessSupport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT siglum, type, century_earliest, century_latest, source_pack_id
		FROM reading_support WHERE reading_id = ? ORDER BY siglum ASC, source_pack_id ASC`, readingID)
	if err != nil {
		return nil, fmt.Errorf("variants: loading support for reading %d: %w", readingID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []WitnessSupport
	for rows.Next() {
		var ws WitnessSupport
		var early, late sql.NullInt64
		if err := rows.Scan(&ws.Siglum, &ws.Type, &early, &late, &ws.SourcePackID); err != nil {
			return nil, fmt.Errorf("variants: scanning support: %w", err)
		}
		if early.Valid {
			v := int(early.Int64)
			ws.CenturyEarly = &v
		}
		if late.Valid {
			v := int(late.Int64)
			ws.CenturyLate = &v
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// SaveVariant upserts a VariantUnit at (ref, position), replacing all of its
// readings and support sets. Used for initial creation, not for merge-mode
// updates (see AddReading / AddSupport for those).
func (s *Store) SaveVariant(ctx context.Context, vu *VariantUnit) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("variants: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO variant_units (ref, position, classification, significance, sblgnt_reading_index,
			reason_code, reason_summary, reason_detail, notes, source_pack_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ref, position) DO UPDATE SET
			classification=excluded.classification,
			significance=excluded.significance,
			sblgnt_reading_index=excluded.sblgnt_reading_index,
			reason_code=excluded.reason_code,
			reason_summary=excluded.reason_summary,
			reason_detail=excluded.reason_detail,
			notes=excluded.notes,
			source_pack_id=excluded.source_pack_id
	`, vu.Ref, vu.Position, vu.Classification, vu.Significance, vu.SBLGNTReadingIndex,
		vu.Reason.Code, vu.Reason.Summary, vu.Reason.Detail, vu.Notes, vu.SourcePackID)
	if err != nil {
		return 0, fmt.Errorf("variants: upserting variant unit: %w", err)
	}

	// LastInsertId does not identify the row on the DO UPDATE path, so the
	// id is always read back by (ref, position).
	var variantID int64
	row := tx.QueryRowContext(ctx, `SELECT id FROM variant_units WHERE ref = ? AND position = ?`, vu.Ref, vu.Position)
	if err := row.Scan(&variantID); err != nil {
		return 0, fmt.Errorf("variants: resolving variant id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM witness_readings WHERE variant_unit_id = ?`, variantID); err != nil {
		return 0, fmt.Errorf("variants: clearing old readings: %w", err)
	}

	for _, r := range vu.Readings {
		if err := insertReading(ctx, tx, variantID, r); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("variants: commit: %w", err)
	}
	return variantID, nil
}

func insertReading(ctx context.Context, tx *sql.Tx, variantID int64, r WitnessReading) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO witness_readings (variant_unit_id, reading_index, surface_text, normalized_text, notes, source_pack_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		variantID, r.ReadingIndex, r.SurfaceText, r.NormalizedText, r.Notes, r.SourcePackID)
	if err != nil {
		return fmt.Errorf("variants: inserting reading: %w", err)
	}
	readingID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("variants: resolving reading id: %w", err)
	}
	for _, sup := range r.SupportSet {
		if err := insertSupport(ctx, tx, readingID, sup); err != nil {
			return err
		}
	}
	return nil
}

func insertSupport(ctx context.Context, tx *sql.Tx, readingID int64, sup WitnessSupport) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO reading_support (reading_id, siglum, type, century_earliest, century_latest, source_pack_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(reading_id, siglum, source_pack_id) DO NOTHING`,
		readingID, sup.Siglum, sup.Type, sup.CenturyEarly, sup.CenturyLate, sup.SourcePackID)
	if err != nil {
		return fmt.Errorf("variants: inserting support: %w", err)
	}
	return nil
}

// FindReadingByNormalizedText returns the reading id whose normalized_text
// matches within the given variant unit, or 0 if none.
func (s *Store) FindReadingByNormalizedText(ctx context.Context, variantID int64, normalizedText string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM witness_readings WHERE variant_unit_id = ? AND normalized_text = ?`,
		variantID, normalizedText)
	var id int64
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("variants: finding reading by normalized text: %w", err)
	}
	return id, nil
}

// AddSupport inserts a WitnessSupport into an existing reading, relying on
// the (reading_id, siglum, source_pack_id) uniqueness constraint for
// idempotency. Returns true if a new row was actually inserted.
func (s *Store) AddSupport(ctx context.Context, readingID int64, sup WitnessSupport) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO reading_support (reading_id, siglum, type, century_earliest, century_latest, source_pack_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(reading_id, siglum, source_pack_id) DO NOTHING`,
		readingID, sup.Siglum, sup.Type, sup.CenturyEarly, sup.CenturyLate, sup.SourcePackID)
	if err != nil {
		return false, fmt.Errorf("variants: adding support: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("variants: rows affected: %w", err)
	}
	return n > 0, nil
}

// AddReading appends a brand-new WitnessReading (with a fresh reading_index)
// to an existing variant unit.
func (s *Store) AddReading(ctx context.Context, variantID int64, r WitnessReading) error {
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(reading_index), -1) + 1 FROM witness_readings WHERE variant_unit_id = ?`, variantID)
	var nextIndex int
	if err := row.Scan(&nextIndex); err != nil {
		return fmt.Errorf("variants: computing next reading index: %w", err)
	}
	r.ReadingIndex = nextIndex

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("variants: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := insertReading(ctx, tx, variantID, r); err != nil {
		return err
	}
	return tx.Commit()
}

// MarshalDebug is a convenience for tests/diagnostics dumping.
func (vu *VariantUnit) MarshalDebug() string {
	b, _ := json.Marshal(vu)
	return string(b)
}
