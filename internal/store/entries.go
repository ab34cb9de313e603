package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/saferoom/hazsync/internal/models"
	"github.com/saferoom/hazsync/internal/uuid"
)

var (
	// ErrNotFound is returned when no entry exists for the given id.
	ErrNotFound = errors.New("entry not found")

	// ErrVersionMismatch is returned when the expected version no longer
	// matches the entry's current version. The current snapshot is
	// returned alongside it so the caller can build a conflict record.
	ErrVersionMismatch = errors.New("entry version mismatch")

	// ErrDuplicateID is returned when a create names an id that already
	// exists.
	ErrDuplicateID = errors.New("entry id already exists")
)

// EntryStore provides versioned reads and atomic compare-and-increment
// writes over the entries table.
type EntryStore struct {
	db *DB
}

// NewEntryStore creates an EntryStore over an open database.
func NewEntryStore(db *DB) *EntryStore {
	return &EntryStore{db: db}
}

// Create inserts a new entry at version 1 and records the create in the
// change log within the same transaction.
func (s *EntryStore) Create(ctx context.Context, analysisID, entryID string, fields models.EntryChanges, authorID string) (*models.EntrySnapshot, error) {
	if entryID == "" {
		entryID = uuid.New()
	}

	snap := &models.EntrySnapshot{
		ID:         entryID,
		AnalysisID: analysisID,
		Version:    1,
		UpdatedBy:  authorID,
		UpdatedAt:  time.Now().Unix(),
	}
	fields.Apply(snap)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin create: %w", err)
	}
	defer tx.Rollback()

	var exists int
	switch err := tx.QueryRowContext(ctx, "SELECT 1 FROM entries WHERE id = ?", snap.ID).Scan(&exists); err {
	case sql.ErrNoRows:
	case nil:
		return nil, ErrDuplicateID
	default:
		return nil, fmt.Errorf("failed to check entry id: %w", err)
	}

	causes, consequences, safeguards, recommendations, err := encodeLists(snap)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO entries (id, analysis_id, node_id, deviation, causes, consequences,
			safeguards, recommendations, severity, likelihood, risk_ranking,
			version, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.AnalysisID, snap.NodeID, snap.Deviation,
		causes, consequences, safeguards, recommendations,
		snap.Severity, snap.Likelihood, snap.RiskRanking,
		snap.Version, snap.UpdatedBy, snap.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert entry: %w", err)
	}

	if err := logChange(ctx, tx, snap.ID, models.OpCreate, snap.Version, authorID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit create: %w", err)
	}
	return snap, nil
}

// Get returns the current snapshot of one entry.
func (s *EntryStore) Get(ctx context.Context, entryID string) (*models.EntrySnapshot, error) {
	return scanEntry(s.db.QueryRowContext(ctx, selectEntry+" WHERE id = ?", entryID))
}

// List returns all entries of one analysis, ordered by node then id.
func (s *EntryStore) List(ctx context.Context, analysisID string) ([]models.EntrySnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEntry+" WHERE analysis_id = ? ORDER BY node_id, id", analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var out []models.EntrySnapshot
	for rows.Next() {
		snap, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// Update applies changes to the entry if and only if expectedVersion still
// matches the stored version, incrementing the version by exactly one. The
// guard is enforced by the UPDATE's WHERE clause, so the version check and
// the write commit as a single atomic unit. On a mismatch the current
// snapshot is returned together with ErrVersionMismatch and nothing is
// mutated.
func (s *EntryStore) Update(ctx context.Context, entryID string, expectedVersion int64, changes models.EntryChanges, operation, authorID string) (*models.EntrySnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update: %w", err)
	}
	defer tx.Rollback()

	current, err := scanEntry(tx.QueryRowContext(ctx, selectEntry+" WHERE id = ?", entryID))
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return current, ErrVersionMismatch
	}

	next := current.Clone()
	changes.Apply(&next)
	next.Version = current.Version + 1
	next.UpdatedBy = authorID
	next.UpdatedAt = time.Now().Unix()

	causes, consequences, safeguards, recommendations, err := encodeLists(&next)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE entries SET node_id = ?, deviation = ?, causes = ?, consequences = ?,
			safeguards = ?, recommendations = ?, severity = ?, likelihood = ?,
			risk_ranking = ?, version = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		next.NodeID, next.Deviation, causes, consequences,
		safeguards, recommendations, next.Severity, next.Likelihood,
		next.RiskRanking, next.Version, next.UpdatedBy, next.UpdatedAt,
		entryID, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read update result: %w", err)
	}
	if affected != 1 {
		return current, ErrVersionMismatch
	}

	if err := logChange(ctx, tx, entryID, operation, next.Version, authorID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return &next, nil
}

// Delete removes the entry and records the delete in the change log.
func (s *EntryStore) Delete(ctx context.Context, entryID, authorID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	current, err := scanEntry(tx.QueryRowContext(ctx, selectEntry+" WHERE id = ?", entryID))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", entryID); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	if err := logChange(ctx, tx, entryID, models.OpDelete, current.Version, authorID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// Changes returns the change-log rows of one entry in commit order.
func (s *EntryStore) Changes(ctx context.Context, entryID string) ([]models.ChangeLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, operation, version, author_id, timestamp
		FROM change_log WHERE entry_id = ? ORDER BY timestamp, rowid`, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeLog
	for rows.Next() {
		var c models.ChangeLog
		if err := rows.Scan(&c.ID, &c.EntryID, &c.Operation, &c.Version, &c.AuthorID, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const selectEntry = `
	SELECT id, analysis_id, node_id, deviation, causes, consequences,
		safeguards, recommendations, severity, likelihood, risk_ranking,
		version, updated_by, updated_at
	FROM entries`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.EntrySnapshot, error) {
	var (
		snap                                              models.EntrySnapshot
		causes, consequences, safeguards, recommendations string
	)
	err := row.Scan(&snap.ID, &snap.AnalysisID, &snap.NodeID, &snap.Deviation,
		&causes, &consequences, &safeguards, &recommendations,
		&snap.Severity, &snap.Likelihood, &snap.RiskRanking,
		&snap.Version, &snap.UpdatedBy, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	for _, pair := range []struct {
		raw  string
		dest *[]string
	}{
		{causes, &snap.Causes},
		{consequences, &snap.Consequences},
		{safeguards, &snap.Safeguards},
		{recommendations, &snap.Recommendations},
	} {
		if err := json.Unmarshal([]byte(pair.raw), pair.dest); err != nil {
			return nil, fmt.Errorf("failed to decode list column: %w", err)
		}
	}
	return &snap, nil
}

func encodeLists(s *models.EntrySnapshot) (causes, consequences, safeguards, recommendations string, err error) {
	enc := func(in []string) (string, error) {
		if in == nil {
			in = []string{}
		}
		b, err := json.Marshal(in)
		if err != nil {
			return "", fmt.Errorf("failed to encode list column: %w", err)
		}
		return string(b), nil
	}
	if causes, err = enc(s.Causes); err != nil {
		return
	}
	if consequences, err = enc(s.Consequences); err != nil {
		return
	}
	if safeguards, err = enc(s.Safeguards); err != nil {
		return
	}
	recommendations, err = enc(s.Recommendations)
	return
}

func logChange(ctx context.Context, tx *sql.Tx, entryID, operation string, version int64, authorID string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO change_log (id, entry_id, operation, version, author_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New(), entryID, operation, version, authorID, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}
	return nil
}
