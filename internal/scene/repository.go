package scene

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Record is a stored scene document: the raw JSON exactly as authored,
// plus import bookkeeping. The parsed graph is never persisted; documents
// re-validate on read, so a store written by an older binary still goes
// through the current rules.
type Record struct {
	SceneID    string    `json:"sceneId"`
	Name       string    `json:"name"`
	Definition []byte    `json:"-"`
	SourceFile string    `json:"sourceFile,omitempty"`
	Checksum   string    `json:"checksum"`
	ImportedAt time.Time `json:"importedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Repository defines the interface for scene document persistence.
// This abstraction allows different implementations (SQLite, mock) and
// enables unit testing without database dependencies.
type Repository interface {
	// Save upserts a record. The checksum and timestamps are filled by
	// the implementation; ImportedAt is preserved across updates.
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, sceneID string) (*Record, error)
	List(ctx context.Context) ([]Record, error)
	Delete(ctx context.Context, sceneID string) error
}

// Checksum returns the hex SHA-256 of a scene document. Import uses it to
// skip rewriting unchanged files; the API exposes it so the authoring UI
// can detect drift.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// recordColumns is the SELECT column list for scene store queries.
const recordColumns = `scene_id, name, definition, source_file, checksum, imported_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed scene store.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Save upserts a scene document by scene_id.
func (r *SQLiteRepository) Save(ctx context.Context, rec *Record) error {
	now := time.Now().UTC()
	rec.Checksum = Checksum(rec.Definition)
	if rec.ImportedAt.IsZero() {
		rec.ImportedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO scenes (scene_id, name, definition, source_file, checksum, imported_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (scene_id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition,
			source_file = excluded.source_file,
			checksum = excluded.checksum,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		rec.SceneID,
		rec.Name,
		string(rec.Definition),
		rec.SourceFile,
		rec.Checksum,
		rec.ImportedAt.Format(time.RFC3339),
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving scene %s: %w", rec.SceneID, err)
	}
	return nil
}

// Get retrieves a stored scene document by ID.
func (r *SQLiteRepository) Get(ctx context.Context, sceneID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM scenes WHERE scene_id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, sceneID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSceneNotFound
		}
		return nil, fmt.Errorf("querying scene %s: %w", sceneID, err)
	}
	return rec, nil
}

// List retrieves all stored scene documents ordered by scene_id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM scenes ORDER BY scene_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning scene: %w", scanErr)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenes: %w", err)
	}
	return records, nil
}

// Delete removes a stored scene by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, sceneID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scenes WHERE scene_id = ?", sceneID)
	if err != nil {
		return fmt.Errorf("deleting scene %s: %w", sceneID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSceneNotFound
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var definition string
	var importedAt, updatedAt string

	err := scanner.Scan(
		&rec.SceneID,
		&rec.Name,
		&definition,
		&rec.SourceFile,
		&rec.Checksum,
		&importedAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Definition = []byte(definition)

	// Timestamps are written by Save in RFC3339; parse failures leave zero times
	if t, parseErr := time.Parse(time.RFC3339, importedAt); parseErr == nil {
		rec.ImportedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		rec.UpdatedAt = t
	}

	return &rec, nil
}
