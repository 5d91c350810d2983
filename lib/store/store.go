// Package store keeps fitted models in a sqlite database.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kpaschen/disttsvd/lib/decomposition"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Load for unknown model names.
var ErrNotFound = errors.New("model not found")

// ModelInfo describes a stored model without its components.
type ModelInfo struct {
	Name        string    `json:"name"`
	NComponents int       `json:"n_components"`
	NFeatures   int       `json:"n_features"`
	FittedAt    time.Time `json:"fitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store handles SQLite operations for models.
type Store struct {
	db *sql.DB
}

// NewStore opens (and creates if needed) the database at dbPath.
// ":memory:" gives a store that lives as long as the process.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// An in-memory database exists once per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS models (
    name TEXT PRIMARY KEY,
    n_components INTEGER NOT NULL,
    n_features INTEGER NOT NULL,
    fitted_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    snapshot TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_models_updated ON models(updated_at DESC);
`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores snapshot under name, replacing any model of the same name.
func (s *Store) Save(name string, snapshot *decomposition.Snapshot) error {
	if name == "" {
		return fmt.Errorf("model name must not be empty")
	}
	if snapshot == nil || len(snapshot.Components) == 0 {
		return fmt.Errorf("cannot save an empty model")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(`
INSERT INTO models (name, n_components, n_features, fitted_at, updated_at, snapshot)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
    n_components = excluded.n_components,
    n_features = excluded.n_features,
    fitted_at = excluded.fitted_at,
    updated_at = excluded.updated_at,
    snapshot = excluded.snapshot`,
		name, len(snapshot.Components), len(snapshot.Components[0]),
		snapshot.FittedAt.UTC().Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), string(data))
	if err != nil {
		return fmt.Errorf("save model %s: %w", name, err)
	}
	return nil
}

// Load returns the model stored under name, or ErrNotFound.
func (s *Store) Load(name string) (*decomposition.Snapshot, error) {
	var data string
	err := s.db.QueryRow(`SELECT snapshot FROM models WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", name, err)
	}
	var snapshot decomposition.Snapshot
	if err = json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", name, err)
	}
	return &snapshot, nil
}

// List returns all stored models, most recently updated first.
func (s *Store) List() ([]ModelInfo, error) {
	rows, err := s.db.Query(`
SELECT name, n_components, n_features, fitted_at, updated_at
FROM models ORDER BY updated_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	ret := make([]ModelInfo, 0)
	for rows.Next() {
		var info ModelInfo
		var fittedAt, updatedAt string
		if err := rows.Scan(&info.Name, &info.NComponents, &info.NFeatures, &fittedAt, &updatedAt); err != nil {
			return nil, err
		}
		info.FittedAt, _ = time.Parse(time.RFC3339Nano, fittedAt)
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		ret = append(ret, info)
	}
	return ret, rows.Err()
}

// Delete removes the model stored under name. Deleting an unknown model is not an error.
func (s *Store) Delete(name string) error {
	_, err := s.db.Exec(`DELETE FROM models WHERE name = ?`, name)
	return err
}
