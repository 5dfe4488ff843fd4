package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/liliang-cn/ragroom/pkg/domain"
)

// SQLiteBackend keeps collections in a single SQLite database file and
// performs brute-force cosine search in process. It is the zero-dependency
// default store and comfortably handles knowledge bases up to the tens of
// thousands of chunks.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	content    TEXT NOT NULL,
	vector     TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
`

// NewSQLiteBackend opens (creating if needed) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database directory: %v", domain.ErrVectorStoreFailed, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", domain.ErrVectorStoreFailed, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", domain.ErrVectorStoreFailed, err)
	}
	return &SQLiteBackend{db: db, path: dbPath}, nil
}

func (b *SQLiteBackend) Get(ctx context.Context, collection string, where map[string]any) ([]Record, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, content, vector, metadata FROM records WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: query failed: %v", domain.ErrVectorStoreFailed, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if matchesWhere(rec.Metadata, where) {
			records = append(records, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration failed: %v", domain.ErrVectorStoreFailed, err)
	}
	return records, nil
}

func (b *SQLiteBackend) Add(ctx context.Context, collection string, records []Record) error {
	return b.upsert(ctx, collection, records)
}

func (b *SQLiteBackend) Update(ctx context.Context, collection string, records []Record) error {
	return b.upsert(ctx, collection, records)
}

func (b *SQLiteBackend) upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrVectorStoreFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO records (collection, id, content, vector, metadata) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare statement: %v", domain.ErrVectorStoreFailed, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		vecJSON, err := json.Marshal(rec.Vector)
		if err != nil {
			return fmt.Errorf("%w: failed to encode vector for %s: %v", domain.ErrVectorStoreFailed, rec.ID, err)
		}
		metaJSON, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("%w: failed to encode metadata for %s: %v", domain.ErrVectorStoreFailed, rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, rec.ID, rec.Content, string(vecJSON), string(metaJSON)); err != nil {
			return fmt.Errorf("%w: failed to store record %s: %v", domain.ErrVectorStoreFailed, rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %v", domain.ErrVectorStoreFailed, err)
	}
	return nil
}

func (b *SQLiteBackend) SimilaritySearch(ctx context.Context, collection string, vector []float64, k int) ([]domain.RetrievedDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	records, err := b.Get(ctx, collection, nil)
	if err != nil {
		return nil, err
	}

	results := make([]domain.RetrievedDocument, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) != len(vector) {
			continue
		}
		results = append(results, domain.RetrievedDocument{
			ID:              rec.ID,
			SimilarityScore: CosineDistance(vector, rec.Vector),
			Content:         rec.Content,
			Metadata:        rec.Metadata,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SimilarityScore < results[j].SimilarityScore
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (b *SQLiteBackend) DeleteCollection(ctx context.Context, collection string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("%w: failed to delete collection %s: %v", domain.ErrVectorStoreFailed, collection, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var vecJSON, metaJSON string
	if err := rows.Scan(&rec.ID, &rec.Content, &vecJSON, &metaJSON); err != nil {
		return Record{}, fmt.Errorf("%w: scan failed: %v", domain.ErrVectorStoreFailed, err)
	}
	if err := json.Unmarshal([]byte(vecJSON), &rec.Vector); err != nil {
		return Record{}, fmt.Errorf("%w: bad vector for %s: %v", domain.ErrVectorStoreFailed, rec.ID, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return Record{}, fmt.Errorf("%w: bad metadata for %s: %v", domain.ErrVectorStoreFailed, rec.ID, err)
	}
	return rec, nil
}
