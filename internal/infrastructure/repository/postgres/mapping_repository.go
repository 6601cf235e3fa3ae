package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

type MappingRepository struct {
	db *sql.DB
}

func NewMappingRepository(db *sql.DB) *MappingRepository {
	return &MappingRepository{db: db}
}

// FindByTag returns nil without error when no rule exists for qrType.
func (r *MappingRepository) FindByTag(ctx context.Context, qrType string) (*domain.FileMapping, error) {
	var m domain.FileMapping
	err := r.db.QueryRowContext(ctx, `
SELECT qr_type, category, name_pattern
FROM file_mappings
WHERE qr_type = $1
`, qrType).Scan(&m.QRType, &m.Category, &m.NamePattern)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find file mapping: %w", err)
	}
	return &m, nil
}

func (r *MappingRepository) List(ctx context.Context) ([]domain.FileMapping, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT qr_type, category, name_pattern
FROM file_mappings
ORDER BY qr_type
`)
	if err != nil {
		return nil, fmt.Errorf("list file mappings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.FileMapping, 0)
	for rows.Next() {
		var m domain.FileMapping
		if err := rows.Scan(&m.QRType, &m.Category, &m.NamePattern); err != nil {
			return nil, fmt.Errorf("scan file mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file mappings: %w", err)
	}
	return out, nil
}

// SeedDefaults inserts defaults only when the table is empty, so operator
// edits survive restarts.
func (r *MappingRepository) SeedDefaults(ctx context.Context, defaults []domain.FileMapping) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE file_mappings IN EXCLUSIVE MODE`); err != nil {
		return 0, fmt.Errorf("lock file mappings: %w", err)
	}
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_mappings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count file mappings: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	inserted := 0
	for _, m := range defaults {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO file_mappings (qr_type, category, name_pattern)
VALUES ($1,$2,$3)
ON CONFLICT (qr_type) DO NOTHING
`, m.QRType, m.Category, m.NamePattern); err != nil {
			return 0, fmt.Errorf("insert file mapping %s: %w", m.QRType, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed tx: %w", err)
	}
	return inserted, nil
}
