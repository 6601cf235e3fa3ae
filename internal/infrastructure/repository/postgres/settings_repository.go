package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) GetEmailSettings(ctx context.Context) (domain.EmailSettings, bool, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, domain.EmailSettingsKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EmailSettings{}, false, nil
		}
		return domain.EmailSettings{}, false, fmt.Errorf("get email settings: %w", err)
	}

	var settings domain.EmailSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return domain.EmailSettings{}, false, domain.WrapError(domain.ErrInvalidInput, "unmarshal email settings", err)
	}
	return settings, true, nil
}

func (r *SettingsRepository) SaveEmailSettings(ctx context.Context, settings domain.EmailSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal email settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO settings (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`, domain.EmailSettingsKey, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save email settings: %w", err)
	}
	return nil
}
