package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SettingsStore implements store.SettingsStore over the system_settings table.
type SettingsStore struct {
	db *sql.DB
	d  Dialect
}

func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, s.d.rebind(
		`SELECT setting_value FROM system_settings WHERE setting_key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO system_settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (setting_key) DO UPDATE SET setting_value = excluded.setting_value, updated_at = excluded.updated_at`),
		key, value, time.Now().UTC(),
	)
	return err
}
