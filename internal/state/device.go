package state

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/llehouerou/waves-connect/internal/db"
)

// DeviceID returns the stored device id. When none is stored yet, it
// stores and returns generate().
func (m *Manager) DeviceID(ctx context.Context, generate func() string) (string, error) {
	return ensureDeviceID(ctx, m.db, generate)
}

func ensureDeviceID(ctx context.Context, conn *sql.DB, generate func() string) (string, error) {
	var id string
	err := db.WithTx(ctx, conn, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT device_id FROM device_state WHERE id = 1`).Scan(&id)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if id != "" {
			return nil
		}

		id = generate()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO device_state (id, device_id, updated_at)
			VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				device_id = excluded.device_id,
				updated_at = excluded.updated_at
		`, id, time.Now().Unix())
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
