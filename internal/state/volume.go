package state

import (
	"database/sql"
	"errors"
	"time"
)

// DefaultVolume is reported until a volume has been saved.
const DefaultVolume = 65535

// GetVolume returns the saved volume, or DefaultVolume.
func (m *Manager) GetVolume() (int, error) {
	return getVolume(m.db)
}

func getVolume(db *sql.DB) (int, error) {
	var volume int
	err := db.QueryRow(`SELECT volume FROM device_state WHERE id = 1`).Scan(&volume)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultVolume, nil
	}
	if err != nil {
		return 0, err
	}
	return volume, nil
}

func saveVolume(db *sql.DB, volume int) error {
	_, err := db.Exec(`
		INSERT INTO device_state (id, volume, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			volume = excluded.volume,
			updated_at = excluded.updated_at
	`, volume, time.Now().Unix())
	return err
}
