package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vrsandeep/plugman/internal/models"
)

// RecordInstall appends rec to the install history of its plugin and
// profile, creating the source row on first use. The stored record is
// returned with its ID and timestamp set.
func (s *Store) RecordInstall(rec models.InstallRecord) (*models.InstallRecord, error) {
	if rec.PluginID == "" || rec.ProfileID == "" {
		return nil, fmt.Errorf("plugin id and profile id are required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var sourceID int64
	err = tx.QueryRow(`
		INSERT INTO plugin_sources (plugin_id, profile_id, source_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(plugin_id, profile_id) DO UPDATE SET
			source_url = CASE WHEN excluded.source_url = '' THEN plugin_sources.source_url ELSE excluded.source_url END,
			updated_at = excluded.updated_at
		RETURNING id
	`, rec.PluginID, rec.ProfileID, rec.SourceURL, now, now).Scan(&sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert plugin source: %w", err)
	}

	res, err := tx.Exec(`
		INSERT INTO plugin_installs (source_id, version, dir, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sourceID, rec.Version, rec.Dir, rec.Status, rec.Message, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert install record: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	rec.CreatedAt = now
	return &rec, nil
}

const installColumns = `
	SELECT i.id, s.plugin_id, s.profile_id, i.version, s.source_url, i.dir, i.status, i.message, i.created_at
	FROM plugin_installs i
	JOIN plugin_sources s ON s.id = i.source_id
`

// GetInstallHistory returns the install records of a plugin in a profile,
// newest first. A limit of zero or less returns everything.
func (s *Store) GetInstallHistory(pluginID, profileID string, limit int) ([]*models.InstallRecord, error) {
	query := installColumns + ` WHERE s.plugin_id = ? AND s.profile_id = ? ORDER BY i.created_at DESC, i.id DESC`
	args := []interface{}{pluginID, profileID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.InstallRecord
	for rows.Next() {
		rec, err := scanInstall(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetLatestInstall returns the newest install record, or nil when the plugin
// has never been installed in the profile.
func (s *Store) GetLatestInstall(pluginID, profileID string) (*models.InstallRecord, error) {
	row := s.db.QueryRow(installColumns+` WHERE s.plugin_id = ? AND s.profile_id = ? ORDER BY i.created_at DESC, i.id DESC LIMIT 1`,
		pluginID, profileID)
	rec, err := scanInstall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// DeleteInstallHistory forgets a plugin's source and, by cascade, its
// install records.
func (s *Store) DeleteInstallHistory(pluginID, profileID string) error {
	_, err := s.db.Exec("DELETE FROM plugin_sources WHERE plugin_id = ? AND profile_id = ?", pluginID, profileID)
	if err != nil {
		return fmt.Errorf("failed to delete install history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstall(row rowScanner) (*models.InstallRecord, error) {
	var rec models.InstallRecord
	err := row.Scan(&rec.ID, &rec.PluginID, &rec.ProfileID, &rec.Version, &rec.SourceURL,
		&rec.Dir, &rec.Status, &rec.Message, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
