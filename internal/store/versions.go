package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrLastVersion is returned when a delete would leave an artifact with no
// active versions.
var ErrLastVersion = errors.New("cannot delete the only active version")

// CreateVersion assigns the next sequence number for the artifact and makes
// the new version latest, all under the artifact row lock so concurrent
// creates serialize.
func (s *PostgresStore) CreateVersion(ctx context.Context, version ArtifactVersion) (ArtifactVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ArtifactVersion{}, fmt.Errorf("begin create version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var artifactID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM artifacts WHERE id=$1 AND NOT is_deleted FOR UPDATE
	`, version.ArtifactID).Scan(&artifactID)
	if err != nil {
		return ArtifactVersion{}, err
	}

	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM artifact_versions WHERE artifact_id=$1
	`, version.ArtifactID).Scan(&version.Seq); err != nil {
		return ArtifactVersion{}, fmt.Errorf("next sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE artifact_versions SET is_latest=FALSE WHERE artifact_id=$1 AND is_latest
	`, version.ArtifactID); err != nil {
		return ArtifactVersion{}, fmt.Errorf("clear latest: %w", err)
	}

	version.IsLatest = true
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO artifact_versions (id, artifact_id, seq, name, is_latest, created_by)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING created_at
	`, version.ID, version.ArtifactID, version.Seq, version.Name, version.CreatedBy).Scan(&version.CreatedAt); err != nil {
		return ArtifactVersion{}, fmt.Errorf("insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE artifacts SET updated_at=NOW() WHERE id=$1`, version.ArtifactID); err != nil {
		return ArtifactVersion{}, fmt.Errorf("touch artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ArtifactVersion{}, fmt.Errorf("commit create version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, versionID string) (ArtifactVersion, error) {
	var version ArtifactVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, artifact_id, seq, name, is_latest, is_deleted, created_by, created_at
		FROM artifact_versions WHERE id=$1
	`, versionID).Scan(&version.ID, &version.ArtifactID, &version.Seq, &version.Name,
		&version.IsLatest, &version.IsDeleted, &version.CreatedBy, &version.CreatedAt)
	if err != nil {
		return ArtifactVersion{}, err
	}
	return version, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, artifactID string, includeDeleted bool) ([]ArtifactVersion, error) {
	query := `
		SELECT id, artifact_id, seq, name, is_latest, is_deleted, created_by, created_at
		FROM artifact_versions WHERE artifact_id=$1
	`
	if !includeDeleted {
		query += ` AND NOT is_deleted`
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, artifactID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []ArtifactVersion
	for rows.Next() {
		var version ArtifactVersion
		if err := rows.Scan(&version.ID, &version.ArtifactID, &version.Seq, &version.Name,
			&version.IsLatest, &version.IsDeleted, &version.CreatedBy, &version.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// RenameVersion updates the display name only. Renaming a soft-deleted
// version is allowed.
func (s *PostgresStore) RenameVersion(ctx context.Context, versionID, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE artifact_versions SET name=$2 WHERE id=$1
	`, versionID, name)
	if err != nil {
		return false, fmt.Errorf("rename version: %w", err)
	}
	return rowsChanged(result)
}

// SoftDeleteVersion marks the version deleted and moves the latest flag to
// the highest-numbered surviving active version. The artifact row lock keeps
// the check-then-write race-free; deleting the only active version fails
// with ErrLastVersion.
func (s *PostgresStore) SoftDeleteVersion(ctx context.Context, versionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var artifactID string
	if err := tx.QueryRowContext(ctx, `
		SELECT artifact_id FROM artifact_versions WHERE id=$1
	`, versionID).Scan(&artifactID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `SELECT id FROM artifacts WHERE id=$1 FOR UPDATE`, artifactID); err != nil {
		return fmt.Errorf("lock artifact: %w", err)
	}

	// Re-read under the lock; a concurrent delete may have won.
	var isDeleted bool
	if err := tx.QueryRowContext(ctx, `
		SELECT is_deleted FROM artifact_versions WHERE id=$1
	`, versionID).Scan(&isDeleted); err != nil {
		return err
	}
	if isDeleted {
		return sql.ErrNoRows
	}

	var activeCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM artifact_versions WHERE artifact_id=$1 AND NOT is_deleted
	`, artifactID).Scan(&activeCount); err != nil {
		return fmt.Errorf("count active versions: %w", err)
	}
	if activeCount <= 1 {
		return ErrLastVersion
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE artifact_versions SET is_deleted=TRUE, is_latest=FALSE WHERE id=$1
	`, versionID); err != nil {
		return fmt.Errorf("mark version deleted: %w", err)
	}

	if err := recomputeLatest(ctx, tx, artifactID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete version: %w", err)
	}
	return nil
}

// RestoreVersion clears the deleted flag and recomputes latest. Restoring a
// version that is not deleted reports sql.ErrNoRows.
func (s *PostgresStore) RestoreVersion(ctx context.Context, versionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin restore version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var artifactID string
	if err := tx.QueryRowContext(ctx, `
		SELECT artifact_id FROM artifact_versions WHERE id=$1
	`, versionID).Scan(&artifactID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `SELECT id FROM artifacts WHERE id=$1 FOR UPDATE`, artifactID); err != nil {
		return fmt.Errorf("lock artifact: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE artifact_versions SET is_deleted=FALSE WHERE id=$1 AND is_deleted
	`, versionID)
	if err != nil {
		return fmt.Errorf("restore version: %w", err)
	}
	changed, err := rowsChanged(result)
	if err != nil {
		return err
	}
	if !changed {
		return sql.ErrNoRows
	}

	if err := recomputeLatest(ctx, tx, artifactID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit restore version: %w", err)
	}
	return nil
}

// recomputeLatest points the latest flag at the highest-numbered active
// version. Caller must hold the artifact row lock.
func recomputeLatest(ctx context.Context, tx *sql.Tx, artifactID string) error {
	if _, err := tx.ExecContext(ctx, `
		UPDATE artifact_versions SET is_latest=FALSE WHERE artifact_id=$1 AND is_latest
	`, artifactID); err != nil {
		return fmt.Errorf("clear latest: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE artifact_versions SET is_latest=TRUE
		WHERE id = (
			SELECT id FROM artifact_versions
			WHERE artifact_id=$1 AND NOT is_deleted
			ORDER BY seq DESC LIMIT 1
		)
	`, artifactID); err != nil {
		return fmt.Errorf("set latest: %w", err)
	}
	return nil
}
