package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GrantReviewer inserts an active grant for (artifact, user). A duplicate
// active pair is a no-op that returns the existing grant; the second return
// reports whether a new grant was created.
func (s *PostgresStore) GrantReviewer(ctx context.Context, grant AccessGrant) (AccessGrant, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AccessGrant{}, false, fmt.Errorf("begin grant reviewer: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT id FROM artifacts WHERE id=$1 FOR UPDATE`, grant.ArtifactID); err != nil {
		return AccessGrant{}, false, fmt.Errorf("lock artifact: %w", err)
	}

	var existing AccessGrant
	err = tx.QueryRowContext(ctx, `
		SELECT id, artifact_id, user_id, granted_by, created_at
		FROM access_grants
		WHERE artifact_id=$1 AND user_id=$2 AND NOT is_deleted
	`, grant.ArtifactID, grant.UserID).Scan(&existing.ID, &existing.ArtifactID, &existing.UserID, &existing.GrantedBy, &existing.CreatedAt)
	if err == nil {
		if err := tx.Commit(); err != nil {
			return AccessGrant{}, false, fmt.Errorf("commit grant reviewer: %w", err)
		}
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return AccessGrant{}, false, fmt.Errorf("lookup grant: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO access_grants (id, artifact_id, user_id, granted_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, grant.ID, grant.ArtifactID, grant.UserID, grant.GrantedBy).Scan(&grant.CreatedAt); err != nil {
		return AccessGrant{}, false, fmt.Errorf("insert grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return AccessGrant{}, false, fmt.Errorf("commit grant reviewer: %w", err)
	}
	return grant, true, nil
}

func (s *PostgresStore) GetGrant(ctx context.Context, grantID string) (AccessGrant, error) {
	var grant AccessGrant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, artifact_id, user_id, granted_by, is_deleted, created_at
		FROM access_grants WHERE id=$1
	`, grantID).Scan(&grant.ID, &grant.ArtifactID, &grant.UserID, &grant.GrantedBy, &grant.IsDeleted, &grant.CreatedAt)
	if err != nil {
		return AccessGrant{}, err
	}
	return grant, nil
}

// HasActiveGrant reports whether the user currently holds a reviewer grant on
// the artifact. Consulted on every permission resolution; never cached.
func (s *PostgresStore) HasActiveGrant(ctx context.Context, artifactID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM access_grants
			WHERE artifact_id=$1 AND user_id=$2 AND NOT is_deleted
		)
	`, artifactID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check grant: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) RevokeGrant(ctx context.Context, grantID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE access_grants SET is_deleted=TRUE WHERE id=$1 AND NOT is_deleted
	`, grantID)
	if err != nil {
		return false, fmt.Errorf("revoke grant: %w", err)
	}
	return rowsChanged(result)
}

func (s *PostgresStore) ListGrants(ctx context.Context, artifactID string) ([]AccessGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.artifact_id, g.user_id, g.granted_by, g.created_at,
			COALESCE(u.email, ''), COALESCE(u.display_name, '')
		FROM access_grants g
		LEFT JOIN users u ON u.id = g.user_id
		WHERE g.artifact_id=$1 AND NOT g.is_deleted
		ORDER BY g.created_at
	`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []AccessGrant
	for rows.Next() {
		var grant AccessGrant
		if err := rows.Scan(&grant.ID, &grant.ArtifactID, &grant.UserID, &grant.GrantedBy,
			&grant.CreatedAt, &grant.UserEmail, &grant.UserName); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

// Public shares

func (s *PostgresStore) InsertShare(ctx context.Context, share PublicShare) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public_shares (id, artifact_id, token, enabled, read_comments, write_comments, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, share.ID, share.ArtifactID, share.Token, share.Enabled, share.ReadComments, share.WriteComments, share.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert share: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetShare(ctx context.Context, shareID string) (PublicShare, error) {
	return s.getShare(ctx, `id=$1`, shareID)
}

func (s *PostgresStore) GetShareByToken(ctx context.Context, token string) (PublicShare, error) {
	return s.getShare(ctx, `token=$1`, token)
}

func (s *PostgresStore) getShare(ctx context.Context, where, arg string) (PublicShare, error) {
	var share PublicShare
	err := s.db.QueryRowContext(ctx, `
		SELECT id, artifact_id, token, enabled, read_comments, write_comments, created_by, created_at
		FROM public_shares WHERE `+where, arg).Scan(&share.ID, &share.ArtifactID, &share.Token,
		&share.Enabled, &share.ReadComments, &share.WriteComments, &share.CreatedBy, &share.CreatedAt)
	if err != nil {
		return PublicShare{}, err
	}
	return share, nil
}

func (s *PostgresStore) ListShares(ctx context.Context, artifactID string) ([]PublicShare, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artifact_id, token, enabled, read_comments, write_comments, created_by, created_at
		FROM public_shares WHERE artifact_id=$1 ORDER BY created_at
	`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	var shares []PublicShare
	for rows.Next() {
		var share PublicShare
		if err := rows.Scan(&share.ID, &share.ArtifactID, &share.Token, &share.Enabled,
			&share.ReadComments, &share.WriteComments, &share.CreatedBy, &share.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}

func (s *PostgresStore) UpdateShareCapabilities(ctx context.Context, shareID string, readComments, writeComments bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE public_shares SET read_comments=$2, write_comments=$3 WHERE id=$1
	`, shareID, readComments, writeComments)
	if err != nil {
		return false, fmt.Errorf("update share capabilities: %w", err)
	}
	return rowsChanged(result)
}

func (s *PostgresStore) UpdateShareEnabled(ctx context.Context, shareID string, enabled bool) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE public_shares SET enabled=$2 WHERE id=$1
	`, shareID, enabled)
	if err != nil {
		return false, fmt.Errorf("update share enabled: %w", err)
	}
	return rowsChanged(result)
}
