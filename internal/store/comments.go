package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// InsertComment writes a comment after locking its version row, so a
// concurrent version delete either blocks until the insert commits or makes
// the insert fail with sql.ErrNoRows. A deleted version or artifact also
// surfaces as sql.ErrNoRows.
func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert comment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var versionDeleted, artifactDeleted bool
	err = tx.QueryRowContext(ctx, `
		SELECT v.is_deleted, a.is_deleted
		FROM artifact_versions v
		JOIN artifacts a ON a.id = v.artifact_id
		WHERE v.id=$1
		FOR UPDATE OF v
	`, comment.VersionID).Scan(&versionDeleted, &artifactDeleted)
	if err != nil {
		return err
	}
	if versionDeleted || artifactDeleted {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO comments (id, version_id, created_by, agent_id, content, target)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, COALESCE(NULLIF($6, ''), '{}')::jsonb)
	`, comment.ID, comment.VersionID, comment.CreatedBy, comment.AgentID, comment.Content, comment.Target); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var comment Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version_id, created_by, COALESCE(agent_id, ''), content, target::text,
			resolved_updated_at, resolved_updated_by, is_edited, edited_at,
			is_deleted, deleted_by, deleted_at, created_at
		FROM comments WHERE id=$1
	`, commentID).Scan(&comment.ID, &comment.VersionID, &comment.CreatedBy, &comment.AgentID,
		&comment.Content, &comment.Target, &comment.ResolvedUpdatedAt, &comment.ResolvedUpdatedBy,
		&comment.IsEdited, &comment.EditedAt, &comment.IsDeleted, &comment.DeletedBy,
		&comment.DeletedAt, &comment.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	return comment, nil
}

// ListActiveComments returns the active comments of a version in creation
// order, with author and agent names joined in. Display names are resolved
// at read time so renames show up without touching the comment rows.
func (s *PostgresStore) ListActiveComments(ctx context.Context, versionID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.version_id, c.created_by, COALESCE(c.agent_id, ''), c.content, c.target::text,
			c.resolved_updated_at, c.resolved_updated_by, c.is_edited, c.edited_at, c.created_at,
			COALESCE(u.display_name, ''), COALESCE(u.email, ''), COALESCE(ag.name, '')
		FROM comments c
		LEFT JOIN users u ON u.id = c.created_by
		LEFT JOIN agents ag ON ag.id = c.agent_id
		WHERE c.version_id=$1 AND NOT c.is_deleted
		ORDER BY c.created_at
	`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var comment Comment
		if err := rows.Scan(&comment.ID, &comment.VersionID, &comment.CreatedBy, &comment.AgentID,
			&comment.Content, &comment.Target, &comment.ResolvedUpdatedAt, &comment.ResolvedUpdatedBy,
			&comment.IsEdited, &comment.EditedAt, &comment.CreatedAt,
			&comment.AuthorName, &comment.AuthorEmail, &comment.AgentName); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

// EditComment replaces the content of an active comment. Returns false when
// the comment is missing or already deleted.
func (s *PostgresStore) EditComment(ctx context.Context, commentID, content string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE comments SET content=$2, is_edited=TRUE, edited_at=NOW()
		WHERE id=$1 AND NOT is_deleted
	`, commentID, content)
	if err != nil {
		return false, fmt.Errorf("edit comment: %w", err)
	}
	return rowsChanged(result)
}

// ToggleCommentResolved flips resolution state in a single statement.
// Resolved-ness is derived from resolved_updated_at being non-null; the flip
// happens inside the UPDATE, so two concurrent toggles always land on
// opposite states. Returns the new marker, nil meaning unresolved, and
// sql.ErrNoRows when the comment is missing or deleted.
func (s *PostgresStore) ToggleCommentResolved(ctx context.Context, commentID, userID string) (*time.Time, error) {
	var resolvedAt *time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE comments
		SET resolved_updated_at = CASE WHEN resolved_updated_at IS NULL THEN NOW() ELSE NULL END,
			resolved_updated_by = $2
		WHERE id=$1 AND NOT is_deleted
		RETURNING resolved_updated_at
	`, commentID, userID).Scan(&resolvedAt)
	if err != nil {
		return nil, err
	}
	return resolvedAt, nil
}

// SoftDeleteComment marks the comment deleted and cascades to its active
// replies in the same transaction, so no reply outlives its parent.
func (s *PostgresStore) SoftDeleteComment(ctx context.Context, commentID, deletedBy string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete comment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE comments SET is_deleted=TRUE, deleted_by=$2, deleted_at=NOW()
		WHERE id=$1 AND NOT is_deleted
	`, commentID, deletedBy)
	if err != nil {
		return false, fmt.Errorf("delete comment: %w", err)
	}
	changed, err := rowsChanged(result)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE replies SET is_deleted=TRUE, deleted_by=$2, deleted_at=NOW()
		WHERE comment_id=$1 AND NOT is_deleted
	`, commentID, deletedBy); err != nil {
		return false, fmt.Errorf("cascade delete replies: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete comment: %w", err)
	}
	return true, nil
}

// Replies

// InsertReply writes a reply after locking its parent comment row. The lock
// serializes against SoftDeleteComment's cascade, so a reply can never land
// under a parent that is being deleted. A missing or deleted parent surfaces
// as sql.ErrNoRows.
func (s *PostgresStore) InsertReply(ctx context.Context, reply Reply) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert reply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var parentDeleted bool
	err = tx.QueryRowContext(ctx, `
		SELECT is_deleted FROM comments WHERE id=$1 FOR UPDATE
	`, reply.CommentID).Scan(&parentDeleted)
	if err != nil {
		return err
	}
	if parentDeleted {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO replies (id, comment_id, created_by, agent_id, content)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`, reply.ID, reply.CommentID, reply.CreatedBy, reply.AgentID, reply.Content); err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert reply: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReply(ctx context.Context, replyID string) (Reply, error) {
	var reply Reply
	err := s.db.QueryRowContext(ctx, `
		SELECT id, comment_id, created_by, COALESCE(agent_id, ''), content,
			is_edited, edited_at, is_deleted, deleted_by, deleted_at, created_at
		FROM replies WHERE id=$1
	`, replyID).Scan(&reply.ID, &reply.CommentID, &reply.CreatedBy, &reply.AgentID, &reply.Content,
		&reply.IsEdited, &reply.EditedAt, &reply.IsDeleted, &reply.DeletedBy, &reply.DeletedAt, &reply.CreatedAt)
	if err != nil {
		return Reply{}, err
	}
	return reply, nil
}

func (s *PostgresStore) ListActiveReplies(ctx context.Context, commentID string) ([]Reply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.comment_id, r.created_by, COALESCE(r.agent_id, ''), r.content,
			r.is_edited, r.edited_at, r.created_at,
			COALESCE(u.display_name, ''), COALESCE(u.email, ''), COALESCE(ag.name, '')
		FROM replies r
		LEFT JOIN users u ON u.id = r.created_by
		LEFT JOIN agents ag ON ag.id = r.agent_id
		WHERE r.comment_id=$1 AND NOT r.is_deleted
		ORDER BY r.created_at
	`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	var replies []Reply
	for rows.Next() {
		var reply Reply
		if err := rows.Scan(&reply.ID, &reply.CommentID, &reply.CreatedBy, &reply.AgentID, &reply.Content,
			&reply.IsEdited, &reply.EditedAt, &reply.CreatedAt,
			&reply.AuthorName, &reply.AuthorEmail, &reply.AgentName); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, reply)
	}
	return replies, rows.Err()
}

func (s *PostgresStore) EditReply(ctx context.Context, replyID, content string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE replies SET content=$2, is_edited=TRUE, edited_at=NOW()
		WHERE id=$1 AND NOT is_deleted
	`, replyID, content)
	if err != nil {
		return false, fmt.Errorf("edit reply: %w", err)
	}
	return rowsChanged(result)
}

func (s *PostgresStore) SoftDeleteReply(ctx context.Context, replyID, deletedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE replies SET is_deleted=TRUE, deleted_by=$2, deleted_at=NOW()
		WHERE id=$1 AND NOT is_deleted
	`, replyID, deletedBy)
	if err != nil {
		return false, fmt.Errorf("delete reply: %w", err)
	}
	return rowsChanged(result)
}
