package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"redpen/api/internal/capability"
	"redpen/api/internal/search"
	"redpen/api/internal/store"
	"redpen/api/internal/util"
)

const guestAuthorName = "Guest"

// CreateCommentInput is the caller-supplied part of a new comment.
type CreateCommentInput struct {
	Content string
	Target  json.RawMessage
	AgentID string
}

// CreateComment anchors a comment on a version. The caller is either a
// signed-in user with comment permission or an anonymous visitor holding a
// share token with the writeComments capability. Owner notification and
// search indexing happen after the write and never fail the request.
func (s *Service) CreateComment(ctx context.Context, versionID, userID, shareToken string, input CreateCommentInput) (map[string]any, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	var artifact store.Artifact
	authorName := guestAuthorName
	switch {
	case strings.TrimSpace(userID) != "":
		access, err := s.ResolvePermission(ctx, userID, versionID)
		if err != nil {
			return nil, err
		}
		artifact = access.Artifact
		author, err := s.store.GetUserByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		authorName = author.DisplayName
	case shareToken != "":
		share, err := s.ResolvePublicShare(ctx, shareToken, capability.WriteComments, versionID)
		if err != nil {
			return nil, err
		}
		artifact, err = s.store.GetArtifact(ctx, share.ArtifactID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}

	if input.AgentID != "" {
		if userID == "" {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Agent comments require a session", nil)
		}
		agent, err := s.store.GetAgent(ctx, input.AgentID)
		if err != nil {
			return nil, err
		}
		if agent.OwnerID != userID {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}

	target := "{}"
	if len(input.Target) > 0 {
		target = string(input.Target)
	}
	comment := store.Comment{
		ID:        util.NewID("cmt"),
		VersionID: versionID,
		CreatedBy: userID,
		AgentID:   input.AgentID,
		Content:   content,
		Target:    target,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		// The version or artifact vanished between the permission check and
		// the guarded insert.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return nil, err
	}

	if userID != artifact.OwnerID {
		s.notifyOwner(artifact, authorName, content, func(to, title, author, text string) error {
			return s.notifier.CommentCreated(to, title, author, text)
		})
	}
	s.indexComment(comment, artifact.ID, authorName)

	return map[string]any{"commentId": comment.ID}, nil
}

// EditComment changes the content. Only the author may edit; the artifact
// owner moderates by deletion, never by rewriting someone's words.
func (s *Service) EditComment(ctx context.Context, commentID, userID, content string) (map[string]any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	// Permission resolves before any comment-state check, so callers without
	// access to the version learn nothing about deleted comments.
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	access, err := s.ResolvePermission(ctx, userID, comment.VersionID)
	if err != nil {
		return nil, err
	}
	if comment.CreatedBy != userID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a comment", nil)
	}
	if comment.IsDeleted {
		return nil, domainError(http.StatusConflict, "ALREADY_DELETED", "Comment has been deleted", nil)
	}

	changed, err := s.store.EditComment(ctx, commentID, content)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusConflict, "ALREADY_DELETED", "Comment has been deleted", nil)
	}

	comment.Content = content
	authorName := comment.AuthorName
	if author, err := s.store.GetUserByID(ctx, userID); err == nil {
		authorName = author.DisplayName
	}
	s.indexComment(comment, access.Artifact.ID, authorName)

	return map[string]any{"commentId": commentID, "edited": true}, nil
}

// ToggleResolved flips the resolved state. Any caller with permission on the
// version may resolve or reopen. The flip happens in a single store statement
// and the new state comes back from it, so concurrent toggles always land on
// opposite states.
func (s *Service) ToggleResolved(ctx context.Context, commentID, userID string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ResolvePermission(ctx, userID, comment.VersionID); err != nil {
		return nil, err
	}
	if comment.IsDeleted {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	resolvedAt, err := s.store.ToggleCommentResolved(ctx, commentID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"commentId": commentID, "resolved": resolvedAt != nil}, nil
}

// DeleteComment soft-deletes a comment and all of its replies. The author
// may delete their own comment; the artifact owner may delete any comment as
// moderation.
func (s *Service) DeleteComment(ctx context.Context, commentID, userID string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	access, err := s.ResolvePermission(ctx, userID, comment.VersionID)
	if err != nil {
		return nil, err
	}
	if comment.CreatedBy != userID && access.Verdict != VerdictOwner {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if comment.IsDeleted {
		return nil, domainError(http.StatusConflict, "ALREADY_DELETED", "Comment has been deleted", nil)
	}

	changed, err := s.store.SoftDeleteComment(ctx, commentID, userID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusConflict, "ALREADY_DELETED", "Comment has been deleted", nil)
	}

	if s.search != nil {
		s.search.DeleteComment(commentID)
	}
	return map[string]any{"commentId": commentID, "deleted": true}, nil
}

// ListComments returns the active comments of a version. When the version or
// its artifact is gone the caller gets an empty list rather than an error,
// so a stale review page degrades instead of breaking. Permission failures
// still surface.
func (s *Service) ListComments(ctx context.Context, versionID, userID, shareToken string) (map[string]any, error) {
	if shareToken != "" {
		_, err := s.ResolvePublicShare(ctx, shareToken, capability.ReadComments, versionID)
		if isNotFound(err) {
			return emptyComments(), nil
		}
		if err != nil {
			return nil, err
		}
	} else {
		_, err := s.ResolvePermission(ctx, userID, versionID)
		if isNotFound(err) {
			return emptyComments(), nil
		}
		if err != nil {
			return nil, err
		}
	}

	comments, err := s.store.ListActiveComments(ctx, versionID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		items = append(items, commentPayload(comment))
	}
	return map[string]any{"comments": items}, nil
}

func emptyComments() map[string]any {
	return map[string]any{"comments": []map[string]any{}}
}

func commentPayload(comment store.Comment) map[string]any {
	authorName := comment.AuthorName
	if comment.CreatedBy == "" {
		authorName = guestAuthorName
	}
	item := map[string]any{
		"id":      comment.ID,
		"content": comment.Content,
		"target":  json.RawMessage(comment.Target),
		"author": map[string]any{
			"id":   comment.CreatedBy,
			"name": authorName,
		},
		"resolved":  comment.ResolvedUpdatedAt != nil,
		"edited":    comment.IsEdited,
		"createdAt": comment.CreatedAt,
	}
	if comment.ResolvedUpdatedAt != nil {
		item["resolvedAt"] = comment.ResolvedUpdatedAt
		item["resolvedBy"] = comment.ResolvedUpdatedBy
	}
	if comment.AgentID != "" {
		item["agent"] = map[string]any{"id": comment.AgentID, "name": comment.AgentName}
	}
	return item
}

// indexComment pushes a comment into the search index off the request path.
func (s *Service) indexComment(comment store.Comment, artifactID, authorName string) {
	if s.search == nil {
		return
	}
	s.search.IndexComment(search.CommentRecord{
		ID:         comment.ID,
		VersionID:  comment.VersionID,
		ArtifactID: artifactID,
		Content:    comment.Content,
		Author:     authorName,
	})
}
