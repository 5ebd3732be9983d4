package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"redpen/api/internal/capability"
	"redpen/api/internal/store"
	"redpen/api/internal/util"
)

// CreateReply adds a threaded reply under a comment. Replies require a
// session; share-token visitors comment at the top level only. A deleted
// parent blocks new replies.
func (s *Service) CreateReply(ctx context.Context, commentID, userID, content, agentID string) (map[string]any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	// Permission resolves before the parent-state check, so callers without
	// access to the version learn nothing about deleted comments.
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return nil, err
	}
	access, err := s.ResolvePermission(ctx, userID, comment.VersionID)
	if err != nil {
		return nil, err
	}
	if comment.IsDeleted {
		return nil, domainError(http.StatusConflict, "PARENT_DELETED", "Cannot reply to a deleted comment", nil)
	}

	if agentID != "" {
		agent, err := s.store.GetAgent(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if agent.OwnerID != userID {
			return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		}
	}

	reply := store.Reply{
		ID:        util.NewID("rpl"),
		CommentID: commentID,
		CreatedBy: userID,
		AgentID:   agentID,
		Content:   content,
	}
	if err := s.store.InsertReply(ctx, reply); err != nil {
		// The parent was deleted between the check above and the guarded
		// insert.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusConflict, "PARENT_DELETED", "Cannot reply to a deleted comment", nil)
		}
		return nil, err
	}

	if userID != access.Artifact.OwnerID {
		author, authorErr := s.store.GetUserByID(ctx, userID)
		authorName := guestAuthorName
		if authorErr == nil {
			authorName = author.DisplayName
		}
		s.notifyOwner(access.Artifact, authorName, content, func(to, title, name, text string) error {
			return s.notifier.ReplyCreated(to, title, name, text)
		})
	}

	return map[string]any{"replyId": reply.ID}, nil
}

// EditReply changes the content. Author-only, like comment edits.
func (s *Service) EditReply(ctx context.Context, replyID, userID, content string) (map[string]any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}

	reply, comment, err := s.replyWithParent(ctx, replyID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ResolvePermission(ctx, userID, comment.VersionID); err != nil {
		return nil, err
	}
	if reply.CreatedBy != userID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a reply", nil)
	}
	if comment.IsDeleted {
		return nil, domainError(http.StatusConflict, "PARENT_DELETED", "Parent comment has been deleted", nil)
	}
	if reply.IsDeleted {
		return nil, domainError(http.StatusConflict, "ALREADY_DELETED", "Reply has been deleted", nil)
	}

	changed, err := s.store.EditReply(ctx, replyID, content)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusConflict, "ALREADY_DELETED", "Reply has been deleted", nil)
	}
	return map[string]any{"replyId": replyID, "edited": true}, nil
}

// DeleteReply soft-deletes one reply. The author or the artifact owner may
// delete; deleting a reply never touches its siblings or parent.
func (s *Service) DeleteReply(ctx context.Context, replyID, userID string) (map[string]any, error) {
	reply, comment, err := s.replyWithParent(ctx, replyID)
	if err != nil {
		return nil, err
	}
	access, err := s.ResolvePermission(ctx, userID, comment.VersionID)
	if err != nil {
		return nil, err
	}
	if reply.CreatedBy != userID && access.Verdict != VerdictOwner {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if reply.IsDeleted {
		return nil, domainError(http.StatusConflict, "ALREADY_DELETED", "Reply has been deleted", nil)
	}

	changed, err := s.store.SoftDeleteReply(ctx, replyID, userID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusConflict, "ALREADY_DELETED", "Reply has been deleted", nil)
	}
	return map[string]any{"replyId": replyID, "deleted": true}, nil
}

// ListReplies returns the active replies under a comment. A deleted or
// missing parent yields an empty list so threads collapse quietly.
func (s *Service) ListReplies(ctx context.Context, commentID, userID, shareToken string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, commentID)
	if isNotFound(err) {
		return emptyReplies(), nil
	}
	if err != nil {
		return nil, err
	}
	if comment.IsDeleted {
		return emptyReplies(), nil
	}

	if shareToken != "" {
		_, err = s.ResolvePublicShare(ctx, shareToken, capability.ReadComments, comment.VersionID)
	} else {
		_, err = s.ResolvePermission(ctx, userID, comment.VersionID)
	}
	if isNotFound(err) {
		return emptyReplies(), nil
	}
	if err != nil {
		return nil, err
	}

	replies, err := s.store.ListActiveReplies(ctx, commentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(replies))
	for _, reply := range replies {
		item := map[string]any{
			"id":      reply.ID,
			"content": reply.Content,
			"author": map[string]any{
				"id":   reply.CreatedBy,
				"name": reply.AuthorName,
			},
			"edited":    reply.IsEdited,
			"createdAt": reply.CreatedAt,
		}
		if reply.AgentID != "" {
			item["agent"] = map[string]any{"id": reply.AgentID, "name": reply.AgentName}
		}
		items = append(items, item)
	}
	return map[string]any{"replies": items}, nil
}

func emptyReplies() map[string]any {
	return map[string]any{"replies": []map[string]any{}}
}

func (s *Service) replyWithParent(ctx context.Context, replyID string) (store.Reply, store.Comment, error) {
	reply, err := s.store.GetReply(ctx, replyID)
	if err != nil {
		return store.Reply{}, store.Comment{}, err
	}
	comment, err := s.store.GetComment(ctx, reply.CommentID)
	if err != nil {
		return store.Reply{}, store.Comment{}, err
	}
	return reply, comment, nil
}
