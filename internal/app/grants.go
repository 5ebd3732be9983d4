package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"redpen/api/internal/capability"
	"redpen/api/internal/store"
	"redpen/api/internal/util"
)

const shareTokenLength = 32

const tokenCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateShareToken() (string, error) {
	b := make([]byte, shareTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	for i := range b {
		b[i] = tokenCharset[int(b[i])%len(tokenCharset)]
	}
	return string(b), nil
}

// GrantReviewer invites a registered user, by email, to comment on an
// artifact. Inviting someone who already holds an active grant is a no-op
// that returns the existing grant.
func (s *Service) GrantReviewer(ctx context.Context, artifactID, userID, email string) (map[string]any, error) {
	if _, err := s.requireOwner(ctx, artifactID, userID); err != nil {
		return nil, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "email is required", nil)
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No user with that email", nil)
	}
	if err != nil {
		return nil, err
	}
	if user.ID == userID {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Owner already has access", nil)
	}

	grant, created, err := s.store.GrantReviewer(ctx, store.AccessGrant{
		ID:         util.NewID("grt"),
		ArtifactID: artifactID,
		UserID:     user.ID,
		GrantedBy:  userID,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"grantId": grant.ID,
		"userId":  grant.UserID,
		"created": created,
	}, nil
}

// RevokeReviewer ends a grant. The reviewer loses access on their next
// request; no session invalidation is needed.
func (s *Service) RevokeReviewer(ctx context.Context, grantID, userID string) (map[string]any, error) {
	grant, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if grant.IsDeleted {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if _, err := s.requireOwner(ctx, grant.ArtifactID, userID); err != nil {
		return nil, err
	}

	changed, err := s.store.RevokeGrant(ctx, grantID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return map[string]any{"grantId": grantID, "revoked": true}, nil
}

func (s *Service) ListReviewers(ctx context.Context, artifactID, userID string) (map[string]any, error) {
	if _, err := s.requireOwner(ctx, artifactID, userID); err != nil {
		return nil, err
	}
	grants, err := s.store.ListGrants(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(grants))
	for _, grant := range grants {
		items = append(items, map[string]any{
			"id":        grant.ID,
			"userId":    grant.UserID,
			"userName":  grant.UserName,
			"userEmail": grant.UserEmail,
			"grantedAt": grant.CreatedAt,
		})
	}
	return map[string]any{"reviewers": items}, nil
}

// CreatePublicShare mints a share link for an artifact. New links start
// enabled with both comment capabilities off, so they expose nothing until
// the owner grants capabilities explicitly.
func (s *Service) CreatePublicShare(ctx context.Context, artifactID, userID string) (map[string]any, error) {
	if _, err := s.requireOwner(ctx, artifactID, userID); err != nil {
		return nil, err
	}

	token, err := generateShareToken()
	if err != nil {
		return nil, err
	}
	share := store.PublicShare{
		ID:         util.NewID("shr"),
		ArtifactID: artifactID,
		Token:      token,
		Enabled:    true,
		CreatedBy:  userID,
	}
	if err := s.store.InsertShare(ctx, share); err != nil {
		return nil, err
	}
	return map[string]any{
		"shareId":       share.ID,
		"token":         share.Token,
		"enabled":       share.Enabled,
		"readComments":  share.ReadComments,
		"writeComments": share.WriteComments,
	}, nil
}

// SetShareCapabilities updates one or both comment capabilities on a share.
// Omitted fields keep their current value. Enabling writeComments without
// readComments is rejected; disabling readComments drags writeComments down
// with it.
func (s *Service) SetShareCapabilities(ctx context.Context, shareID, userID string, readComments, writeComments *bool) (map[string]any, error) {
	share, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireOwner(ctx, share.ArtifactID, userID); err != nil {
		return nil, err
	}

	current := capability.Set{ReadComments: share.ReadComments, WriteComments: share.WriteComments}
	next, err := current.Apply(readComments, writeComments)
	if errors.Is(err, capability.ErrWriteWithoutRead) {
		return nil, domainError(http.StatusUnprocessableEntity, "INVALID_CAPABILITY", "writeComments requires readComments", nil)
	}
	if err != nil {
		return nil, err
	}

	changed, err := s.store.UpdateShareCapabilities(ctx, shareID, next.ReadComments, next.WriteComments)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return map[string]any{
		"shareId":       shareID,
		"readComments":  next.ReadComments,
		"writeComments": next.WriteComments,
	}, nil
}

// SetShareEnabled flips the kill switch on a share link. The token stays
// valid and regains its capabilities when re-enabled.
func (s *Service) SetShareEnabled(ctx context.Context, shareID, userID string, enabled bool) (map[string]any, error) {
	share, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireOwner(ctx, share.ArtifactID, userID); err != nil {
		return nil, err
	}

	changed, err := s.store.UpdateShareEnabled(ctx, shareID, enabled)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return map[string]any{"shareId": shareID, "enabled": enabled}, nil
}

func (s *Service) ListShares(ctx context.Context, artifactID, userID string) (map[string]any, error) {
	if _, err := s.requireOwner(ctx, artifactID, userID); err != nil {
		return nil, err
	}
	shares, err := s.store.ListShares(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(shares))
	for _, share := range shares {
		items = append(items, map[string]any{
			"id":            share.ID,
			"token":         share.Token,
			"enabled":       share.Enabled,
			"readComments":  share.ReadComments,
			"writeComments": share.WriteComments,
			"createdAt":     share.CreatedAt,
		})
	}
	return map[string]any{"shares": items}, nil
}

// PublicShareView is the anonymous landing payload for a share token. It
// exposes artifact metadata and the latest version; comment access is
// governed separately by the share capabilities.
func (s *Service) PublicShareView(ctx context.Context, token string) (map[string]any, error) {
	share, err := s.store.GetShareByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !share.Enabled {
		return nil, domainError(http.StatusForbidden, "SHARE_DISABLED", "This share link has been disabled", nil)
	}

	artifact, err := s.store.GetArtifact(ctx, share.ArtifactID)
	if err != nil {
		return nil, err
	}
	if artifact.IsDeleted {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	versions, err := s.store.ListVersions(ctx, artifact.ID, false)
	if err != nil {
		return nil, err
	}
	var latest map[string]any
	for _, version := range versions {
		if version.IsLatest {
			latest = map[string]any{
				"id":     version.ID,
				"number": version.Seq,
				"name":   version.Name,
			}
			break
		}
	}

	return map[string]any{
		"artifactTitle": artifact.Title,
		"latestVersion": latest,
		"capabilities": map[string]any{
			"readComments":  share.ReadComments,
			"writeComments": share.WriteComments,
		},
	}, nil
}
