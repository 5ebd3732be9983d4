package app

import (
	"context"
	"net/http"
	"strings"

	"redpen/api/internal/capability"
	"redpen/api/internal/store"
)

// Verdict is the access level a caller holds on a version.
type Verdict string

const (
	VerdictOwner      Verdict = "owner"
	VerdictCanComment Verdict = "can-comment"
)

// Access is a successful permission resolution. It carries the rows already
// loaded so callers do not re-read them.
type Access struct {
	Verdict  Verdict
	Version  store.ArtifactVersion
	Artifact store.Artifact
}

// ResolvePermission decides what a signed-in user may do on a version.
// Checks run in a fixed order: authentication, existence (deleted rows
// collapse to not found), ownership, then active grants. The grant lookup
// hits the store every time so a revocation takes effect on the next request.
func (s *Service) ResolvePermission(ctx context.Context, userID, versionID string) (Access, error) {
	if strings.TrimSpace(userID) == "" {
		return Access{}, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}

	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return Access{}, err
	}
	if version.IsDeleted {
		return Access{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	artifact, err := s.store.GetArtifact(ctx, version.ArtifactID)
	if err != nil {
		return Access{}, err
	}
	if artifact.IsDeleted {
		return Access{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	if artifact.OwnerID == userID {
		return Access{Verdict: VerdictOwner, Version: version, Artifact: artifact}, nil
	}

	granted, err := s.store.HasActiveGrant(ctx, artifact.ID, userID)
	if err != nil {
		return Access{}, err
	}
	if granted {
		return Access{Verdict: VerdictCanComment, Version: version, Artifact: artifact}, nil
	}

	return Access{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

// ResolvePublicShare validates a share token against a required capability.
// versionID, when non-empty, must be a live version of the shared artifact.
func (s *Service) ResolvePublicShare(ctx context.Context, token string, required capability.Capability, versionID string) (store.PublicShare, error) {
	share, err := s.store.GetShareByToken(ctx, token)
	if err != nil {
		return store.PublicShare{}, err
	}
	if !share.Enabled {
		return store.PublicShare{}, domainError(http.StatusForbidden, "SHARE_DISABLED", "This share link has been disabled", nil)
	}

	caps := capability.Set{ReadComments: share.ReadComments, WriteComments: share.WriteComments}
	if !caps.Allows(required) {
		return store.PublicShare{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	artifact, err := s.store.GetArtifact(ctx, share.ArtifactID)
	if err != nil {
		return store.PublicShare{}, err
	}
	if artifact.IsDeleted {
		return store.PublicShare{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	if versionID != "" {
		version, err := s.store.GetVersion(ctx, versionID)
		if err != nil {
			return store.PublicShare{}, err
		}
		if version.IsDeleted || version.ArtifactID != share.ArtifactID {
			return store.PublicShare{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
	}

	return share, nil
}

// requireOwner loads a live artifact and checks the caller owns it.
func (s *Service) requireOwner(ctx context.Context, artifactID, userID string) (store.Artifact, error) {
	if strings.TrimSpace(userID) == "" {
		return store.Artifact{}, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}
	artifact, err := s.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return store.Artifact{}, err
	}
	if artifact.IsDeleted {
		return store.Artifact{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if artifact.OwnerID != userID {
		return store.Artifact{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return artifact, nil
}
