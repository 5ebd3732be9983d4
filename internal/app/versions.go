package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"redpen/api/internal/blob"
	"redpen/api/internal/store"
	"redpen/api/internal/util"
)

// CreateVersion adds a new version to an artifact. The new version becomes
// the latest; content, when present, is persisted to blob storage under the
// artifact/version key before the row is written.
func (s *Service) CreateVersion(ctx context.Context, artifactID, userID, name string, content []byte, contentType string) (map[string]any, error) {
	if _, err := s.requireOwner(ctx, artifactID, userID); err != nil {
		return nil, err
	}

	versionID := util.NewID("ver")
	if len(content) > 0 && s.blobs != nil {
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := s.blobs.Put(ctx, artifactID+"/"+versionID, content, contentType); err != nil {
			return nil, err
		}
	}

	version, err := s.store.CreateVersion(ctx, store.ArtifactVersion{
		ID:         versionID,
		ArtifactID: artifactID,
		Name:       strings.TrimSpace(name),
		CreatedBy:  userID,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"versionId": version.ID,
		"number":    version.Seq,
		"name":      version.Name,
		"latest":    version.IsLatest,
	}, nil
}

func (s *Service) ListVersions(ctx context.Context, artifactID, userID string) (map[string]any, error) {
	artifact, err := s.artifactForViewer(ctx, artifactID, userID)
	if err != nil {
		return nil, err
	}
	includeDeleted := artifact.OwnerID == userID
	versions, err := s.store.ListVersions(ctx, artifactID, includeDeleted)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(versions))
	for _, version := range versions {
		item := map[string]any{
			"id":        version.ID,
			"number":    version.Seq,
			"name":      version.Name,
			"latest":    version.IsLatest,
			"createdAt": version.CreatedAt,
		}
		if includeDeleted {
			item["deleted"] = version.IsDeleted
		}
		items = append(items, item)
	}
	return map[string]any{"versions": items}, nil
}

// RenameVersion updates the display name. An empty name clears the label,
// falling back to the version number in listings. Renaming works on deleted
// versions too, so an owner can label a version before restoring it.
func (s *Service) RenameVersion(ctx context.Context, versionID, userID, name string) (map[string]any, error) {
	name = strings.TrimSpace(name)

	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireOwner(ctx, version.ArtifactID, userID); err != nil {
		return nil, err
	}

	changed, err := s.store.RenameVersion(ctx, versionID, name)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return map[string]any{"versionId": versionID, "name": name}, nil
}

// DownloadVersion returns the stored content of a version the caller may
// read. Versions created without content, or before blob storage was
// configured, have nothing to serve.
func (s *Service) DownloadVersion(ctx context.Context, versionID, userID string) (map[string]any, error) {
	access, err := s.ResolvePermission(ctx, userID, versionID)
	if err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No content stored for this version", nil)
	}

	data, err := s.blobs.Get(ctx, access.Artifact.ID+"/"+versionID)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No content stored for this version", nil)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"versionId": versionID, "content": string(data)}, nil
}

// DeleteVersion soft-deletes a version. The store refuses to delete the only
// active version of an artifact; that surfaces as a conflict.
func (s *Service) DeleteVersion(ctx context.Context, versionID, userID string) (map[string]any, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireOwner(ctx, version.ArtifactID, userID); err != nil {
		return nil, err
	}
	if version.IsDeleted {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}

	if err := s.store.SoftDeleteVersion(ctx, versionID); err != nil {
		if errors.Is(err, store.ErrLastVersion) {
			return nil, domainError(http.StatusConflict, "LAST_VERSION", "Cannot delete the only active version", nil)
		}
		return nil, err
	}
	return map[string]any{"versionId": versionID, "deleted": true}, nil
}

// RestoreVersion brings a soft-deleted version back. Restoring an active
// version is a no-op. The latest flag is recomputed, so the restored version
// becomes latest if it has the highest number.
func (s *Service) RestoreVersion(ctx context.Context, versionID, userID string) (map[string]any, error) {
	version, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireOwner(ctx, version.ArtifactID, userID); err != nil {
		return nil, err
	}
	if version.IsDeleted {
		if err := s.store.RestoreVersion(ctx, versionID); err != nil {
			return nil, err
		}
	}

	restored, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"versionId": restored.ID,
		"number":    restored.Seq,
		"latest":    restored.IsLatest,
	}, nil
}
