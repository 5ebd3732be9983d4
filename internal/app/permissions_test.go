package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"redpen/api/internal/capability"
	"redpen/api/internal/store"
)

// reviewStore builds a fakeStore around one artifact and one version, the
// common fixture for permission checks.
func reviewStore(ownerID string, reviewers ...string) *fakeStore {
	granted := make(map[string]bool, len(reviewers))
	for _, reviewer := range reviewers {
		granted[reviewer] = true
	}
	return &fakeStore{
		getVersionFn: func(_ context.Context, versionID string) (store.ArtifactVersion, error) {
			if versionID != "ver-1" {
				return store.ArtifactVersion{}, sql.ErrNoRows
			}
			return store.ArtifactVersion{ID: "ver-1", ArtifactID: "art-1", Seq: 1, IsLatest: true}, nil
		},
		getArtifactFn: func(_ context.Context, artifactID string) (store.Artifact, error) {
			if artifactID != "art-1" {
				return store.Artifact{}, sql.ErrNoRows
			}
			return store.Artifact{ID: "art-1", OwnerID: ownerID, Title: "Design doc"}, nil
		},
		hasActiveGrantFn: func(_ context.Context, _, userID string) (bool, error) {
			return granted[userID], nil
		},
	}
}

func TestResolvePermissionOrder(t *testing.T) {
	svc := newTestService(reviewStore("owner-1", "reviewer-1"))
	ctx := context.Background()

	_, err := svc.ResolvePermission(ctx, "", "ver-1")
	assertDomainCode(t, err, "AUTH_REQUIRED")

	if _, err := svc.ResolvePermission(ctx, "owner-1", "ver-missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no-rows for missing version, got %v", err)
	}

	access, err := svc.ResolvePermission(ctx, "owner-1", "ver-1")
	if err != nil {
		t.Fatalf("owner resolution: %v", err)
	}
	if access.Verdict != VerdictOwner {
		t.Fatalf("expected owner verdict, got %s", access.Verdict)
	}

	access, err = svc.ResolvePermission(ctx, "reviewer-1", "ver-1")
	if err != nil {
		t.Fatalf("reviewer resolution: %v", err)
	}
	if access.Verdict != VerdictCanComment {
		t.Fatalf("expected can-comment verdict, got %s", access.Verdict)
	}

	_, err = svc.ResolvePermission(ctx, "stranger", "ver-1")
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestResolvePermissionCollapsesDeletedRows(t *testing.T) {
	fs := reviewStore("owner-1")
	fs.getVersionFn = func(context.Context, string) (store.ArtifactVersion, error) {
		return store.ArtifactVersion{ID: "ver-1", ArtifactID: "art-1", IsDeleted: true}, nil
	}
	svc := newTestService(fs)

	_, err := svc.ResolvePermission(context.Background(), "owner-1", "ver-1")
	assertDomainCode(t, err, "NOT_FOUND")
}

func TestResolvePermissionDeletedArtifactHidesVersion(t *testing.T) {
	fs := reviewStore("owner-1")
	fs.getArtifactFn = func(context.Context, string) (store.Artifact, error) {
		return store.Artifact{ID: "art-1", OwnerID: "owner-1", IsDeleted: true}, nil
	}
	svc := newTestService(fs)

	_, err := svc.ResolvePermission(context.Background(), "owner-1", "ver-1")
	assertDomainCode(t, err, "NOT_FOUND")
}

func TestRevokedReviewerLosesAccessImmediately(t *testing.T) {
	granted := true
	fs := reviewStore("owner-1")
	fs.hasActiveGrantFn = func(context.Context, string, string) (bool, error) {
		return granted, nil
	}
	svc := newTestService(fs)
	ctx := context.Background()

	if _, err := svc.ResolvePermission(ctx, "reviewer-1", "ver-1"); err != nil {
		t.Fatalf("expected access while granted: %v", err)
	}

	granted = false
	_, err := svc.ResolvePermission(ctx, "reviewer-1", "ver-1")
	assertDomainCode(t, err, "FORBIDDEN")
}

func shareStore(enabled, readComments, writeComments bool) *fakeStore {
	fs := reviewStore("owner-1")
	fs.getShareByTokenFn = func(_ context.Context, token string) (store.PublicShare, error) {
		if token != "tok-1" {
			return store.PublicShare{}, sql.ErrNoRows
		}
		return store.PublicShare{
			ID:            "shr-1",
			ArtifactID:    "art-1",
			Token:         "tok-1",
			Enabled:       enabled,
			ReadComments:  readComments,
			WriteComments: writeComments,
		}, nil
	}
	return fs
}

func TestResolvePublicShare(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(shareStore(true, true, false))
	if _, err := svc.ResolvePublicShare(ctx, "tok-1", capability.ReadComments, "ver-1"); err != nil {
		t.Fatalf("read with readComments: %v", err)
	}
	_, err := svc.ResolvePublicShare(ctx, "tok-1", capability.WriteComments, "ver-1")
	assertDomainCode(t, err, "FORBIDDEN")

	if _, err := svc.ResolvePublicShare(ctx, "unknown", capability.ReadComments, "ver-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected no-rows for unknown token, got %v", err)
	}

	svc = newTestService(shareStore(false, true, true))
	_, err = svc.ResolvePublicShare(ctx, "tok-1", capability.ReadComments, "ver-1")
	assertDomainCode(t, err, "SHARE_DISABLED")
}

func TestResolvePublicShareRejectsForeignVersion(t *testing.T) {
	fs := shareStore(true, true, true)
	fs.getVersionFn = func(_ context.Context, versionID string) (store.ArtifactVersion, error) {
		return store.ArtifactVersion{ID: versionID, ArtifactID: "other-artifact"}, nil
	}
	svc := newTestService(fs)

	_, err := svc.ResolvePublicShare(context.Background(), "tok-1", capability.ReadComments, "ver-9")
	assertDomainCode(t, err, "NOT_FOUND")
}
