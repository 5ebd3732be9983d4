package app

import (
	"context"
	"database/sql"
	"testing"

	"redpen/api/internal/store"
)

func TestGrantReviewerByEmail(t *testing.T) {
	var inserted store.AccessGrant
	fs := reviewStore("owner-1")
	fs.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		if email != "pat@example.com" {
			return store.User{}, sql.ErrNoRows
		}
		return store.User{ID: "user-pat", Email: email}, nil
	}
	fs.grantReviewerFn = func(_ context.Context, grant store.AccessGrant) (store.AccessGrant, bool, error) {
		inserted = grant
		return grant, true, nil
	}
	svc := newTestService(fs)
	ctx := context.Background()

	payload, err := svc.GrantReviewer(ctx, "art-1", "owner-1", "  Pat@Example.com ")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if payload["created"] != true || payload["userId"] != "user-pat" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if inserted.GrantedBy != "owner-1" || inserted.ArtifactID != "art-1" {
		t.Fatalf("unexpected grant row: %+v", inserted)
	}

	_, err = svc.GrantReviewer(ctx, "art-1", "owner-1", "nobody@example.com")
	assertDomainCode(t, err, "NOT_FOUND")
}

func TestGrantReviewerDeduplicates(t *testing.T) {
	fs := reviewStore("owner-1")
	fs.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		return store.User{ID: "user-pat", Email: email}, nil
	}
	fs.grantReviewerFn = func(_ context.Context, grant store.AccessGrant) (store.AccessGrant, bool, error) {
		existing := store.AccessGrant{ID: "grt-existing", ArtifactID: grant.ArtifactID, UserID: grant.UserID}
		return existing, false, nil
	}
	svc := newTestService(fs)

	payload, err := svc.GrantReviewer(context.Background(), "art-1", "owner-1", "pat@example.com")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if payload["created"] != false || payload["grantId"] != "grt-existing" {
		t.Fatalf("expected no-op returning the existing grant, got %v", payload)
	}
}

func TestGrantReviewerRejectsOwnerSelf(t *testing.T) {
	fs := reviewStore("owner-1")
	fs.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		return store.User{ID: "owner-1", Email: email}, nil
	}
	svc := newTestService(fs)

	_, err := svc.GrantReviewer(context.Background(), "art-1", "owner-1", "owner@example.com")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestRevokeReviewerOwnerOnly(t *testing.T) {
	fs := reviewStore("owner-1")
	fs.getGrantFn = func(_ context.Context, grantID string) (store.AccessGrant, error) {
		return store.AccessGrant{ID: grantID, ArtifactID: "art-1", UserID: "user-pat"}, nil
	}
	fs.revokeGrantFn = func(context.Context, string) (bool, error) {
		return true, nil
	}
	svc := newTestService(fs)
	ctx := context.Background()

	_, err := svc.RevokeReviewer(ctx, "grt-1", "user-pat")
	assertDomainCode(t, err, "FORBIDDEN")

	payload, err := svc.RevokeReviewer(ctx, "grt-1", "owner-1")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if payload["revoked"] != true {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestCreatePublicShareStartsLockedDown(t *testing.T) {
	var inserted store.PublicShare
	fs := reviewStore("owner-1")
	fs.insertShareFn = func(_ context.Context, share store.PublicShare) error {
		inserted = share
		return nil
	}
	svc := newTestService(fs)

	payload, err := svc.CreatePublicShare(context.Background(), "art-1", "owner-1")
	if err != nil {
		t.Fatalf("create share: %v", err)
	}
	if !inserted.Enabled || inserted.ReadComments || inserted.WriteComments {
		t.Fatalf("expected enabled share with no capabilities, got %+v", inserted)
	}
	token, _ := payload["token"].(string)
	if len(token) != shareTokenLength {
		t.Fatalf("expected %d-char token, got %q", shareTokenLength, token)
	}
}

func TestSetShareCapabilitiesInvariant(t *testing.T) {
	current := store.PublicShare{ID: "shr-1", ArtifactID: "art-1", Enabled: true}
	var saved [2]bool
	fs := reviewStore("owner-1")
	fs.getShareFn = func(context.Context, string) (store.PublicShare, error) {
		return current, nil
	}
	fs.updateShareCapabilitiesFn = func(_ context.Context, _ string, readComments, writeComments bool) (bool, error) {
		saved = [2]bool{readComments, writeComments}
		return true, nil
	}
	svc := newTestService(fs)
	ctx := context.Background()
	yes, no := true, false

	// writeComments alone violates the dependency.
	_, err := svc.SetShareCapabilities(ctx, "shr-1", "owner-1", nil, &yes)
	assertDomainCode(t, err, "INVALID_CAPABILITY")

	// Both on is fine.
	if _, err := svc.SetShareCapabilities(ctx, "shr-1", "owner-1", &yes, &yes); err != nil {
		t.Fatalf("enable both: %v", err)
	}
	if saved != [2]bool{true, true} {
		t.Fatalf("expected both saved, got %v", saved)
	}

	// Turning read off drags write down with it.
	current.ReadComments = true
	current.WriteComments = true
	if _, err := svc.SetShareCapabilities(ctx, "shr-1", "owner-1", &no, nil); err != nil {
		t.Fatalf("disable read: %v", err)
	}
	if saved != [2]bool{false, false} {
		t.Fatalf("expected write forced off with read, got %v", saved)
	}
}

func TestSetShareEnabledTogglesKillSwitch(t *testing.T) {
	fs := reviewStore("owner-1")
	fs.getShareFn = func(_ context.Context, shareID string) (store.PublicShare, error) {
		return store.PublicShare{ID: shareID, ArtifactID: "art-1", Enabled: true}, nil
	}
	fs.updateShareEnabledFn = func(_ context.Context, _ string, enabled bool) (bool, error) {
		return true, nil
	}
	svc := newTestService(fs)

	payload, err := svc.SetShareEnabled(context.Background(), "shr-1", "owner-1", false)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if payload["enabled"] != false {
		t.Fatalf("unexpected payload: %v", payload)
	}
}
