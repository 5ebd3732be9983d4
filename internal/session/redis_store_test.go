package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"redpen/api/internal/auth"
)

// newMiniredisStore spins up an in-memory Redis and a store connected to it.
// Token hashes go through auth.HashToken, the same shape the service writes.
func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("connect store to miniredis: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, mr
}

func TestRedisStorePing(t *testing.T) {
	rs, _ := newMiniredisStore(t)

	if err := rs.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestRefreshSessionLifecycle(t *testing.T) {
	rs, _ := newMiniredisStore(t)
	ctx := context.Background()

	ownerHash := auth.HashToken("rft_owner_refresh_token")
	reviewerHash := auth.HashToken("rft_reviewer_refresh_token")
	expiresAt := time.Now().Add(30 * 24 * time.Hour)

	if err := rs.SaveRefreshSession(ctx, ownerHash, "usr_owner", expiresAt); err != nil {
		t.Fatalf("save owner session: %v", err)
	}
	if err := rs.SaveRefreshSession(ctx, reviewerHash, "usr_reviewer", expiresAt); err != nil {
		t.Fatalf("save reviewer session: %v", err)
	}

	owner, err := rs.LookupRefreshSession(ctx, ownerHash)
	if err != nil {
		t.Fatalf("lookup owner session: %v", err)
	}
	if owner.ID != "usr_owner" {
		t.Fatalf("expected usr_owner, got %q", owner.ID)
	}

	// Revoking one session leaves the other intact.
	if err := rs.RevokeRefreshSession(ctx, ownerHash); err != nil {
		t.Fatalf("revoke owner session: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, ownerHash); err == nil {
		t.Fatalf("expected revoked session to be gone")
	}
	reviewer, err := rs.LookupRefreshSession(ctx, reviewerHash)
	if err != nil {
		t.Fatalf("lookup reviewer session after unrelated revoke: %v", err)
	}
	if reviewer.ID != "usr_reviewer" {
		t.Fatalf("expected usr_reviewer, got %q", reviewer.ID)
	}
}

func TestRefreshSessionExpires(t *testing.T) {
	rs, mr := newMiniredisStore(t)
	ctx := context.Background()

	hash := auth.HashToken("rft_short_lived")
	if err := rs.SaveRefreshSession(ctx, hash, "usr_owner", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("save session: %v", err)
	}

	if _, err := rs.LookupRefreshSession(ctx, hash); err != nil {
		t.Fatalf("lookup before expiry: %v", err)
	}

	mr.FastForward(2 * time.Second)

	if _, err := rs.LookupRefreshSession(ctx, hash); err == nil {
		t.Fatalf("expected expired session to be gone")
	}
}

func TestLookupUnknownHashFails(t *testing.T) {
	rs, _ := newMiniredisStore(t)

	if _, err := rs.LookupRefreshSession(context.Background(), auth.HashToken("rft_never_issued")); err == nil {
		t.Fatalf("expected error for unknown token hash")
	}
}

func TestRevokeUnknownHashIsNoop(t *testing.T) {
	rs, _ := newMiniredisStore(t)

	if err := rs.RevokeRefreshSession(context.Background(), auth.HashToken("rft_never_issued")); err != nil {
		t.Fatalf("revoking an unknown hash should not error: %v", err)
	}
}
