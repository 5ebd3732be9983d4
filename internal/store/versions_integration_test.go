package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
)

// Integration coverage for the version lifecycle guarantees that live in SQL:
// the single latest flag per artifact and the refusal to delete the only
// active version. Requires a reachable PostgreSQL instance.

func TestVersionLifecycleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDB(t, ctx)
	defer db.Close()
	s := NewPostgresStore(db)

	ownerID := seedUser(t, ctx, db, "ver-lifecycle-owner")
	artifactID := seedArtifact(t, ctx, db, ownerID, "Lifecycle artifact")

	v1, err := s.CreateVersion(ctx, ArtifactVersion{ID: "itest-ver-1", ArtifactID: artifactID, Name: "Draft 1", CreatedBy: ownerID})
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if v1.Seq != 1 || !v1.IsLatest {
		t.Fatalf("expected first version to be seq 1 latest, got %+v", v1)
	}

	v2, err := s.CreateVersion(ctx, ArtifactVersion{ID: "itest-ver-2", ArtifactID: artifactID, Name: "Draft 2", CreatedBy: ownerID})
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	if v2.Seq != 2 || !v2.IsLatest {
		t.Fatalf("expected second version to be seq 2 latest, got %+v", v2)
	}
	assertLatestCount(t, ctx, db, artifactID, 1)

	// Deleting the latest version shifts the flag to the survivor.
	if err := s.SoftDeleteVersion(ctx, v2.ID); err != nil {
		t.Fatalf("delete v2: %v", err)
	}
	assertLatestCount(t, ctx, db, artifactID, 1)
	survivor, err := s.GetVersion(ctx, v1.ID)
	if err != nil {
		t.Fatalf("get v1: %v", err)
	}
	if !survivor.IsLatest {
		t.Fatalf("expected v1 to become latest after v2 deletion")
	}

	// The sole remaining active version cannot be deleted.
	if err := s.SoftDeleteVersion(ctx, v1.ID); !errors.Is(err, ErrLastVersion) {
		t.Fatalf("expected ErrLastVersion, got %v", err)
	}

	// Restoring v2 recomputes the flag: highest active seq wins.
	if err := s.RestoreVersion(ctx, v2.ID); err != nil {
		t.Fatalf("restore v2: %v", err)
	}
	assertLatestCount(t, ctx, db, artifactID, 1)
	restored, err := s.GetVersion(ctx, v2.ID)
	if err != nil {
		t.Fatalf("get v2: %v", err)
	}
	if !restored.IsLatest || restored.IsDeleted {
		t.Fatalf("expected restored v2 to be the active latest, got %+v", restored)
	}
}

func TestCommentDeleteCascadesToRepliesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDB(t, ctx)
	defer db.Close()
	s := NewPostgresStore(db)

	ownerID := seedUser(t, ctx, db, "cascade-owner")
	artifactID := seedArtifact(t, ctx, db, ownerID, "Cascade artifact")
	version, err := s.CreateVersion(ctx, ArtifactVersion{ID: "itest-cascade-ver", ArtifactID: artifactID, CreatedBy: ownerID})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}

	comment := Comment{ID: "itest-cascade-cmt", VersionID: version.ID, CreatedBy: ownerID, Content: "parent", Target: "{}"}
	if err := s.InsertComment(ctx, comment); err != nil {
		t.Fatalf("insert comment: %v", err)
	}
	for i := 0; i < 2; i++ {
		reply := Reply{ID: fmt.Sprintf("itest-cascade-rpl-%d", i), CommentID: comment.ID, CreatedBy: ownerID, Content: "child"}
		if err := s.InsertReply(ctx, reply); err != nil {
			t.Fatalf("insert reply %d: %v", i, err)
		}
	}

	changed, err := s.SoftDeleteComment(ctx, comment.ID, ownerID)
	if err != nil {
		t.Fatalf("delete comment: %v", err)
	}
	if !changed {
		t.Fatalf("expected delete to change the comment")
	}

	var liveReplies int
	err = db.QueryRowContext(ctx,
		`SELECT count(*) FROM replies WHERE comment_id = $1 AND NOT is_deleted`, comment.ID).Scan(&liveReplies)
	if err != nil {
		t.Fatalf("count replies: %v", err)
	}
	if liveReplies != 0 {
		t.Fatalf("expected all replies soft-deleted with the parent, %d still live", liveReplies)
	}

	// Deleting again reports no change.
	changed, err = s.SoftDeleteComment(ctx, comment.ID, ownerID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if changed {
		t.Fatalf("expected second delete to be a no-op")
	}

	// The insert guard refuses new replies under the deleted parent.
	lateReply := Reply{ID: "itest-cascade-rpl-late", CommentID: comment.ID, CreatedBy: ownerID, Content: "late"}
	if err := s.InsertReply(ctx, lateReply); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows inserting under deleted parent, got %v", err)
	}
}

func TestToggleResolvedFlipsInOneStatementIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := openTestDB(t, ctx)
	defer db.Close()
	s := NewPostgresStore(db)

	ownerID := seedUser(t, ctx, db, "toggle-owner")
	artifactID := seedArtifact(t, ctx, db, ownerID, "Toggle artifact")
	version, err := s.CreateVersion(ctx, ArtifactVersion{ID: "itest-toggle-ver", ArtifactID: artifactID, CreatedBy: ownerID})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	comment := Comment{ID: "itest-toggle-cmt", VersionID: version.ID, CreatedBy: ownerID, Content: "open question", Target: "{}"}
	if err := s.InsertComment(ctx, comment); err != nil {
		t.Fatalf("insert comment: %v", err)
	}

	resolvedAt, err := s.ToggleCommentResolved(ctx, comment.ID, ownerID)
	if err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if resolvedAt == nil {
		t.Fatalf("expected first toggle to resolve")
	}

	reopenedAt, err := s.ToggleCommentResolved(ctx, comment.ID, ownerID)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if reopenedAt != nil {
		t.Fatalf("expected second toggle to reopen, got %v", reopenedAt)
	}

	if _, err := s.ToggleCommentResolved(ctx, "itest-no-such-comment", ownerID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for missing comment, got %v", err)
	}
}

func assertLatestCount(t *testing.T, ctx context.Context, db *sql.DB, artifactID string, want int) {
	t.Helper()
	var got int
	err := db.QueryRowContext(ctx, `
		SELECT count(*) FROM artifact_versions
		WHERE artifact_id = $1 AND is_latest AND NOT is_deleted
	`, artifactID).Scan(&got)
	if err != nil {
		t.Fatalf("count latest versions: %v", err)
	}
	if got != want {
		t.Fatalf("expected %d latest version(s), got %d", want, got)
	}
}

func openTestDB(t *testing.T, ctx context.Context) *sql.DB {
	t.Helper()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

func seedUser(t *testing.T, ctx context.Context, db *sql.DB, name string) string {
	t.Helper()
	id := "itest-user-" + name
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified)
		VALUES ($1, $2, $3, 'x', TRUE)
		ON CONFLICT (id) DO NOTHING`,
		id, name, id+"@example.com")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func seedArtifact(t *testing.T, ctx context.Context, db *sql.DB, ownerID, title string) string {
	t.Helper()
	id := "itest-art-" + title
	_, err := db.ExecContext(ctx, `
		INSERT INTO artifacts (id, owner_id, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		id, ownerID, title)
	if err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	// Reset any state left behind by a previous run.
	cleanup := []string{
		`DELETE FROM replies WHERE comment_id IN (
			SELECT c.id FROM comments c
			JOIN artifact_versions v ON v.id = c.version_id
			WHERE v.artifact_id = $1)`,
		`DELETE FROM comments WHERE version_id IN (
			SELECT id FROM artifact_versions WHERE artifact_id = $1)`,
		`DELETE FROM artifact_versions WHERE artifact_id = $1`,
	}
	for _, stmt := range cleanup {
		if _, err := db.ExecContext(ctx, stmt, id); err != nil {
			t.Fatalf("reset artifact state: %v", err)
		}
	}
	return id
}

// getTestDatabaseURL returns the database URL for testing.
// It checks the TEST_DATABASE_URL environment variable first,
// then falls back to a default local development URL.
func getTestDatabaseURL(t *testing.T) string {
	t.Helper()

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url
	}

	host := envOr("POSTGRES_HOST", "localhost")
	port := envOr("POSTGRES_PORT", "5432")
	user := envOr("POSTGRES_USER", "redpen")
	pass := envOr("POSTGRES_PASSWORD", "redpen")
	name := envOr("POSTGRES_DB", "redpen_test")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, pass, host, port, name)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
