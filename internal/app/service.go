package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"redpen/api/internal/auth"
	"redpen/api/internal/authpw"
	"redpen/api/internal/blob"
	"redpen/api/internal/config"
	"redpen/api/internal/notify"
	"redpen/api/internal/search"
	"redpen/api/internal/store"
	"redpen/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertArtifact(context.Context, store.Artifact) error
	GetArtifact(context.Context, string) (store.Artifact, error)
	ListArtifactsForUser(context.Context, string) ([]store.Artifact, error)
	SoftDeleteArtifact(context.Context, string) (bool, error)

	CreateVersion(context.Context, store.ArtifactVersion) (store.ArtifactVersion, error)
	GetVersion(context.Context, string) (store.ArtifactVersion, error)
	ListVersions(context.Context, string, bool) ([]store.ArtifactVersion, error)
	RenameVersion(context.Context, string, string) (bool, error)
	SoftDeleteVersion(context.Context, string) error
	RestoreVersion(context.Context, string) error

	GrantReviewer(context.Context, store.AccessGrant) (store.AccessGrant, bool, error)
	GetGrant(context.Context, string) (store.AccessGrant, error)
	HasActiveGrant(context.Context, string, string) (bool, error)
	RevokeGrant(context.Context, string) (bool, error)
	ListGrants(context.Context, string) ([]store.AccessGrant, error)

	InsertShare(context.Context, store.PublicShare) error
	GetShare(context.Context, string) (store.PublicShare, error)
	GetShareByToken(context.Context, string) (store.PublicShare, error)
	ListShares(context.Context, string) ([]store.PublicShare, error)
	UpdateShareCapabilities(context.Context, string, bool, bool) (bool, error)
	UpdateShareEnabled(context.Context, string, bool) (bool, error)

	InsertAgent(context.Context, store.Agent) error
	GetAgent(context.Context, string) (store.Agent, error)
	ListAgents(context.Context, string) ([]store.Agent, error)

	InsertComment(context.Context, store.Comment) error
	GetComment(context.Context, string) (store.Comment, error)
	ListActiveComments(context.Context, string) ([]store.Comment, error)
	EditComment(context.Context, string, string) (bool, error)
	ToggleCommentResolved(context.Context, string, string) (*time.Time, error)
	SoftDeleteComment(context.Context, string, string) (bool, error)

	InsertReply(context.Context, store.Reply) error
	GetReply(context.Context, string) (store.Reply, error)
	ListActiveReplies(context.Context, string) ([]store.Reply, error)
	EditReply(context.Context, string, string) (bool, error)
	SoftDeleteReply(context.Context, string, string) (bool, error)
}

// sessionStore holds refresh tokens. Backed by Redis in production, by
// Postgres when Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// notifier delivers transactional email. Failures are logged, never returned
// to the request path.
type notifier interface {
	IsConfigured() bool
	CommentCreated(to, artifactTitle, authorName, excerpt string) error
	ReplyCreated(to, artifactTitle, authorName, excerpt string) error
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

// blobStore persists uploaded version content.
type blobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	search   *search.Service
	notifier notifier
	blobs    blobStore
	authpw   *authpw.Service
}

// New wires the service. sessions may be nil (falls back to the data store),
// and searchService, notifierService, and blobs may be nil when the
// corresponding backend is not configured.
func New(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchService *search.Service, notifierService *notify.Service, blobs *blob.Store) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchService,
		authpw:   authpw.NewService(dataStore),
	}
	if svc.sessions == nil {
		svc.sessions = dataStore
	}
	if notifierService != nil {
		svc.notifier = notifierService
	}
	if blobs != nil {
		svc.blobs = blobs
	}
	return svc
}

// Bootstrap runs startup work that may fail without blocking serving.
func (s *Service) Bootstrap(ctx context.Context) error {
	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuthPasswordService exposes the email/password flow to the HTTP layer.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outbound email is available.
func (s *Service) SMTPConfigured() bool {
	return s.notifier != nil && s.notifier.IsConfigured()
}

// CreateSession issues an access/refresh token pair for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Artifacts

func (s *Service) CreateArtifact(ctx context.Context, userID, title string) (map[string]any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	artifact := store.Artifact{
		ID:      util.NewID("art"),
		OwnerID: userID,
		Title:   title,
	}
	if err := s.store.InsertArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	return map[string]any{"artifactId": artifact.ID, "title": artifact.Title}, nil
}

func (s *Service) ListArtifacts(ctx context.Context, userID string) (map[string]any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}
	artifacts, err := s.store.ListArtifactsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(artifacts))
	for _, artifact := range artifacts {
		items = append(items, map[string]any{
			"id":        artifact.ID,
			"title":     artifact.Title,
			"ownerId":   artifact.OwnerID,
			"updatedAt": artifact.UpdatedAt,
		})
	}
	return map[string]any{"artifacts": items}, nil
}

// GetArtifact returns artifact metadata with its versions. The owner sees
// deleted versions too; reviewers only the active ones.
func (s *Service) GetArtifact(ctx context.Context, artifactID, userID string) (map[string]any, error) {
	artifact, err := s.artifactForViewer(ctx, artifactID, userID)
	if err != nil {
		return nil, err
	}

	includeDeleted := artifact.OwnerID == userID
	versions, err := s.store.ListVersions(ctx, artifactID, includeDeleted)
	if err != nil {
		return nil, err
	}
	versionItems := make([]map[string]any, 0, len(versions))
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
		versionItems = append(versionItems, item)
	}

	return map[string]any{
		"id":       artifact.ID,
		"title":    artifact.Title,
		"ownerId":  artifact.OwnerID,
		"versions": versionItems,
	}, nil
}

func (s *Service) DeleteArtifact(ctx context.Context, artifactID, userID string) (map[string]any, error) {
	if _, err := s.requireOwner(ctx, artifactID, userID); err != nil {
		return nil, err
	}
	changed, err := s.store.SoftDeleteArtifact(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, domainError(http.StatusConflict, "ALREADY_DELETED", "Artifact already deleted", nil)
	}
	return map[string]any{"artifactId": artifactID, "deleted": true}, nil
}

// Agents

func (s *Service) CreateAgent(ctx context.Context, userID, name string) (map[string]any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	agent := store.Agent{
		ID:      util.NewID("agt"),
		OwnerID: userID,
		Name:    name,
	}
	if err := s.store.InsertAgent(ctx, agent); err != nil {
		return nil, err
	}
	return map[string]any{"agentId": agent.ID, "name": agent.Name}, nil
}

func (s *Service) ListAgents(ctx context.Context, userID string) (map[string]any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}
	agents, err := s.store.ListAgents(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(agents))
	for _, agent := range agents {
		items = append(items, map[string]any{
			"id":        agent.ID,
			"name":      agent.Name,
			"createdAt": agent.CreatedAt,
		})
	}
	return map[string]any{"agents": items}, nil
}

// SearchComments searches the comments of one artifact the caller can read.
func (s *Service) SearchComments(ctx context.Context, userID, query, artifactID string, limit, offset int) (map[string]any, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domainError(http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required", nil)
	}
	if strings.TrimSpace(artifactID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "artifactId is required", nil)
	}
	if _, err := s.artifactForViewer(ctx, artifactID, userID); err != nil {
		return nil, err
	}
	if s.search == nil {
		return map[string]any{"results": []any{}, "total": 0, "query": query}, nil
	}

	response := s.search.Search(search.Query{
		Text:             query,
		FilterArtifactID: artifactID,
		Limit:            limit,
		Offset:           offset,
	})
	return map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
	}, nil
}

// artifactForViewer loads a live artifact the user may read: its owner or an
// active reviewer.
func (s *Service) artifactForViewer(ctx context.Context, artifactID, userID string) (store.Artifact, error) {
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
	if artifact.OwnerID == userID {
		return artifact, nil
	}
	granted, err := s.store.HasActiveGrant(ctx, artifact.ID, userID)
	if err != nil {
		return store.Artifact{}, err
	}
	if !granted {
		return store.Artifact{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return artifact, nil
}

// excerpt shortens content for notification emails, cutting on a rune
// boundary so multi-byte characters survive intact.
func excerpt(content string) string {
	const max = 140
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}

// notifyOwner delivers an owner notification off the request path.
func (s *Service) notifyOwner(artifact store.Artifact, authorName, content string, send func(to, title, author, excerpt string) error) {
	if s.notifier == nil || !s.notifier.IsConfigured() {
		return
	}
	go func() {
		owner, err := s.store.GetUserByID(context.Background(), artifact.OwnerID)
		if err != nil {
			log.Printf("notify: lookup owner %s: %v", artifact.OwnerID, err)
			return
		}
		if owner.Email == "" {
			return
		}
		if err := send(owner.Email, artifact.Title, authorName, excerpt(content)); err != nil {
			log.Printf("notify: send to %s: %v", owner.Email, err)
		}
	}()
}

// SendVerificationEmail delivers the signup verification link off the request
// path. A missing notifier or empty token makes this a no-op; signup already
// succeeded either way.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if s.notifier == nil || !s.notifier.IsConfigured() || to == "" || token == "" {
		return
	}
	verificationURL := s.cfg.AppURL + "/verify-email?token=" + token
	go func() {
		if err := s.notifier.SendVerificationEmail(to, userName, verificationURL); err != nil {
			log.Printf("notify: verification email to %s: %v", to, err)
		}
	}()
}

// SendPasswordResetEmail delivers a reset link to the account holder. The
// user lookup runs in the goroutine so the request path never learns whether
// the email exists.
func (s *Service) SendPasswordResetEmail(email, token string) {
	if s.notifier == nil || !s.notifier.IsConfigured() || token == "" {
		return
	}
	resetURL := s.cfg.AppURL + "/reset-password?token=" + token
	go func() {
		user, err := s.store.GetUserByEmail(context.Background(), email)
		if err != nil {
			log.Printf("notify: lookup account %s: %v", email, err)
			return
		}
		if err := s.notifier.SendPasswordResetEmail(user.Email, user.DisplayName, resetURL); err != nil {
			log.Printf("notify: reset email to %s: %v", user.Email, err)
		}
	}()
}

// isNotFound reports whether err is the not-found collapse in either of its
// shapes: a missing row or an explicit NOT_FOUND domain error.
func isNotFound(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == "NOT_FOUND"
	}
	return false
}
