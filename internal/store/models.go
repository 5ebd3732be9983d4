package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Artifact struct {
	ID        string
	OwnerID   string
	Title     string
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ArtifactVersion struct {
	ID         string
	ArtifactID string
	Seq        int
	Name       string
	IsLatest   bool
	IsDeleted  bool
	CreatedBy  string
	CreatedAt  time.Time
}

type AccessGrant struct {
	ID         string
	ArtifactID string
	UserID     string
	GrantedBy  string
	IsDeleted  bool
	CreatedAt  time.Time
	// Joined fields for API responses
	UserEmail string
	UserName  string
}

type PublicShare struct {
	ID            string
	ArtifactID    string
	Token         string
	Enabled       bool
	ReadComments  bool
	WriteComments bool
	CreatedBy     string
	CreatedAt     time.Time
}

// Agent is a registered automation identity. Comments created through the API
// may carry an agent ID; the agent's display name is resolved at read time.
type Agent struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

type Comment struct {
	ID                string
	VersionID         string
	CreatedBy         string
	AgentID           string
	Content           string
	Target            string
	ResolvedUpdatedAt *time.Time
	ResolvedUpdatedBy string
	IsEdited          bool
	EditedAt          *time.Time
	IsDeleted         bool
	DeletedBy         string
	DeletedAt         *time.Time
	CreatedAt         time.Time
	// Joined fields for API responses
	AuthorName  string
	AuthorEmail string
	AgentName   string
}

type Reply struct {
	ID        string
	CommentID string
	CreatedBy string
	AgentID   string
	Content   string
	IsEdited  bool
	EditedAt  *time.Time
	IsDeleted bool
	DeletedBy string
	DeletedAt *time.Time
	CreatedAt time.Time
	// Joined fields for API responses
	AuthorName  string
	AuthorEmail string
	AgentName   string
}
