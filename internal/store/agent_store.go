package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AgentData is the managed-mode persistent record for an agent definition.
// Nil in standalone mode, where agents come from config instead.
type AgentData struct {
	ID                  uuid.UUID
	AgentKey            string
	DisplayName         string
	OwnerID             string
	Provider            string
	Model               string
	ContextWindow       int
	MaxToolIterations   int
	Workspace           string
	RestrictToWorkspace bool
	ToolsConfig         json.RawMessage
	SandboxConfig       json.RawMessage
	SubagentsConfig     json.RawMessage
	MemoryConfig        json.RawMessage
	CompactionConfig    json.RawMessage
	ContextPruning      json.RawMessage
	OtherConfig         json.RawMessage
	AgentType           string
	IsDefault           bool
	Status              string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AgentShareData grants a user a role on an agent they don't own.
type AgentShareData struct {
	ID        uuid.UUID
	AgentID   uuid.UUID
	UserID    string
	Role      string
	GrantedBy string
	CreatedAt time.Time
}

// AgentContextFileData is a named context file attached to an agent,
// visible to every user of that agent.
type AgentContextFileData struct {
	AgentID uuid.UUID
	FileName string
	Content  string
}

// UserContextFileData is a named context file scoped to one user of an agent.
type UserContextFileData struct {
	AgentID  uuid.UUID
	UserID   string
	FileName string
	Content  string
}

// UserAgentOverrideData lets a single user override an agent's provider/model.
type UserAgentOverrideData struct {
	AgentID  uuid.UUID
	UserID   string
	Provider string
	Model    string
}

// AgentStore persists managed-mode agent definitions, their access grants,
// and per-agent/per-user context files. Implemented by internal/store/pg;
// nil in standalone (file-store) mode.
type AgentStore interface {
	Create(ctx context.Context, agent *AgentData) error
	GetByKey(ctx context.Context, agentKey string) (*AgentData, error)
	GetByID(ctx context.Context, id uuid.UUID) (*AgentData, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, ownerID string) ([]AgentData, error)

	ShareAgent(ctx context.Context, agentID uuid.UUID, userID, role, grantedBy string) error
	RevokeShare(ctx context.Context, agentID uuid.UUID, userID string) error
	ListShares(ctx context.Context, agentID uuid.UUID) ([]AgentShareData, error)
	CanAccess(ctx context.Context, agentID uuid.UUID, userID string) (bool, string, error)
	ListAccessible(ctx context.Context, userID string) ([]AgentData, error)

	GetAgentContextFiles(ctx context.Context, agentID uuid.UUID) ([]AgentContextFileData, error)
	SetAgentContextFile(ctx context.Context, agentID uuid.UUID, fileName, content string) error
	GetUserContextFiles(ctx context.Context, agentID uuid.UUID, userID string) ([]UserContextFileData, error)
	SetUserContextFile(ctx context.Context, agentID uuid.UUID, userID, fileName, content string) error
	DeleteUserContextFile(ctx context.Context, agentID uuid.UUID, userID, fileName string) error

	GetOrCreateUserProfile(ctx context.Context, agentID uuid.UUID, userID, workspace string) (bool, error)
	GetUserOverride(ctx context.Context, agentID uuid.UUID, userID string) (*UserAgentOverrideData, error)
	SetUserOverride(ctx context.Context, override *UserAgentOverrideData) error
}
