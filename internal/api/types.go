package api

import (
	"encoding/json"
	"time"
)

// --- Sessions ---

// CreateSessionResp is returned by POST /v1/sessions.
type CreateSessionResp struct {
	SessionID string    `json:"session_id"`
	ProjectID string    `json:"project_id"`
	Handlers  []string  `json:"handlers"`
	CreatedAt time.Time `json:"created_at"`
}

// ProcessRequest is the JSON body for POST /v1/sessions/{session_id}/process.
type ProcessRequest struct {
	Content   string `json:"content"`
	Direction string `json:"direction"`
	AgentID   string `json:"agent_id,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
}

// ProcessResponse carries the chain verdict. In shadow mode Verdict is always
// "allow" and ShadowVerdict holds what the chain decided.
type ProcessResponse struct {
	Verdict       string   `json:"verdict"`
	Content       *string  `json:"content,omitempty"`
	Reason        *string  `json:"reason,omitempty"`
	DecidedBy     *string  `json:"decided_by,omitempty"`
	ModifiedBy    []string `json:"modified_by,omitempty"`
	IsShadow      bool     `json:"is_shadow"`
	ShadowVerdict *string  `json:"shadow_verdict,omitempty"`
	EventID       string   `json:"event_id"`
	LatencyMs     float64  `json:"latency_ms"`
}

// ResetResp acknowledges a turn or round reset.
type ResetResp struct {
	SessionID string `json:"session_id"`
	Reset     string `json:"reset"`
}

// --- Project CRUD ---

// CreateProjectReq is the JSON body for POST /api/projects.
type CreateProjectReq struct {
	Name string `json:"name"`
	Mode string `json:"mode,omitempty"`
}

// CreateProjectResp includes the plaintext API key (shown once).
type CreateProjectResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
}

// UpdateProjectReq is the JSON body for PATCH /api/projects/{id}.
type UpdateProjectReq struct {
	Name *string `json:"name,omitempty"`
	Mode *string `json:"mode,omitempty"`
}

type ProjectResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Policy ---

// ReplacePolicyReq is the JSON body for PUT /api/projects/{id}/policy.
type ReplacePolicyReq struct {
	HandlerConfig json.RawMessage `json:"handler_config"`
}

type PolicyResp struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	HandlerConfig json.RawMessage `json:"handler_config"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// --- Events ---

// EventResp is one recorded intervention.
type EventResp struct {
	EventID        string    `json:"event_id"`
	ProjectID      string    `json:"project_id"`
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	Direction      string    `json:"direction"`
	AgentID        *string   `json:"agent_id"`
	ToolName       *string   `json:"tool_name"`
	Provider       *string   `json:"provider"`
	Model          *string   `json:"model"`
	Verdict        string    `json:"verdict"`
	Reason         *string   `json:"reason"`
	DecidedBy      *string   `json:"decided_by"`
	ModifiedBy     []string  `json:"modified_by"`
	ContentPreview string    `json:"content_preview"`
	ContentHash    string    `json:"content_hash"`
	ContentSize    uint32    `json:"content_size"`
	IsShadow       bool      `json:"is_shadow"`
	LatencyMs      float32   `json:"latency_ms"`
}

type EventListResp struct {
	Events   []EventResp `json:"events"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
