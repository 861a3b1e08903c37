package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeSystem    ActorType = "system"
	ActorTypeToken     ActorType = "token"
	ActorTypeScheduler ActorType = "sweep_secret"
)

const (
	ActionRefundCreated  = "refund.created"
	ActionFreezeCreated  = "freeze.created"
	ActionFreezeUpdated  = "freeze.updated"
	ActionFreezeDeleted  = "freeze.deleted"
	ActionSweepTriggered = "sweep.triggered"
)

// AuditLog is one staff or operator action that moved money or changed a
// member's schedule.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType  string            `gorm:"not null" json:"actor_type"`
	ActorID    *string           `json:"actor_id,omitempty"`
	Action     string            `gorm:"not null;index" json:"action"`
	TargetType string            `gorm:"not null" json:"target_type"`
	TargetID   *string           `gorm:"index" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	RequestID  *string           `json:"request_id,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

// Entry describes an action to record. Values under Sensitive are masked
// before they are stored.
type Entry struct {
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	Sensitive  map[string]any
}

type ListRequest struct {
	Action     string
	TargetType string
	TargetID   string
	StartAt    *time.Time
	EndAt      *time.Time
	PageToken  string
	PageSize   int
}

type ListResponse struct {
	AuditLogs     []AuditLog `json:"audit_logs"`
	NextPageToken string     `json:"next_page_token,omitempty"`
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	StartAt    *time.Time
	EndAt      *time.Time
	BeforeID   *snowflake.ID
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
