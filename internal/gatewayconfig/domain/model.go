package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// GatewayConfig is the stored row. Credential columns hold sealed envelopes, never plaintext.
type GatewayConfig struct {
	ID                    snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID                 snowflake.ID   `json:"organization_id" gorm:"column:org_id;not null"`
	Provider              string         `json:"provider" gorm:"type:text;not null"`
	SandboxCredentials    datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	ProductionCredentials datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	IsSandbox             bool           `json:"is_sandbox" gorm:"not null;default:true"`
	IsActive              bool           `json:"is_active" gorm:"not null;default:false"`
	LastVerifiedAt        *time.Time     `json:"last_verified_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time      `json:"updated_at" gorm:"not null"`
}

func (GatewayConfig) TableName() string { return "gateway_configs" }

// ResolvedConfig is a decrypted configuration scoped to one tenant and provider.
type ResolvedConfig struct {
	ID             snowflake.ID
	OrgID          snowflake.ID
	Provider       string
	IsSandbox      bool
	IsActive       bool
	Sandbox        map[string]string
	Production     map[string]string
	LastVerifiedAt *time.Time
}
