package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	ListConfigs(ctx context.Context) ([]ConfigSummary, error)
	GetConfig(ctx context.Context, provider string) (*ConfigSummary, error)
	UpsertConfig(ctx context.Context, req UpsertRequest) (*ConfigSummary, error)
	SetActive(ctx context.Context, provider string, isActive bool) (*ConfigSummary, error)

	// Resolve returns the decrypted configuration for one tenant and provider.
	Resolve(ctx context.Context, orgID snowflake.ID, provider string) (*ResolvedConfig, error)
	// ListActive returns active configurations for provider across tenants, or
	// only orgHint's when it is non-zero.
	ListActive(ctx context.Context, provider string, orgHint snowflake.ID) ([]ResolvedConfig, error)
	MarkVerified(ctx context.Context, orgID snowflake.ID, provider string, at time.Time) error
}

type Repository interface {
	ListConfigs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]GatewayConfig, error)
	FindConfig(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string) (*GatewayConfig, error)
	ListActiveByProvider(ctx context.Context, db *gorm.DB, provider string, orgID snowflake.ID) ([]GatewayConfig, error)
	UpsertConfig(ctx context.Context, db *gorm.DB, config *GatewayConfig) error
	UpdateStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, isActive bool, updatedAt time.Time) (bool, error)
	UpdateVerified(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, verifiedAt time.Time) (bool, error)
}

// ConfigSummary describes a configuration without exposing credential values.
type ConfigSummary struct {
	Provider             string     `json:"provider"`
	IsSandbox            bool       `json:"is_sandbox"`
	IsActive             bool       `json:"is_active"`
	SandboxConfigured    bool       `json:"sandbox_configured"`
	ProductionConfigured bool       `json:"production_configured"`
	SandboxKeys          []string   `json:"sandbox_keys,omitempty"`
	ProductionKeys       []string   `json:"production_keys,omitempty"`
	LastVerifiedAt       *time.Time `json:"last_verified_at,omitempty"`
}

// UpsertRequest replaces a credential set when it is non-nil; nil keeps the stored one.
type UpsertRequest struct {
	Provider   string            `json:"provider"`
	Sandbox    map[string]string `json:"sandbox_credentials"`
	Production map[string]string `json:"production_credentials"`
	IsSandbox  *bool             `json:"is_sandbox"`
	IsActive   *bool             `json:"is_active"`
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidConfig        = errors.New("invalid_config")
	ErrNotFound             = errors.New("not_found")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrDecryptFailed        = errors.New("decrypt_failed")
)
