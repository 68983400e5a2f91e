package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paygate/internal/gatewayconfig/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const configColumns = `id, org_id, provider, sandbox_credentials, production_credentials,
	is_sandbox, is_active, last_verified_at, created_at, updated_at`

func (r *repo) ListConfigs(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]domain.GatewayConfig, error) {
	var configs []domain.GatewayConfig
	err := db.WithContext(ctx).Raw(
		`SELECT `+configColumns+`
		 FROM gateway_configs
		 WHERE org_id = ?
		 ORDER BY provider`,
		orgID,
	).Scan(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *repo) FindConfig(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string) (*domain.GatewayConfig, error) {
	var item domain.GatewayConfig
	err := db.WithContext(ctx).Raw(
		`SELECT `+configColumns+`
		 FROM gateway_configs
		 WHERE org_id = ? AND provider = ?
		 LIMIT 1`,
		orgID,
		provider,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListActiveByProvider(ctx context.Context, db *gorm.DB, provider string, orgID snowflake.ID) ([]domain.GatewayConfig, error) {
	query := db.WithContext(ctx)
	var configs []domain.GatewayConfig
	var err error
	if orgID != 0 {
		err = query.Raw(
			`SELECT `+configColumns+`
			 FROM gateway_configs
			 WHERE provider = ? AND is_active = ? AND org_id = ?`,
			provider,
			true,
			orgID,
		).Scan(&configs).Error
	} else {
		err = query.Raw(
			`SELECT `+configColumns+`
			 FROM gateway_configs
			 WHERE provider = ? AND is_active = ?
			 ORDER BY org_id`,
			provider,
			true,
		).Scan(&configs).Error
	}
	if err != nil {
		return nil, err
	}
	return configs, nil
}

func (r *repo) UpsertConfig(ctx context.Context, db *gorm.DB, config *domain.GatewayConfig) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO gateway_configs (
			id, org_id, provider, sandbox_credentials, production_credentials,
			is_sandbox, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, provider)
		DO UPDATE SET sandbox_credentials = EXCLUDED.sandbox_credentials,
			production_credentials = EXCLUDED.production_credentials,
			is_sandbox = EXCLUDED.is_sandbox,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		config.ID,
		config.OrgID,
		config.Provider,
		config.SandboxCredentials,
		config.ProductionCredentials,
		config.IsSandbox,
		config.IsActive,
		config.CreatedAt,
		config.UpdatedAt,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, isActive bool, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE gateway_configs
		 SET is_active = ?, updated_at = ?
		 WHERE org_id = ? AND provider = ?`,
		isActive,
		updatedAt,
		orgID,
		provider,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateVerified(ctx context.Context, db *gorm.DB, orgID snowflake.ID, provider string, verifiedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE gateway_configs
		 SET last_verified_at = ?, updated_at = ?
		 WHERE org_id = ? AND provider = ?`,
		verifiedAt,
		verifiedAt,
		orgID,
		provider,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
