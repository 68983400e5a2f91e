package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectCharge        = "charge"
	ObjectGatewayConfig = "gateway_config"
)

const (
	ActionChargeReset         = "charge.reset"
	ActionChargeCancel        = "charge.cancel"
	ActionGatewayConfigManage = "gateway_config.manage"
)

const systemActor = "system"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// Authorize resolves the actor's role in the organization and enforces the policy.
// Actors are "system" or "user:<snowflake id>".
func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID snowflake.ID, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	if orgID == 0 {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, orgID)
	if err != nil {
		s.logDenied(actor, orgID, object, action, err)
		return err
	}

	domain := fmt.Sprintf("org:%s", orgID.String())
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(actor, orgID, object, action, ErrForbidden)
		return ErrForbidden
	}

	s.log.Info("privileged action granted",
		zap.String("actor", subject),
		zap.String("org_id", orgID.String()),
		zap.String("action", action),
	)
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string, orgID snowflake.ID) (string, string, error) {
	if actor == systemActor {
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "user:") {
		userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
		if err != nil || userID == 0 {
			return "", "", ErrInvalidActor
		}
		role, err := s.roleForUser(ctx, orgID, userID)
		if err != nil {
			return "", "", err
		}
		return fmt.Sprintf("user:%s", userID.String()), fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) roleForUser(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM organization_members
		 WHERE org_id = ? AND user_id = ?
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

// ensureGrouping keeps exactly one role link for the subject in the domain.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) logDenied(actor string, orgID snowflake.ID, object string, action string, reason error) {
	s.log.Warn("privileged action denied",
		zap.String("actor", actor),
		zap.String("org_id", orgID.String()),
		zap.String("object", object),
		zap.String("action", action),
		zap.Error(reason),
	)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Admin permissions
		{"role:admin", ObjectCharge, ActionChargeCancel},
		{"role:admin", ObjectCharge, ActionChargeReset},
		{"role:admin", ObjectGatewayConfig, ActionGatewayConfigManage},

		// Owner permissions
		{"role:owner", ObjectCharge, ActionChargeCancel},
		{"role:owner", ObjectCharge, ActionChargeReset},
		{"role:owner", ObjectGatewayConfig, ActionGatewayConfigManage},

		// FinOps may retire charges but not reopen settled ones.
		{"role:finops", ObjectCharge, ActionChargeCancel},

		// System permissions (automated processes)
		{"role:system", ObjectCharge, ActionChargeCancel},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
