package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service decides whether an actor may perform a privileged action inside an organization.
type Service interface {
	Authorize(ctx context.Context, actor string, orgID snowflake.ID, object string, action string) error
}

var (
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrForbidden           = errors.New("forbidden")
)
