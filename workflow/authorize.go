package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/remit_backend/models"
	"bitbucket.org/mmdatafocus/remit_backend/utils"
	"gorm.io/gorm"
)

// Actor is the authenticated caller of a workflow entry point. UserId 0 with
// System true marks machine-triggered transitions (reconciliation poll).
type Actor struct {
	UserId   int
	UserName string
	Role     models.UserRole
	System   bool
}

func SystemActor() Actor {
	return Actor{UserName: "system", Role: models.UserRoleAdmin, System: true}
}

func (a Actor) auditUserId() *int {
	if a.System {
		return nil
	}
	id := a.UserId
	return &id
}

// Authorize re-validates membership of the claimed business id against the
// database on every mutating call. Client-cached claims (stale tabs, old
// sessions) are never trusted. Returns the caller's role or AccessDenied.
func Authorize(ctx context.Context, db *gorm.DB, businessId string, actor Actor, mustMutate bool) (models.UserRole, error) {
	if businessId == "" {
		return "", NewWorkflowError(ErrKindAccessDenied, "business id is required")
	}
	if actor.System {
		return models.UserRoleAdmin, nil
	}

	var user models.User
	err := db.WithContext(ctx).
		Where("id = ? AND business_id = ?", actor.UserId, businessId).
		Take(&user).Error
	if err != nil {
		return "", NewWorkflowError(ErrKindAccessDenied, "user is not a member of this business")
	}
	if user.IsActive == nil || !*user.IsActive {
		return "", NewWorkflowError(ErrKindAccessDenied, "user is disabled")
	}
	if mustMutate && !user.Role.CanMutate() {
		return "", NewWorkflowError(ErrKindAccessDenied, "role does not permit this operation")
	}
	return user.Role, nil
}

// ActorFromContext rebuilds the acting user from the auth middleware's
// context values.
func ActorFromContext(ctx context.Context) Actor {
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUsernameFromContext(ctx)
	roleStr, _ := utils.GetUserRoleFromContext(ctx)
	return Actor{
		UserId:   userId,
		UserName: userName,
		Role:     models.UserRole(roleStr),
	}
}
