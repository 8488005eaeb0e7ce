// Package authz decides which community roles may act on an event.
package authz

import (
	"context"
	"fmt"

	"eventAdmission/internal/model"
)

// RoleSource resolves a user's role in a community. model.RoleNone means the
// user is not a member.
type RoleSource interface {
	RoleOf(ctx context.Context, userID, communityID int64) (model.Role, error)
}

type Checker struct {
	roles RoleSource
}

func NewChecker(roles RoleSource) *Checker {
	return &Checker{roles: roles}
}

func (c *Checker) RoleOf(ctx context.Context, userID, communityID int64) (model.Role, error) {
	role, err := c.roles.RoleOf(ctx, userID, communityID)
	if err != nil {
		return model.RoleNone, fmt.Errorf("failed to resolve role: %w", err)
	}
	return role, nil
}

// CanCreateEvent allows moderators and admins of the community.
func (c *Checker) CanCreateEvent(ctx context.Context, actorID, communityID int64) error {
	role, err := c.RoleOf(ctx, actorID, communityID)
	if err != nil {
		return err
	}
	if role != model.RoleModerator && role != model.RoleAdmin {
		return model.Errorf(model.KindForbidden, "only moderators and admins can create events")
	}
	return nil
}

// CanManageEvent covers updates, status changes and attendance: the creator,
// moderators and admins.
func (c *Checker) CanManageEvent(ctx context.Context, actorID int64, ev *model.Event) error {
	if ev.CreatorID == actorID {
		return nil
	}
	role, err := c.RoleOf(ctx, actorID, ev.CommunityID)
	if err != nil {
		return err
	}
	if role != model.RoleModerator && role != model.RoleAdmin {
		return model.Errorf(model.KindForbidden, "user %d cannot manage event %d", actorID, ev.ID)
	}
	return nil
}

// CanDeleteEvent allows the creator and community admins.
func (c *Checker) CanDeleteEvent(ctx context.Context, actorID int64, ev *model.Event) error {
	if ev.CreatorID == actorID {
		return nil
	}
	role, err := c.RoleOf(ctx, actorID, ev.CommunityID)
	if err != nil {
		return err
	}
	if role != model.RoleAdmin {
		return model.Errorf(model.KindForbidden, "user %d cannot delete event %d", actorID, ev.ID)
	}
	return nil
}

// CanRegister allows any member of the event's community.
func (c *Checker) CanRegister(ctx context.Context, userID int64, ev *model.Event) error {
	role, err := c.RoleOf(ctx, userID, ev.CommunityID)
	if err != nil {
		return err
	}
	if role == model.RoleNone {
		return model.Errorf(model.KindForbidden, "user %d is not a member of community %d", userID, ev.CommunityID)
	}
	return nil
}
