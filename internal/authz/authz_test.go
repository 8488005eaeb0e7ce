package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventAdmission/internal/model"
)

type roleMap map[int64]model.Role

func (m roleMap) RoleOf(_ context.Context, userID, _ int64) (model.Role, error) {
	return m[userID], nil
}

type failingRoles struct{}

func (failingRoles) RoleOf(context.Context, int64, int64) (model.Role, error) {
	return model.RoleNone, errors.New("directory down")
}

const (
	creator   = 1
	member    = 2
	moderator = 3
	admin     = 4
	outsider  = 5
)

func TestChecker(t *testing.T) {
	c := NewChecker(roleMap{
		creator:   model.RoleMember,
		member:    model.RoleMember,
		moderator: model.RoleModerator,
		admin:     model.RoleAdmin,
	})
	ev := &model.Event{ID: 9, CommunityID: 1, CreatorID: creator}
	ctx := context.Background()

	tests := []struct {
		name  string
		check func(actor int64) error
		allow []int64
		deny  []int64
	}{
		{
			name:  "create",
			check: func(a int64) error { return c.CanCreateEvent(ctx, a, 1) },
			allow: []int64{moderator, admin},
			deny:  []int64{creator, member, outsider},
		},
		{
			name:  "manage",
			check: func(a int64) error { return c.CanManageEvent(ctx, a, ev) },
			allow: []int64{creator, moderator, admin},
			deny:  []int64{member, outsider},
		},
		{
			name:  "delete",
			check: func(a int64) error { return c.CanDeleteEvent(ctx, a, ev) },
			allow: []int64{creator, admin},
			deny:  []int64{member, moderator, outsider},
		},
		{
			name:  "register",
			check: func(a int64) error { return c.CanRegister(ctx, a, ev) },
			allow: []int64{creator, member, moderator, admin},
			deny:  []int64{outsider},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, a := range tt.allow {
				assert.NoError(t, tt.check(a), "actor %d", a)
			}
			for _, a := range tt.deny {
				err := tt.check(a)
				require.Error(t, err, "actor %d", a)
				assert.Equal(t, model.KindForbidden, model.KindOf(err))
			}
		})
	}
}

func TestCheckerRoleLookupFailure(t *testing.T) {
	c := NewChecker(failingRoles{})
	err := c.CanRegister(context.Background(), member, &model.Event{CommunityID: 1})
	require.Error(t, err)
	assert.Equal(t, model.KindInternal, model.KindOf(err))
}
