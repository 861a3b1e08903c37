package authorization

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer()
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeRoles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		role, object, action string
		allowed              bool
	}{
		{RoleMember, ObjectCharge, ActionCreate, true},
		{RoleMember, ObjectCheckout, ActionCreate, true},
		{RoleMember, ObjectRefund, ActionCreate, false},
		{RoleMember, ObjectFreeze, ActionDelete, false},
		{RoleStaff, ObjectCharge, ActionCreate, true},
		{RoleStaff, ObjectRefund, ActionCreate, true},
		{RoleStaff, ObjectFreeze, ActionUpdate, true},
		{RoleStaff, ObjectSweep, ActionRun, false},
		{RoleStaff, ObjectAudit, ActionRead, true},
		{RoleMember, ObjectAudit, ActionRead, false},
		{RoleScheduler, ObjectSweep, ActionRun, true},
		{RoleScheduler, ObjectCharge, ActionCreate, false},
		{"STAFF", ObjectRefund, ActionCreate, true},
	}
	for _, tc := range cases {
		err := svc.Authorize(ctx, tc.role, tc.object, tc.action)
		if tc.allowed {
			require.NoError(t, err, "%s %s %s", tc.role, tc.object, tc.action)
		} else {
			require.ErrorIs(t, err, ErrForbidden, "%s %s %s", tc.role, tc.object, tc.action)
		}
	}
}

func TestAuthorizeRejectsBlankInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Authorize(ctx, " ", ObjectCharge, ActionCreate), ErrInvalidActor)
	require.ErrorIs(t, svc.Authorize(ctx, RoleStaff, "", ActionCreate), ErrInvalidObject)
	require.ErrorIs(t, svc.Authorize(ctx, RoleStaff, ObjectCharge, ""), ErrInvalidAction)
}
