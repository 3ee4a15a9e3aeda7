package permissions

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRoleEvaluator_RoleTable(t *testing.T) {
	e := NewDefaultEvaluator(zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name       string
		roles      []string
		permission string
		want       bool
	}{
		{"requester can submit", []string{"requester"}, PermSubmit, true},
		{"requester cannot approve", []string{"requester"}, PermApprove, false},
		{"worker can complete", []string{"worker"}, PermComplete, true},
		{"worker cannot close", []string{"worker"}, PermClose, false},
		{"approver can approve", []string{"approver"}, PermApprove, true},
		{"approver can assign", []string{"approver"}, PermAssign, true},
		{"supervisor can settle", []string{"supervisor"}, PermSettle, true},
		{"supervisor cannot reopen", []string{"supervisor"}, PermReopen, false},
		{"admin can reopen", []string{"admin"}, PermReopen, true},
		{"unknown role has nothing", []string{"contractor"}, PermSubmit, false},
		{"no roles", nil, PermSubmit, false},
		{"any matching role suffices", []string{"contractor", "approver"}, PermReject, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor := models.Actor{ID: uuid.New(), Roles: tt.roles}
			got, err := e.HasPermission(ctx, actor, tt.permission, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleEvaluator_ExplicitGrantsCheckedFirst(t *testing.T) {
	e := NewDefaultEvaluator(zap.NewNop())
	actor := models.Actor{
		ID:          uuid.New(),
		Roles:       []string{"requester"},
		Permissions: []string{PermApprove},
	}

	got, err := e.HasPermission(context.Background(), actor, PermApprove, nil)
	require.NoError(t, err)
	assert.True(t, got, "explicit grant wins even when no role carries the permission")
}

func TestRoleEvaluator_OnlyAdminReopens(t *testing.T) {
	e := NewDefaultEvaluator(zap.NewNop())
	ctx := context.Background()

	for role := range DefaultGrants() {
		actor := models.Actor{ID: uuid.New(), Roles: []string{role}}
		got, err := e.HasPermission(ctx, actor, PermReopen, nil)
		require.NoError(t, err)
		assert.Equal(t, role == "admin", got, "role %s", role)
	}
}

func TestRoleEvaluator_CustomGrants(t *testing.T) {
	e := NewRoleEvaluator(map[string][]string{
		"auditor": {PermDispute},
	}, zap.NewNop())
	actor := models.Actor{ID: uuid.New(), Roles: []string{"auditor"}}
	ctx := context.Background()

	got, err := e.HasPermission(ctx, actor, PermDispute, nil)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.HasPermission(ctx, actor, PermSettle, nil)
	require.NoError(t, err)
	assert.False(t, got)
}
