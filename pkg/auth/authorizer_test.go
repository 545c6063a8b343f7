package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

func TestAuthorize(t *testing.T) {
	t.Parallel()

	reader := NewDevClaims("alice", []string{RoleDirectoryRead}, testNow)
	admin := NewDevClaims("root", []string{RoleAdmin}, testNow)
	both := NewDevClaims("bob", []string{RoleAdmin, RoleDirectoryPII}, testNow)

	tests := []struct {
		name     string
		claims   *VerifiedClaims
		required RoleSet
		want     AuthDecision
	}{
		{"reader reads", reader, RolesRead, AuthDecision{Granted: true, MatchedRole: RoleDirectoryRead}},
		{"reader cannot write", reader, RolesWrite, AuthDecision{}},
		{"reader cannot see pii", reader, RolesPII, AuthDecision{}},
		{"admin writes", admin, RolesWrite, AuthDecision{Granted: true, MatchedRole: RoleAdmin}},
		{"admin merges", admin, RolesMerge, AuthDecision{Granted: true, MatchedRole: RoleAdmin}},
		{"first required role wins", both, RolesPII, AuthDecision{Granted: true, MatchedRole: RoleDirectoryPII}},
		{"order of requirement decides", both, RoleSet{RoleAdmin, RoleDirectoryPII}, AuthDecision{Granted: true, MatchedRole: RoleAdmin}},
		{"empty requirement denies", admin, RoleSet{}, AuthDecision{}},
		{"nil requirement denies", admin, nil, AuthDecision{}},
		{"nil claims deny", nil, RolesRead, AuthDecision{}},
		{"admin-only set", reader, RolesAdmin, AuthDecision{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Authorize(tt.claims, tt.required))
		})
	}
}

func TestAuthorize_NoRolesDenied(t *testing.T) {
	t.Parallel()
	claims := newVerifiedClaims(claimsInit{subject: "svc"})
	assert.False(t, Authorize(claims, RolesRead).Granted)
}

func TestRoleSets_AdminSatisfiesAll(t *testing.T) {
	t.Parallel()
	for _, set := range []RoleSet{RolesRead, RolesWrite, RolesPII, RolesMerge, RolesAdmin} {
		assert.Contains(t, set, RoleAdmin)
	}
}

func TestCheckRoles(t *testing.T) {
	t.Parallel()
	reader := NewDevClaims("alice", []string{RoleDirectoryRead}, testNow)

	assert.NoError(t, CheckRoles(reader, RolesRead))

	err := CheckRoles(reader, RolesWrite)
	require.Error(t, err)
	assert.True(t, sserr.IsAuthorization(err))
	e, ok := sserr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, sserr.CodeAuthorizationDenied, e.Code)
	assert.Equal(t, "alice", e.Details["sub"])
	assert.Equal(t, []string{RoleDirectoryWrite, RoleAdmin}, e.Details["required"])

	err = CheckRoles(nil, RolesRead)
	assert.Equal(t, sserr.CodeAuthorizationDenied, sserr.GetCode(err))
}
