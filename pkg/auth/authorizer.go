package auth

import sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"

// Directory roles as issued by the identity provider.
const (
	RoleAdmin          = "admin"
	RoleDirectoryRead  = "directory.read"
	RoleDirectoryWrite = "directory.write"
	RoleDirectoryPII   = "directory.pii.read"
	RoleDirectoryMerge = "directory.merge"
	DefaultDevRole     = RoleDirectoryRead
)

// RoleSet is an ordered any-of requirement. Order matters only for which
// role [Authorize] reports as matched.
type RoleSet []string

// Role sets guarding the directory endpoints. admin satisfies every set.
var (
	RolesRead  = RoleSet{RoleDirectoryRead, RoleAdmin}
	RolesWrite = RoleSet{RoleDirectoryWrite, RoleAdmin}
	RolesPII   = RoleSet{RoleDirectoryPII, RoleAdmin}
	RolesMerge = RoleSet{RoleDirectoryMerge, RoleAdmin}
	RolesAdmin = RoleSet{RoleAdmin}
)

// AuthDecision is the outcome of [Authorize].
type AuthDecision struct {
	Granted bool

	// MatchedRole is the first required role the claims hold. Empty when
	// the decision is a denial.
	MatchedRole string
}

// Authorize grants access when claims hold at least one role in required.
// Nil claims and an empty requirement are denied. It is pure and performs
// no I/O.
func Authorize(claims *VerifiedClaims, required RoleSet) AuthDecision {
	if claims == nil {
		return AuthDecision{}
	}
	for _, role := range required {
		if claims.HasRole(role) {
			return AuthDecision{Granted: true, MatchedRole: role}
		}
	}
	return AuthDecision{}
}

// CheckRoles is [Authorize] reported as an error: nil when granted,
// otherwise [sserr.CodeAuthorizationDenied] carrying the subject and the
// required roles.
func CheckRoles(claims *VerifiedClaims, required RoleSet) error {
	if Authorize(claims, required).Granted {
		return nil
	}
	err := sserr.New(sserr.CodeAuthorizationDenied, "auth: caller holds none of the required roles").
		WithDetail("required", []string(required))
	if claims != nil {
		err = err.WithDetail("sub", claims.Subject())
	}
	return err
}
