// Package auth is the bearer-token half of the directory service's trust
// boundary. It verifies RS256/RS384/RS512 JWTs issued by Keycloak against a
// rotating JWKS ([KeySetCache], [TokenVerifier]), turns them into immutable
// [VerifiedClaims], and makes any-of role decisions ([Authorize]).
//
// HTTP middleware and gRPC interceptors wire these into request handling.
// Every rejection is a *errors.Error with an AUTH_xxx or AUTHZ_xxx code;
// the wire response never carries the reason.
package auth

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// DevIssuer is the issuer reported by claims built for the development
// bypass.
const DevIssuer = "dev-bypass"

// VerifiedClaims is the result of a successful verification. It cannot be
// modified after construction; slice and map accessors return copies.
type VerifiedClaims struct {
	subject         string
	issuer          string
	audience        []string
	authorizedParty string
	hasAZP          bool
	expiresAt       time.Time
	issuedAt        time.Time
	roles           []string
	roleSet         map[string]struct{}
	raw             map[string]any
	dev             bool
}

type claimsInit struct {
	subject         string
	issuer          string
	audience        []string
	authorizedParty string
	hasAZP          bool
	expiresAt       time.Time
	issuedAt        time.Time
	roles           []string
	raw             map[string]any
	dev             bool
}

func newVerifiedClaims(in claimsInit) *VerifiedClaims {
	roles := dedupe(in.roles)
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}
	return &VerifiedClaims{
		subject:         in.subject,
		issuer:          in.issuer,
		audience:        dedupe(in.audience),
		authorizedParty: in.authorizedParty,
		hasAZP:          in.hasAZP,
		expiresAt:       in.expiresAt,
		issuedAt:        in.issuedAt,
		roles:           roles,
		roleSet:         roleSet,
		raw:             copyMap(in.raw),
		dev:             in.dev,
	}
}

// NewDevClaims builds claims for the development bypass. They expire one
// hour after now and report [DevIssuer] as issuer.
func NewDevClaims(user string, roles []string, now time.Time) *VerifiedClaims {
	rawRoles := make([]any, 0, len(roles))
	for _, r := range roles {
		rawRoles = append(rawRoles, r)
	}
	return newVerifiedClaims(claimsInit{
		subject:   user,
		issuer:    DevIssuer,
		expiresAt: now.Add(time.Hour),
		issuedAt:  now,
		roles:     roles,
		raw: map[string]any{
			"sub":          user,
			"iss":          DevIssuer,
			"realm_access": map[string]any{"roles": rawRoles},
			"scope":        strings.Join(roles, " "),
		},
		dev: true,
	})
}

func (c *VerifiedClaims) Subject() string { return c.subject }
func (c *VerifiedClaims) Issuer() string  { return c.issuer }

// Audience returns the deduplicated aud values.
func (c *VerifiedClaims) Audience() []string { return slices.Clone(c.audience) }

// AuthorizedParty returns azp and whether the token carried it.
func (c *VerifiedClaims) AuthorizedParty() (string, bool) {
	return c.authorizedParty, c.hasAZP
}

func (c *VerifiedClaims) ExpiresAt() time.Time { return c.expiresAt }

// IssuedAt returns iat and whether the token carried it.
func (c *VerifiedClaims) IssuedAt() (time.Time, bool) {
	return c.issuedAt, !c.issuedAt.IsZero()
}

// Roles returns the deduplicated roles in first-seen order.
func (c *VerifiedClaims) Roles() []string { return slices.Clone(c.roles) }

// HasRole reports whether role was granted.
func (c *VerifiedClaims) HasRole(role string) bool {
	_, ok := c.roleSet[role]
	return ok
}

// IsDevelopment reports whether the claims came from the development
// bypass rather than a verified token.
func (c *VerifiedClaims) IsDevelopment() bool { return c.dev }

// Raw returns a deep copy of the full claim set.
func (c *VerifiedClaims) Raw() map[string]any { return copyMap(c.raw) }

// Claim returns a copy of a single top-level claim.
func (c *VerifiedClaims) Claim(name string) (any, bool) {
	v, ok := c.raw[name]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// MarshalJSON renders the summary returned by /v1/me. The raw claim set is
// not included.
func (c *VerifiedClaims) MarshalJSON() ([]byte, error) {
	type summary struct {
		Subject         string   `json:"sub"`
		Issuer          string   `json:"iss"`
		Audience        []string `json:"aud,omitempty"`
		AuthorizedParty string   `json:"azp,omitempty"`
		ExpiresAt       int64    `json:"exp"`
		Roles           []string `json:"roles"`
		Development     bool     `json:"dev,omitempty"`
	}
	roles := c.roles
	if roles == nil {
		roles = []string{}
	}
	return json.Marshal(summary{
		Subject:         c.subject,
		Issuer:          c.issuer,
		Audience:        c.audience,
		AuthorizedParty: c.authorizedParty,
		ExpiresAt:       c.expiresAt.Unix(),
		Roles:           roles,
		Development:     c.dev,
	})
}

// ---------------------------------------------------------------------------
// Claim helpers
// ---------------------------------------------------------------------------

// lookupPath resolves a dotted path such as "realm_access.roles".
func lookupPath(claims map[string]any, path string) (any, bool) {
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// extractRoles collects roles from every path. A path may hold a JSON
// array of strings or a single space-delimited string.
func extractRoles(claims map[string]any, paths []string) []string {
	var roles []string
	for _, p := range paths {
		v, ok := lookupPath(claims, p)
		if !ok {
			continue
		}
		roles = append(roles, stringList(v, true)...)
	}
	return roles
}

// stringList normalises a string or array claim. When split is true a
// string value is split on whitespace (scope-style claims).
func stringList(v any, split bool) []string {
	switch t := v.(type) {
	case string:
		if split {
			return strings.Fields(t)
		}
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return nil
	}
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
