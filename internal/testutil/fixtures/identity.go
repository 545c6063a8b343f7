// Package fixtures provides shared identities and a fake identity
// provider for tests that exercise the full token path.
package fixtures

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// Standard identity values.
const (
	Issuer   = "https://idp.test/realms/directory"
	Audience = "directory-api"
	Subject  = "user-42"
	KeyID    = "test-key-1"
	DevUser  = "dev-alice"
)

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
)

func signingKey() *rsa.PrivateKey {
	keyOnce.Do(func() {
		var err error
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return key
}

// IdentityProvider serves a one-key JWKS and mints RS256 tokens that
// verify against it.
type IdentityProvider struct {
	srv *httptest.Server
	key *rsa.PrivateKey
}

// NewIdentityProvider starts the JWKS server; it closes with the test.
func NewIdentityProvider(t testing.TB) *IdentityProvider {
	t.Helper()
	p := &IdentityProvider{key: signingKey()}
	doc, err := json.Marshal(map[string]any{"keys": []any{map[string]any{
		"kty": "RSA",
		"kid": KeyID,
		"use": "sig",
		"alg": "RS256",
		"n":   base64.RawURLEncoding.EncodeToString(p.key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(p.key.E)).Bytes()),
	}}})
	require.NoError(t, err)

	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

// JWKSURL is the key set endpoint.
func (p *IdentityProvider) JWKSURL() string { return p.srv.URL }

// Token mints a token for [Subject] with the given realm roles, valid
// for five minutes around now.
func (p *IdentityProvider) Token(t testing.TB, now time.Time, roles ...string) string {
	t.Helper()
	rs := make([]any, len(roles))
	for i, r := range roles {
		rs[i] = r
	}
	return p.Sign(t, jwt.MapClaims{
		"sub":          Subject,
		"iss":          Issuer,
		"aud":          Audience,
		"iat":          now.Unix(),
		"exp":          now.Add(5 * time.Minute).Unix(),
		"realm_access": map[string]any{"roles": rs},
	})
}

// Sign signs arbitrary claims with the provider key under [KeyID].
func (p *IdentityProvider) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = KeyID
	s, err := tok.SignedString(p.key)
	require.NoError(t, err)
	return s
}
