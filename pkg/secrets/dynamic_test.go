package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-trust/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// serveDatabaseCreds issues a new login per call for the roles "trust" and
// "empty"; the latter answers without a password.
func (v *fakeVault) serveDatabaseCreds(w http.ResponseWriter, role string) {
	n := v.hitCount("database/creds/" + role)
	switch role {
	case "trust":
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"lease_id":       fmt.Sprintf("database/creds/trust/lease-%d", n),
			"lease_duration": 3600,
			"renewable":      true,
			"data": map[string]any{
				"username": fmt.Sprintf("v-trust-%d", n),
				"password": fmt.Sprintf("pw-%d", n),
			},
		})
	case "empty":
		writeData(w, map[string]any{"username": "v-empty"})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// serveIssue answers role "grpc" with a self-signed certificate for the
// requested common name.
func (v *fakeVault) serveIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/pki/issue/grpc" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	v.mu.Lock()
	v.issued = append(v.issued, req)
	v.mu.Unlock()

	ttl := time.Hour
	if req["ttl"] != "" {
		var err error
		if ttl, err = time.ParseDuration(req["ttl"]); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	certPEM, keyPEM, cert, err := fixtures.SelfSignedCert(req["common_name"], ttl)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeData(w, map[string]any{
		"certificate":      certPEM,
		"issuing_ca":       certPEM,
		"ca_chain":         []string{certPEM},
		"private_key":      keyPEM,
		"private_key_type": "ec",
		"serial_number":    cert.SerialNumber.Text(16),
		"expiration":       cert.NotAfter.Unix(),
	})
}

func TestDatabaseCredentials(t *testing.T) {
	t.Parallel()
	vault := newFakeVault(t)
	s := newTestStore(t, vault.srv.URL, nil)
	ctx := context.Background()

	creds, err := s.DatabaseCredentials(ctx, "trust")
	require.NoError(t, err)
	assert.Equal(t, "v-trust-1", creds.Username)
	assert.Equal(t, "pw-1", creds.Password.Value())
	assert.Equal(t, "database/creds/trust/lease-1", creds.LeaseID)
	assert.Equal(t, time.Hour, creds.LeaseDuration)
	assert.True(t, creds.Renewable)
	assert.NotContains(t, fmt.Sprintf("%v", creds), "pw-1")

	// Every call is a new lease.
	again, err := s.DatabaseCredentials(ctx, "trust")
	require.NoError(t, err)
	assert.Equal(t, "v-trust-2", again.Username)
	assert.Equal(t, 2, vault.hitCount("database/creds/trust"))
	assert.Zero(t, s.CacheStats().Total)
}

func TestDatabaseCredentials_Errors(t *testing.T) {
	t.Parallel()
	vault := newFakeVault(t)
	s := newTestStore(t, vault.srv.URL, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		role  string
		setup func()
		code  sserr.Code
	}{
		{name: "empty role", role: "", code: sserr.CodeValidationRequired},
		{name: "role with slash", role: "trust/../root", code: sserr.CodeValidationFormat},
		{name: "unknown role", role: "nobody", code: sserr.CodeSecretNotFound},
		{name: "missing password", role: "empty", code: sserr.CodeSecretParse},
		{name: "denied", role: "trust", setup: func() { vault.failWith(http.StatusForbidden) }, code: sserr.CodeSecretPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			creds, err := s.DatabaseCredentials(ctx, tt.role)
			requireCode(t, err, tt.code)
			assert.Nil(t, creds)
		})
	}

	unconfigured, err := New(Config{}, WithLogger(discardLogger()))
	require.NoError(t, err)
	_, err = unconfigured.DatabaseCredentials(ctx, "trust")
	requireCode(t, err, sserr.CodeSecretNotConfigured)
}

func TestIssueCertificate(t *testing.T) {
	t.Parallel()
	vault := newFakeVault(t)
	s := newTestStore(t, vault.srv.URL, nil)
	ctx := context.Background()

	cert, err := s.IssueCertificate(ctx, "grpc", "trustd.svc.cluster.local", 90*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, cert.Certificate, "BEGIN CERTIFICATE")
	assert.Equal(t, "ec", cert.PrivateKeyType)
	assert.NotEmpty(t, cert.SerialNumber)
	assert.WithinDuration(t, time.Now().Add(90*time.Minute), cert.Expiration, time.Minute)
	assert.NotContains(t, fmt.Sprintf("%v", cert), "PRIVATE KEY")

	vault.mu.Lock()
	require.Len(t, vault.issued, 1)
	assert.Equal(t, map[string]string{
		"common_name": "trustd.svc.cluster.local",
		"format":      "pem",
		"ttl":         "5400s",
	}, vault.issued[0])
	vault.mu.Unlock()

	pair, err := cert.TLSCertificate()
	require.NoError(t, err)
	require.NotNil(t, pair.Leaf)
	assert.Equal(t, "trustd.svc.cluster.local", pair.Leaf.Subject.CommonName)
	assert.Len(t, pair.Certificate, 2, "leaf followed by the chain")
	assert.Zero(t, s.CacheStats().Total)
}

func TestIssueCertificate_RoleDefaultTTL(t *testing.T) {
	t.Parallel()
	vault := newFakeVault(t)
	s := newTestStore(t, vault.srv.URL, nil)

	_, err := s.IssueCertificate(context.Background(), "grpc", "trustd", 0)
	require.NoError(t, err)

	vault.mu.Lock()
	defer vault.mu.Unlock()
	require.Len(t, vault.issued, 1)
	assert.NotContains(t, vault.issued[0], "ttl")
}

func TestIssueCertificate_Errors(t *testing.T) {
	t.Parallel()
	vault := newFakeVault(t)
	s := newTestStore(t, vault.srv.URL, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		role string
		cn   string
		ttl  time.Duration
		code sserr.Code
	}{
		{name: "empty role", role: "", cn: "trustd", code: sserr.CodeValidationRequired},
		{name: "bad role", role: "..", cn: "trustd", code: sserr.CodeValidationFormat},
		{name: "empty common name", role: "grpc", cn: "  ", code: sserr.CodeValidationRequired},
		{name: "negative ttl", role: "grpc", cn: "trustd", ttl: -time.Second, code: sserr.CodeValidation},
		{name: "unknown role", role: "web", cn: "trustd", code: sserr.CodeSecretNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert, err := s.IssueCertificate(ctx, tt.role, tt.cn, tt.ttl)
			requireCode(t, err, tt.code)
			assert.Nil(t, cert)
		})
	}

	vault.respondRaw("pki/issue/grpc", `{"data":{"certificate":"","private_key":""}}`)
	_, err := s.IssueCertificate(ctx, "grpc", "trustd", 0)
	requireCode(t, err, sserr.CodeSecretParse)
}

func TestCertificate_TLSCertificateMismatch(t *testing.T) {
	t.Parallel()
	certPEM, _, _, err := fixtures.SelfSignedCert("a", time.Hour)
	require.NoError(t, err)
	_, otherKey, _, err := fixtures.SelfSignedCert("b", time.Hour)
	require.NoError(t, err)

	c := &Certificate{Certificate: certPEM, PrivateKey: Secret(otherKey)}
	_, err = c.TLSCertificate()
	requireCode(t, err, sserr.CodeSecretParse)
}
