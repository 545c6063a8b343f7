package fixtures

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// SecretStoreToken is the only token [SecretStore] accepts.
const SecretStoreToken = "s.fixture-token"

// Roles served by [SecretStore].
const (
	DatabaseRole = "trust"
	PKIRole      = "grpc"
)

// SecretStore is a minimal secret store serving kv reads, leased database
// logins for [DatabaseRole] and certificates for [PKIRole].
type SecretStore struct {
	srv *httptest.Server

	mu     sync.Mutex
	kv     map[string]map[string]any
	leases int
	issued int
}

// NewSecretStore starts the server; it closes with the test.
func NewSecretStore(t testing.TB) *SecretStore {
	t.Helper()
	s := &SecretStore{kv: map[string]map[string]any{}}
	s.srv = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the store address without the /v1 suffix.
func (s *SecretStore) URL() string { return s.srv.URL }

// Put stores data under the kv path.
func (s *SecretStore) Put(path string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[path] = data
}

// Leases counts database logins handed out.
func (s *SecretStore) Leases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leases
}

// Issued counts certificates handed out.
func (s *SecretStore) Issued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}

func (s *SecretStore) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/v1/sys/health" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Header.Get("X-Vault-Token") != SecretStoreToken {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch {
	case strings.HasPrefix(path, "kv/data/") && r.Method == http.MethodGet:
		s.mu.Lock()
		data, ok := s.kv[strings.TrimPrefix(path, "kv/data/")]
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"data": map[string]any{"data": data}})

	case path == "database/creds/"+DatabaseRole:
		s.mu.Lock()
		s.leases++
		n := s.leases
		s.mu.Unlock()
		writeJSON(w, map[string]any{
			"lease_id":       "database/creds/" + DatabaseRole + "/lease",
			"lease_duration": 3600,
			"renewable":      true,
			"data": map[string]any{
				"username": "v-" + DatabaseRole + "-" + strconv.Itoa(n),
				"password": "leased-password",
			},
		})

	case path == "pki/issue/"+PKIRole && r.Method == http.MethodPost:
		var req struct {
			CommonName string `json:"common_name"`
			TTL        string `json:"ttl"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CommonName == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ttl := time.Hour
		if req.TTL != "" {
			d, err := time.ParseDuration(req.TTL)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			ttl = d
		}
		certPEM, keyPEM, cert, err := SelfSignedCert(req.CommonName, ttl)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.mu.Lock()
		s.issued++
		s.mu.Unlock()
		writeJSON(w, map[string]any{"data": map[string]any{
			"certificate":      certPEM,
			"issuing_ca":       certPEM,
			"private_key":      keyPEM,
			"private_key_type": "ec",
			"serial_number":    cert.SerialNumber.Text(16),
			"expiration":       cert.NotAfter.Unix(),
		}})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}
