package secrets

import (
	"context"
	"crypto/tls"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// DatabaseCredentials is a generated database login leased from the
// database secrets engine.
type DatabaseCredentials struct {
	Username      string
	Password      Secret
	LeaseID       string
	LeaseDuration time.Duration
	Renewable     bool
}

// DatabaseCredentials requests a fresh login for role from
// database/creds/{role}. Every call creates a new lease; nothing is cached.
func (s *Store) DatabaseCredentials(ctx context.Context, role string) (*DatabaseCredentials, error) {
	ctx, span := s.tracer.Start(ctx, "secrets.DatabaseCredentials")
	defer span.End()

	if err := validateName("database role", role); err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("secret.database_role", role))

	var resp struct {
		LeaseID       string `json:"lease_id"`
		LeaseDuration int64  `json:"lease_duration"`
		Renewable     bool   `json:"renewable"`
		Data          struct {
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"data"`
	}
	if err := s.do(ctx, http.MethodGet, "database/creds/"+role, nil, &resp); err != nil {
		recordError(span, err)
		return nil, err
	}
	if resp.Data.Username == "" || resp.Data.Password == "" {
		err := sserr.Newf(sserr.CodeSecretParse, "secrets: database role %s returned no credentials", role)
		recordError(span, err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "secrets: database credentials issued",
		"role", role, "username", resp.Data.Username, "lease_duration", resp.LeaseDuration)
	return &DatabaseCredentials{
		Username:      resp.Data.Username,
		Password:      Secret(resp.Data.Password),
		LeaseID:       resp.LeaseID,
		LeaseDuration: time.Duration(resp.LeaseDuration) * time.Second,
		Renewable:     resp.Renewable,
	}, nil
}

// Certificate is a PEM certificate and key issued by the PKI engine.
type Certificate struct {
	Certificate    string
	IssuingCA      string
	CAChain        []string
	PrivateKey     Secret
	PrivateKeyType string
	SerialNumber   string
	Expiration     time.Time
}

// TLSCertificate pairs the certificate, its chain and the private key.
func (c *Certificate) TLSCertificate() (tls.Certificate, error) {
	chain := c.CAChain
	if len(chain) == 0 && c.IssuingCA != "" {
		chain = []string{c.IssuingCA}
	}
	certPEM := strings.Join(append([]string{c.Certificate}, chain...), "\n")
	pair, err := tls.X509KeyPair([]byte(certPEM), []byte(c.PrivateKey.Value()))
	if err != nil {
		return tls.Certificate{}, sserr.Wrap(err, sserr.CodeSecretParse, "secrets: issued certificate does not match its key")
	}
	return pair, nil
}

// IssueCertificate requests a certificate for commonName from
// pki/issue/{role}. A zero ttl leaves the lifetime to the role. The private
// key exists only in the returned value; nothing is cached.
func (s *Store) IssueCertificate(ctx context.Context, role, commonName string, ttl time.Duration) (*Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "secrets.IssueCertificate")
	defer span.End()

	if err := validateName("pki role", role); err != nil {
		recordError(span, err)
		return nil, err
	}
	if strings.TrimSpace(commonName) == "" {
		err := sserr.New(sserr.CodeValidationRequired, "secrets: certificate common name must not be empty")
		recordError(span, err)
		return nil, err
	}
	if ttl < 0 {
		err := sserr.Newf(sserr.CodeValidation, "secrets: certificate ttl must not be negative, got %v", ttl)
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("secret.pki_role", role),
		attribute.String("secret.common_name", commonName),
	)

	body := map[string]string{"common_name": commonName, "format": "pem"}
	if ttl > 0 {
		secs := int64((ttl + time.Second - 1) / time.Second)
		body["ttl"] = strconv.FormatInt(secs, 10) + "s"
	}

	var resp struct {
		Data struct {
			Certificate    string   `json:"certificate"`
			IssuingCA      string   `json:"issuing_ca"`
			CAChain        []string `json:"ca_chain"`
			PrivateKey     string   `json:"private_key"`
			PrivateKeyType string   `json:"private_key_type"`
			SerialNumber   string   `json:"serial_number"`
			Expiration     int64    `json:"expiration"`
		} `json:"data"`
	}
	if err := s.do(ctx, http.MethodPost, "pki/issue/"+role, body, &resp); err != nil {
		recordError(span, err)
		return nil, err
	}
	if resp.Data.Certificate == "" || resp.Data.PrivateKey == "" {
		err := sserr.Newf(sserr.CodeSecretParse, "secrets: pki role %s returned no certificate", role)
		recordError(span, err)
		return nil, err
	}

	cert := &Certificate{
		Certificate:    resp.Data.Certificate,
		IssuingCA:      resp.Data.IssuingCA,
		CAChain:        resp.Data.CAChain,
		PrivateKey:     Secret(resp.Data.PrivateKey),
		PrivateKeyType: resp.Data.PrivateKeyType,
		SerialNumber:   resp.Data.SerialNumber,
	}
	if resp.Data.Expiration > 0 {
		cert.Expiration = time.Unix(resp.Data.Expiration, 0).UTC()
	}
	s.logger.InfoContext(ctx, "secrets: certificate issued",
		"role", role, "common_name", commonName, "serial", cert.SerialNumber, "expires", cert.Expiration)
	return cert, nil
}
