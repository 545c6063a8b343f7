package secrets

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// Encrypt encrypts plaintext with the named transit key and returns the
// store's opaque ciphertext (e.g. "vault:v1:..."). Nothing is cached.
func (s *Store) Encrypt(ctx context.Context, key, plaintext string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "secrets.Encrypt")
	defer span.End()

	if err := validateName("transit key", key); err != nil {
		recordError(span, err)
		return "", err
	}
	span.SetAttributes(attribute.String("secret.transit_key", key))

	var resp struct {
		Data struct {
			Ciphertext string `json:"ciphertext"`
		} `json:"data"`
	}
	body := map[string]string{"plaintext": base64.StdEncoding.EncodeToString([]byte(plaintext))}
	if err := s.do(ctx, http.MethodPost, "transit/encrypt/"+key, body, &resp); err != nil {
		recordError(span, err)
		return "", err
	}
	if resp.Data.Ciphertext == "" {
		err := sserr.Newf(sserr.CodeSecretParse, "secrets: transit encrypt with %s returned no ciphertext", key)
		recordError(span, err)
		return "", err
	}
	return resp.Data.Ciphertext, nil
}

// Decrypt reverses [Store.Encrypt].
func (s *Store) Decrypt(ctx context.Context, key, ciphertext string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "secrets.Decrypt")
	defer span.End()

	if err := validateName("transit key", key); err != nil {
		recordError(span, err)
		return "", err
	}
	if ciphertext == "" {
		err := sserr.New(sserr.CodeValidationRequired, "secrets: ciphertext must not be empty")
		recordError(span, err)
		return "", err
	}
	span.SetAttributes(attribute.String("secret.transit_key", key))

	var resp struct {
		Data struct {
			Plaintext *string `json:"plaintext"`
		} `json:"data"`
	}
	body := map[string]string{"ciphertext": ciphertext}
	if err := s.do(ctx, http.MethodPost, "transit/decrypt/"+key, body, &resp); err != nil {
		recordError(span, err)
		return "", err
	}
	if resp.Data.Plaintext == nil {
		err := sserr.Newf(sserr.CodeSecretParse, "secrets: transit decrypt with %s returned no plaintext", key)
		recordError(span, err)
		return "", err
	}

	plain, err := base64.StdEncoding.DecodeString(*resp.Data.Plaintext)
	if err != nil {
		wrapped := sserr.Wrapf(err, sserr.CodeSecretParse, "secrets: transit plaintext from %s is not base64", key)
		recordError(span, wrapped)
		return "", wrapped
	}
	return string(plain), nil
}

// validateName checks a single path segment such as a transit key or a
// role name.
func validateName(kind, name string) error {
	if name == "" {
		return sserr.Newf(sserr.CodeValidationRequired, "secrets: %s name must not be empty", kind)
	}
	if strings.ContainsAny(name, "/?#") || name == "." || name == ".." {
		return sserr.Newf(sserr.CodeValidationFormat, "secrets: invalid %s name %q", kind, name)
	}
	return nil
}
