package secrets

import (
	"context"
	"crypto/rand"
	"math/big"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// RotatedSecretLength is the length of values produced by [Store.RotateSecret].
const RotatedSecretLength = 32

const rotationAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GetSecretValue returns the string field key of the secret at path. A
// missing or non-string field is reported as [sserr.CodeSecretNotFound].
func (s *Store) GetSecretValue(ctx context.Context, path, key string) (string, error) {
	data, err := s.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}
	v, ok := data[key].(string)
	if !ok {
		return "", sserr.Newf(sserr.CodeSecretNotFound, "secrets: %s has no string field %q", path, key)
	}
	return v, nil
}

// GetSecretOrEnv reads path/key from the store and falls back to envVar
// when the store is unconfigured, unreachable or lacks the value. Use it
// for non-PII configuration only. Permission and parse failures do not
// fall back.
func (s *Store) GetSecretOrEnv(ctx context.Context, path, key, envVar string) (string, error) {
	v, err := s.GetSecretValue(ctx, path, key)
	if err == nil {
		return v, nil
	}

	switch sserr.GetCode(err) {
	case sserr.CodeSecretNotConfigured, sserr.CodeSecretNetwork, sserr.CodeSecretNotFound:
	default:
		return "", err
	}

	if env, ok := s.lookupEnv(envVar); ok && env != "" {
		s.logger.WarnContext(ctx, "secrets: using environment fallback",
			"path", path, "key", key, "env", envVar, "code", string(sserr.GetCode(err)))
		return env, nil
	}
	return "", sserr.Wrapf(err, sserr.CodeSecretNotFound,
		"secrets: %s/%s unavailable and %s not set", path, key, envVar)
}

// RotateSecret replaces field key at path with a fresh random value,
// keeping the other fields, and returns the new value. The current secret
// is read from the store, not the cache.
func (s *Store) RotateSecret(ctx context.Context, path, key string) (string, error) {
	if key == "" {
		return "", sserr.New(sserr.CodeValidationRequired, "secrets: key must not be empty")
	}

	s.Invalidate(path)
	data, err := s.GetSecret(ctx, path)
	switch {
	case sserr.HasCode(err, sserr.CodeSecretNotFound):
		data = map[string]any{}
	case err != nil:
		return "", err
	}

	value, err := generateSecret(RotatedSecretLength)
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternal, "secrets: random source failed")
	}
	data[key] = value

	if err := s.PutSecret(ctx, path, data); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "secrets: secret rotated", "path", path, "key", key)
	return value, nil
}

func generateSecret(n int) (string, error) {
	limit := big.NewInt(int64(len(rotationAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = rotationAlphabet[idx.Int64()]
	}
	return string(out), nil
}
