package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// DefaultRedisKeyPrefix namespaces receipt keys.
const DefaultRedisKeyPrefix = "webhook:receipt:"

// SetNXer sets a key only if it is absent. The redis client satisfies it.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error)
}

// RedisStore records receipts as Redis keys written with SETNX. The key
// is a SHA-256 of the pair, so arbitrary source and nonce strings never
// leak into key names.
//
// With a zero TTL receipts never expire. A positive TTL must exceed the
// replay window, otherwise a replay could be accepted after its receipt
// expires.
type RedisStore struct {
	client SetNXer
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store over client. An empty prefix uses
// [DefaultRedisKeyPrefix].
func NewRedisStore(client SetNXer, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Record implements [ReceiptStore].
func (s *RedisStore) Record(ctx context.Context, r Receipt) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(r.Source, r.Nonce), r.ID.String(), s.ttl)
	if err != nil {
		if _, isPlatform := sserr.AsError(err); isPlatform {
			return false, err
		}
		return false, sserr.Wrap(err, sserr.CodeInternalDatabase, "webhook: failed to record receipt")
	}
	return ok, nil
}

func (s *RedisStore) key(source, nonce string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(nonce))
	return s.prefix + hex.EncodeToString(h.Sum(nil))
}
