package webhook

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

type fakeValues struct {
	value string
	err   error

	gotPath, gotKey string
}

func (f *fakeValues) GetSecretValue(_ context.Context, path, key string) (string, error) {
	f.gotPath, f.gotKey = path, key
	return f.value, f.err
}

func TestStaticSecret(t *testing.T) {
	t.Parallel()
	got, err := StaticSecret("s3cret").WebhookSecret(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), got)

	_, err = StaticSecret(nil).WebhookSecret(context.Background())
	requireCode(t, err, sserr.CodeWebhookMissingSecret)
}

func TestStoreSecret(t *testing.T) {
	t.Parallel()

	t.Run("hex decoded from default location", func(t *testing.T) {
		t.Parallel()
		f := &fakeValues{value: hex.EncodeToString(testSecret)}
		got, err := (&StoreSecret{Store: f, Logger: discardLogger()}).WebhookSecret(context.Background())
		require.NoError(t, err)
		assert.Equal(t, testSecret, got)
		assert.Equal(t, DefaultSecretPath, f.gotPath)
		assert.Equal(t, DefaultSecretKey, f.gotKey)
	})

	t.Run("custom location", func(t *testing.T) {
		t.Parallel()
		f := &fakeValues{value: "abcd"}
		_, err := (&StoreSecret{Store: f, Path: "sut/api", Key: "webhook_secret"}).WebhookSecret(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "sut/api", f.gotPath)
		assert.Equal(t, "webhook_secret", f.gotKey)
	})

	t.Run("fallback", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name         string
			store        *fakeValues
			wantFallback bool
		}{
			{"not configured", &fakeValues{err: sserr.New(sserr.CodeSecretNotConfigured, "no token")}, true},
			{"unreachable", &fakeValues{err: sserr.New(sserr.CodeSecretNetwork, "down")}, true},
			{"missing", &fakeValues{err: sserr.New(sserr.CodeSecretNotFound, "no such path")}, true},
			{"empty value", &fakeValues{value: ""}, true},
			{"permission denied", &fakeValues{err: sserr.New(sserr.CodeSecretPermissionDenied, "403")}, false},
			{"undecodable response", &fakeValues{err: sserr.New(sserr.CodeSecretParse, "bad json")}, false},
			{"value not hex", &fakeValues{value: "zz"}, false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				s := &StoreSecret{Store: tt.store, Fallback: StaticSecret("fallback"), Logger: discardLogger()}
				got, err := s.WebhookSecret(context.Background())
				if tt.wantFallback {
					require.NoError(t, err)
					assert.Equal(t, []byte("fallback"), got)
					return
				}
				requireCode(t, err, sserr.CodeWebhookMissingSecret)
				assert.Nil(t, got)
			})
		}
	})

	t.Run("no store and no fallback", func(t *testing.T) {
		t.Parallel()
		_, err := (&StoreSecret{}).WebhookSecret(context.Background())
		requireCode(t, err, sserr.CodeWebhookMissingSecret)
	})

	t.Run("empty value without fallback", func(t *testing.T) {
		t.Parallel()
		_, err := (&StoreSecret{Store: &fakeValues{value: ""}}).WebhookSecret(context.Background())
		requireCode(t, err, sserr.CodeWebhookMissingSecret)
	})
}
