package redis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		code sserr.Code
	}{
		{"redis scheme", Config{URI: "redis://cache:6379/0"}, ""},
		{"tls scheme", Config{URI: "rediss://:pw@cache:6380/1"}, ""},
		{"missing uri", Config{}, sserr.CodeValidationRequired},
		{"wrong scheme", Config{URI: "memcached://cache"}, sserr.CodeValidationFormat},
		{"unparseable", Config{URI: "redis://[::1"}, sserr.CodeValidationFormat},
		{"negative pool", Config{URI: "redis://cache", PoolSize: -1}, sserr.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.code == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, sserr.GetCode(err))
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg := Config{URI: "redis://cache"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
}

func TestConfig_PasswordNeverSerialized(t *testing.T) {
	t.Parallel()
	cfg := Config{URI: "redis://:hunter2@cache:6379/0"}

	assert.True(t, cfg.Enabled())
	assert.NotContains(t, cfg.Redacted(), "hunter2")
	assert.Contains(t, cfg.Redacted(), "cache:6379")

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	assert.False(t, (&Config{}).Enabled())
}
