package postgres

import (
	"encoding/json"
	"strings"
	"testing"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want sserr.Code
	}{
		{"url dsn", Config{DSN: "postgres://app@db:5432/directory"}, ""},
		{"keyword dsn", Config{DSN: "host=db user=app dbname=directory"}, ""},
		{"missing dsn", Config{}, sserr.CodeValidationRequired},
		{"max below min", Config{DSN: "postgres://db/x", MinConns: 5, MaxConns: 2}, sserr.CodeValidation},
		{"negative min", Config{DSN: "postgres://db/x", MinConns: -1}, sserr.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if got := sserr.GetCode(err); got != tt.want {
				t.Fatalf("Validate() code = %q, want %q (err: %v)", got, tt.want, err)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{DSN: "postgres://db/x"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.MaxConns != DefaultMaxConns || cfg.MinConns != DefaultMinConns {
		t.Errorf("pool = (%d, %d), want (%d, %d)", cfg.MinConns, cfg.MaxConns, DefaultMinConns, DefaultMaxConns)
	}
	if cfg.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", cfg.ConnectTimeout, DefaultConnectTimeout)
	}
}

func TestConfig_DSNNeverExposed(t *testing.T) {
	cfg := Config{DSN: "postgres://app:hunter2@db:5432/directory"}

	if strings.Contains(cfg.Redacted(), "hunter2") {
		t.Errorf("Redacted() leaked password: %s", cfg.Redacted())
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("JSON leaked password: %s", data)
	}

	kv := Config{DSN: "host=db password=hunter2"}
	if strings.Contains(kv.Redacted(), "hunter2") {
		t.Errorf("Redacted() leaked password: %s", kv.Redacted())
	}
}

func TestConfig_WithCredentials(t *testing.T) {
	base := Config{DSN: "postgres://static:hunter2@db:5432/directory?sslmode=disable"}
	leased := base.WithCredentials("v-trust-1", "leased-pw")
	if err := leased.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	poolCfg, err := poolConfig(leased)
	if err != nil {
		t.Fatalf("poolConfig() error: %v", err)
	}
	if poolCfg.ConnConfig.User != "v-trust-1" || poolCfg.ConnConfig.Password != "leased-pw" {
		t.Errorf("credentials = (%q, %q), want leased login", poolCfg.ConnConfig.User, poolCfg.ConnConfig.Password)
	}
	if poolCfg.ConnConfig.Host != "db" || poolCfg.ConnConfig.Database != "directory" {
		t.Errorf("target = %s/%s, want db/directory", poolCfg.ConnConfig.Host, poolCfg.ConnConfig.Database)
	}

	// The base config is untouched and keeps the DSN login.
	poolCfg, err = poolConfig(base)
	if err != nil {
		t.Fatalf("poolConfig() error: %v", err)
	}
	if poolCfg.ConnConfig.User != "static" || poolCfg.ConnConfig.Password != "hunter2" {
		t.Errorf("credentials = (%q, %q), want DSN login", poolCfg.ConnConfig.User, poolCfg.ConnConfig.Password)
	}

	data, err := json.Marshal(leased)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if strings.Contains(string(data), "leased-pw") {
		t.Errorf("JSON leaked leased password: %s", data)
	}
}

func TestPoolConfig_BadDSN(t *testing.T) {
	_, err := poolConfig(Config{DSN: "postgres://db:notaport/x"})
	if got := sserr.GetCode(err); got != sserr.CodeValidationFormat {
		t.Fatalf("poolConfig() code = %q, want %q (err: %v)", got, sserr.CodeValidationFormat, err)
	}
}
