package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

type mockCmdable struct {
	mock.Mock
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	args := m.Called(ctx, key, value, expiration)
	return args.Get(0).(*redis.BoolCmd)
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	args := m.Called(ctx)
	return args.Get(0).(*redis.StatusCmd)
}

func (m *mockCmdable) Close() error {
	return m.Called().Error(0)
}

func TestClient_SetNX(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		inserted bool
	}{
		{"key absent", true},
		{"key present", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &mockCmdable{}
			m.On("SetNX", mock.Anything, "receipt:1", "id-1", time.Hour).
				Return(redis.NewBoolResult(tt.inserted, nil))

			ok, err := NewFromClient(m).SetNX(context.Background(), "receipt:1", "id-1", time.Hour)
			require.NoError(t, err)
			assert.Equal(t, tt.inserted, ok)
			m.AssertExpectations(t)
		})
	}
}

func TestClient_SetNX_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code sserr.Code
	}{
		{"server error", errors.New("READONLY You can't write against a read only replica"), sserr.CodeInternalDatabase},
		{"deadline", context.DeadlineExceeded, sserr.CodeTimeoutDatabase},
		{"cancelled", context.Canceled, sserr.CodeInternalDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := &mockCmdable{}
			m.On("SetNX", mock.Anything, "k", "v", time.Duration(0)).
				Return(redis.NewBoolResult(false, tt.err))

			_, err := NewFromClient(m).SetNX(context.Background(), "k", "v", 0)
			require.Error(t, err)
			assert.Equal(t, tt.code, sserr.GetCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClient_Health(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		m := &mockCmdable{}
		m.On("Ping", mock.Anything).Return(redis.NewStatusResult("PONG", nil))
		assert.NoError(t, NewFromClient(m).Health(context.Background()))
	})

	t.Run("down", func(t *testing.T) {
		t.Parallel()
		m := &mockCmdable{}
		m.On("Ping", mock.Anything).Return(redis.NewStatusResult("", errors.New("connection refused")))
		err := NewFromClient(m).Health(context.Background())
		assert.Equal(t, sserr.CodeUnavailableDependency, sserr.GetCode(err))
	})

	t.Run("deadline applied", func(t *testing.T) {
		t.Parallel()
		m := &mockCmdable{}
		m.On("Ping", mock.MatchedBy(func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			return ok
		})).Return(redis.NewStatusResult("PONG", nil))
		assert.NoError(t, NewFromClient(m).Health(context.Background()))
		m.AssertExpectations(t)
	})
}

func TestClient_Close(t *testing.T) {
	t.Parallel()
	m := &mockCmdable{}
	m.On("Close").Return(nil).Once()
	require.NoError(t, NewFromClient(m).Close())
	m.AssertExpectations(t)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), Config{URI: "http://cache:6379"})
	assert.Equal(t, sserr.CodeValidationFormat, sserr.GetCode(err))
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	short := "SETNX webhook:receipt:abc"
	assert.Equal(t, short, truncateStatement(short))

	long := make([]rune, maxStatementTruncateLen+10)
	for i := range long {
		long[i] = 'k'
	}
	got := truncateStatement(string(long))
	assert.Len(t, []rune(got), maxStatementTruncateLen+3)
	assert.Contains(t, got, "...")
}
