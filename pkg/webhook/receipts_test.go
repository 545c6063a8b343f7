package webhook

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

func testReceipt(source, nonce string) Receipt {
	return Receipt{ID: uuid.New(), Source: source, Nonce: nonce, ReceivedAt: testNow.UTC()}
}

// ---------------------------------------------------------------------------
// MemoryStore
// ---------------------------------------------------------------------------

func TestMemoryStore_InsertIfAbsent(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	first := testReceipt("crm", "n1")
	ok, err := s.Record(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Record(ctx, testReceipt("crm", "n1"))
	require.NoError(t, err)
	assert.False(t, ok)

	got, found := s.Lookup("crm", "n1")
	require.True(t, found)
	assert.Equal(t, first.ID, got.ID, "the first receipt is kept")

	_, found = s.Lookup("crm", "n2")
	assert.False(t, found)
}

func TestMemoryStore_KeyHasNoSeparatorAmbiguity(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.Record(ctx, testReceipt("a:b", "c"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Record(ctx, testReceipt("a", "b:c"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()

	var mu sync.Mutex
	inserted := 0
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Record(context.Background(), testReceipt("crm", "same"))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Record(ctx, testReceipt("crm", "n1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Len())
}

// ---------------------------------------------------------------------------
// PostgresStore
// ---------------------------------------------------------------------------

func TestPostgresStore_Record(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rows     int64
		inserted bool
	}{
		{"new receipt", 1, true},
		{"conflict", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			db, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer db.Close()

			r := testReceipt("crm", "n1")
			db.ExpectExec(regexp.QuoteMeta("INSERT INTO webhook_receipts (id, source, nonce, received_at)")).
				WithArgs(r.ID, "crm", "n1", r.ReceivedAt).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.rows))

			ok, err := NewPostgresStore(db).Record(context.Background(), r)
			require.NoError(t, err)
			assert.Equal(t, tt.inserted, ok)
			assert.NoError(t, db.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_UsesOnConflict(t *testing.T) {
	t.Parallel()
	assert.Contains(t, insertReceiptSQL, "ON CONFLICT (source, nonce) DO NOTHING")
	assert.Contains(t, ReceiptsSchema, "UNIQUE (source, nonce)")
}

func TestPostgresStore_Error(t *testing.T) {
	t.Parallel()
	db, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer db.Close()

	db.ExpectExec("INSERT INTO webhook_receipts").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err = NewPostgresStore(db).Record(context.Background(), testReceipt("crm", "n1"))
	requireCode(t, err, sserr.CodeInternalDatabase)
	assert.NoError(t, db.ExpectationsWereMet())
}

func TestPostgresStore_PlatformErrorPassesThrough(t *testing.T) {
	t.Parallel()
	db, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer db.Close()

	db.ExpectExec("INSERT INTO webhook_receipts").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(sserr.New(sserr.CodeTimeoutDatabase, "deadline"))

	_, err = NewPostgresStore(db).Record(context.Background(), testReceipt("crm", "n1"))
	requireCode(t, err, sserr.CodeTimeoutDatabase)
}

// ---------------------------------------------------------------------------
// RedisStore
// ---------------------------------------------------------------------------

type mockSetNX struct {
	mock.Mock
}

func (m *mockSetNX) SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, expiration)
	return args.Bool(0), args.Error(1)
}

func TestRedisStore_Record(t *testing.T) {
	t.Parallel()
	m := &mockSetNX{}
	s := NewRedisStore(m, "", time.Hour)
	r := testReceipt("crm", "n1")
	key := s.key("crm", "n1")

	m.On("SetNX", mock.Anything, key, r.ID.String(), time.Hour).Return(true, nil).Once()
	m.On("SetNX", mock.Anything, key, mock.Anything, time.Hour).Return(false, nil).Once()

	ok, err := s.Record(context.Background(), r)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Record(context.Background(), testReceipt("crm", "n1"))
	require.NoError(t, err)
	assert.False(t, ok)

	m.AssertExpectations(t)
}

func TestRedisStore_Key(t *testing.T) {
	t.Parallel()
	s := NewRedisStore(&mockSetNX{}, "", 0)
	k := s.key("crm", "n1")

	assert.True(t, strings.HasPrefix(k, DefaultRedisKeyPrefix))
	assert.Len(t, strings.TrimPrefix(k, DefaultRedisKeyPrefix), 64)
	assert.NotContains(t, k, "crm")
	assert.Equal(t, k, s.key("crm", "n1"))
	assert.NotEqual(t, s.key("a:b", "c"), s.key("a", "b:c"))

	custom := NewRedisStore(&mockSetNX{}, "trust:", 0)
	assert.True(t, strings.HasPrefix(custom.key("crm", "n1"), "trust:"))
}

func TestRedisStore_Error(t *testing.T) {
	t.Parallel()
	m := &mockSetNX{}
	m.On("SetNX", mock.Anything, mock.Anything, mock.Anything, time.Duration(0)).
		Return(false, errors.New("READONLY"))

	_, err := NewRedisStore(m, "", 0).Record(context.Background(), testReceipt("crm", "n1"))
	requireCode(t, err, sserr.CodeInternalDatabase)
}
