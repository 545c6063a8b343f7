package webhook

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"

	sserr "github.com/StricklySoft/stricklysoft-trust/pkg/errors"
)

// ReceiptsSchema creates the receipts table. The UNIQUE constraint is what
// makes [PostgresStore.Record] atomic; schema management itself belongs to
// the deployment's migration tooling.
const ReceiptsSchema = `CREATE TABLE IF NOT EXISTS webhook_receipts (
    id          UUID        PRIMARY KEY,
    source      TEXT        NOT NULL,
    nonce       TEXT        NOT NULL,
    received_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (source, nonce)
)`

const insertReceiptSQL = `INSERT INTO webhook_receipts (id, source, nonce, received_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (source, nonce) DO NOTHING`

// Execer runs a statement and reports the affected rows. It is satisfied
// by the postgres client, *pgxpool.Pool and pgxmock pools.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore records receipts in the webhook_receipts table.
type PostgresStore struct {
	db Execer
}

// NewPostgresStore returns a store over db.
func NewPostgresStore(db Execer) *PostgresStore {
	return &PostgresStore{db: db}
}

// Record implements [ReceiptStore]. A conflicting insert affects zero rows
// and reads as a duplicate.
func (s *PostgresStore) Record(ctx context.Context, r Receipt) (bool, error) {
	tag, err := s.db.Exec(ctx, insertReceiptSQL, r.ID, r.Source, r.Nonce, r.ReceivedAt)
	if err != nil {
		if _, ok := sserr.AsError(err); ok {
			return false, err
		}
		return false, sserr.Wrap(err, sserr.CodeInternalDatabase, "webhook: failed to record receipt")
	}
	return tag.RowsAffected() > 0, nil
}
