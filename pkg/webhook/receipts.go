package webhook

import (
	"context"
	"sync"
)

// ReceiptStore records receipts with insert-if-absent semantics.
//
// Record returns true when r was stored and false when a receipt with the
// same (Source, Nonce) already exists. The check and the insert must be one
// atomic operation: of any number of concurrent calls for one pair, exactly
// one returns true.
type ReceiptStore interface {
	Record(ctx context.Context, r Receipt) (inserted bool, err error)
}

type receiptKey struct {
	source string
	nonce  string
}

// MemoryStore is a process-local [ReceiptStore]. Receipts are lost on
// restart, so it suits tests and single-replica development only.
type MemoryStore struct {
	receipts sync.Map // receiptKey -> Receipt
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record implements [ReceiptStore].
func (s *MemoryStore) Record(ctx context.Context, r Receipt) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, loaded := s.receipts.LoadOrStore(receiptKey{source: r.Source, nonce: r.Nonce}, r)
	return !loaded, nil
}

// Lookup returns the stored receipt for (source, nonce).
func (s *MemoryStore) Lookup(source, nonce string) (Receipt, bool) {
	v, ok := s.receipts.Load(receiptKey{source: source, nonce: nonce})
	if !ok {
		return Receipt{}, false
	}
	return v.(Receipt), true
}

// Len counts stored receipts.
func (s *MemoryStore) Len() int {
	n := 0
	s.receipts.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
