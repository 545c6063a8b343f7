// Package webhook authenticates inbound signed webhook deliveries and
// records each (source, nonce) pair exactly once.
//
// A delivery is accepted when, in order:
//
//  1. a non-empty shared secret is available,
//  2. the X-Signature header has the form "sha256=<hex>",
//  3. the hex digest equals HMAC-SHA256(secret, raw body) under a
//     constant-time comparison,
//  4. the body is an [Event] with a source and nonce,
//  5. the event timestamp lies within the replay window of now, and
//  6. the receipt store has not seen (source, nonce) before.
//
// A repeated (source, nonce) is not an error: [Authenticator.Authenticate]
// returns [OutcomeDuplicate] and callers skip side effects. Recording is a
// single atomic insert-if-absent in every [ReceiptStore] implementation.
package webhook

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of authenticating a delivery.
type Outcome string

const (
	// OutcomeAccepted is the first delivery of a (source, nonce) pair.
	OutcomeAccepted Outcome = "accepted"

	// OutcomeDuplicate is any later delivery of a recorded pair.
	OutcomeDuplicate Outcome = "duplicate"
)

// Event is the signed ingestion envelope.
type Event struct {
	Source    string          `json:"source"`
	SourceKey string          `json:"sourceKey,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Nonce     string          `json:"nonce"`

	// TS is the sender's Unix timestamp in seconds.
	TS int64 `json:"ts"`
}

// Timestamp returns TS as a time.
func (e Event) Timestamp() time.Time { return time.Unix(e.TS, 0) }

// Receipt is the durable record of an accepted delivery.
type Receipt struct {
	ID         uuid.UUID
	Source     string
	Nonce      string
	ReceivedAt time.Time
}

// Result is returned for every authenticated delivery.
type Result struct {
	Outcome Outcome
	Event   Event
	Receipt Receipt
}

// Accepted reports whether side effects should run for this delivery.
func (r *Result) Accepted() bool { return r != nil && r.Outcome == OutcomeAccepted }
