package domain

import (
	"encoding/json"
	"time"
)

// ProcessedEvent is the idempotency marker and audit record for one on-chain
// event, keyed by (transaction hash, event type). A row with Processed=true is
// the sole gate preventing re-application. Rows are never deleted.
type ProcessedEvent struct {
	TxHash      string
	EventType   EventType
	Payload     json.RawMessage
	Processed   bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
}
