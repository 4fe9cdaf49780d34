package domain

import "time"

// SyncCursor is the catch-up scanner's durable watermark for one contract:
// the highest block number fully scanned. It only moves forward.
type SyncCursor struct {
	Contract    string
	BlockNumber uint64
	UpdatedAt   time.Time
}
