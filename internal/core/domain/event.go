package domain

import (
	"encoding/json"
	"time"
)

// EventType identifies one contract event schema. Every type maps 1:1 to a
// projector handler.
type EventType string

const (
	EventTransfer            EventType = "Transfer"
	EventTokensMinted        EventType = "TokensMinted"
	EventTokensBurned        EventType = "TokensBurned"
	EventDividendDistributed EventType = "DividendDistributed"
	EventVaultDeposit        EventType = "VaultDeposit"
	EventVaultWithdraw       EventType = "VaultWithdraw"
	EventVaultHarvest        EventType = "VaultHarvest"
	EventTrancheCreated      EventType = "TrancheCreated"
	EventCashflowDistributed EventType = "CashflowDistributed"
	EventTranchePayment      EventType = "TranchePayment"
	EventSPVRegistered       EventType = "SPVRegistered"
	EventPropertyAdded       EventType = "PropertyAdded"
)

// AllEventTypes lists every tracked event type. Used to verify handler
// registration is exhaustive.
var AllEventTypes = []EventType{
	EventTransfer,
	EventTokensMinted,
	EventTokensBurned,
	EventDividendDistributed,
	EventVaultDeposit,
	EventVaultWithdraw,
	EventVaultHarvest,
	EventTrancheCreated,
	EventCashflowDistributed,
	EventTranchePayment,
	EventSPVRegistered,
	EventPropertyAdded,
}

// RawEvent is a decoded occurrence emitted by a tracked contract. Immutable
// once constructed; the live subscription and the catch-up scanner both
// produce these through the same decoding path.
type RawEvent struct {
	Type        EventType       `json:"event_type"`
	Contract    string          `json:"contract"`
	TxHash      string          `json:"tx_hash"`
	BlockNumber uint64          `json:"block_number"`
	LogIndex    uint            `json:"log_index"`
	Payload     json.RawMessage `json:"payload"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// ZeroAddress is the mint/burn sentinel. A Transfer from it is a pure credit,
// a Transfer to it a pure debit.
const ZeroAddress = "0x0000000000000000000000000000000000000000"
