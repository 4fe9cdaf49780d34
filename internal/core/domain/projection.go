package domain

import "time"

// Projection entities: derived, mutable mirrors of chain state. Only the
// projector writes them.

// TokenHolding tracks a holder's balance for one token.
type TokenHolding struct {
	UserAddress  string
	TokenAddress string
	Balance      string
	UpdatedAt    time.Time
}

// VaultPosition tracks a holder's vault shares and cumulative deposits.
type VaultPosition struct {
	UserAddress string
	Shares      string
	Deposited   string
	UpdatedAt   time.Time
}

// Tranche is one tranche ledger row for an SPV. Paid accumulates across
// TranchePayment events.
type Tranche struct {
	SPVID        string
	TokenAddress string
	Priority     uint8
	Name         string
	Paid         string
	CreatedAt    time.Time
}

// SPV links an off-chain SPV record to its on-chain registration.
type SPV struct {
	Name      string
	OnChainID string
	TxHash    string
	OwnerAddr string
}

// Property is a real-world asset registered under an SPV.
type Property struct {
	SPVID      string
	PropertyID string
	Address    string
	CreatedAt  time.Time
}

// DividendDistribution records one dividend payout event.
type DividendDistribution struct {
	TokenAddress string
	Amount       string
	Timestamp    time.Time
	TxHash       string
}

// CashflowDistribution records one SPV cashflow event.
type CashflowDistribution struct {
	SPVID     string
	Amount    string
	Timestamp time.Time
	TxHash    string
}

// VaultHarvest records one vault harvest event.
type VaultHarvest struct {
	Profit         string
	PerformanceFee string
	TxHash         string
	CreatedAt      time.Time
}

// LedgerEntryType classifies transaction ledger rows.
type LedgerEntryType string

const (
	LedgerTransfer LedgerEntryType = "TRANSFER"
	LedgerMint     LedgerEntryType = "MINT"
	LedgerBurn     LedgerEntryType = "BURN"
)

// LedgerEntry is one confirmed token movement in the transaction ledger.
type LedgerEntry struct {
	Type        LedgerEntryType
	FromAddress string
	ToAddress   string
	Amount      string
	TxHash      string
	BlockNumber uint64
	Status      string
}
