package domain

// Typed payloads, one per event schema. Token and cash amounts are decimal
// strings in the chain's base units; they are bound to NUMERIC columns and
// never pass through floating point.

// TransferPayload carries Transfer(from, to, value). Token is the emitting
// contract address, taken from the log itself.
type TransferPayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
	Token string `json:"token"`
}

// MintPayload carries TokensMinted(to, amount).
type MintPayload struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
	Token  string `json:"token"`
}

// BurnPayload carries TokensBurned(from, amount).
type BurnPayload struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
	Token  string `json:"token"`
}

// DividendPayload carries DividendDistributed(token, amount, timestamp).
type DividendPayload struct {
	Token     string `json:"token"`
	Amount    string `json:"amount"`
	Timestamp string `json:"timestamp"`
}

// VaultDepositPayload carries Deposit(user, amount, shares).
type VaultDepositPayload struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
	Shares string `json:"shares"`
}

// VaultWithdrawPayload carries Withdraw(user, amount, shares).
type VaultWithdrawPayload struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
	Shares string `json:"shares"`
}

// VaultHarvestPayload carries Harvest(profit, performanceFee).
type VaultHarvestPayload struct {
	Profit         string `json:"profit"`
	PerformanceFee string `json:"performance_fee"`
}

// TrancheCreatedPayload carries TrancheCreated(spvId, trancheTokens[], priorities[]).
// Priorities are int, not uint8, so they serialize as a JSON array rather than
// base64 bytes.
type TrancheCreatedPayload struct {
	SPVID         string   `json:"spv_id"`
	TrancheTokens []string `json:"tranche_tokens"`
	Priorities    []int    `json:"priorities"`
}

// CashflowPayload carries CashflowDistributed(spvId, amount, timestamp).
type CashflowPayload struct {
	SPVID     string `json:"spv_id"`
	Amount    string `json:"amount"`
	Timestamp string `json:"timestamp"`
}

// TranchePaymentPayload carries TranchePayment(spvId, trancheToken, amount).
type TranchePaymentPayload struct {
	SPVID        string `json:"spv_id"`
	TrancheToken string `json:"tranche_token"`
	Amount       string `json:"amount"`
}

// SPVRegisteredPayload carries SPVRegistered(spvId, owner, name).
type SPVRegisteredPayload struct {
	SPVID string `json:"spv_id"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// PropertyAddedPayload carries PropertyAdded(spvId, propertyId, propertyAddress).
type PropertyAddedPayload struct {
	SPVID           string `json:"spv_id"`
	PropertyID      string `json:"property_id"`
	PropertyAddress string `json:"property_address"`
}
