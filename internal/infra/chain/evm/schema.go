package evm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/rwalabs/chainsync/internal/core/domain"
)

// ErrUnknownEvent marks a log whose topic0 matches no tracked schema for the
// contract. Range queries filter by address only, so untracked events are
// expected and skipped quietly.
var ErrUnknownEvent = errors.New("unknown event signature")

// Event-only ABI fragments for the tracked contracts, matching the deployed
// interfaces.
const permissionedTokenABI = `[
	{"type":"event","name":"Transfer","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"DividendDistributed","inputs":[
		{"name":"token","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokensMinted","inputs":[
		{"name":"to","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"TokensBurned","inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]}
]`

const vaultABI = `[
	{"type":"event","name":"Deposit","inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}]},
	{"type":"event","name":"Withdraw","inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"shares","type":"uint256","indexed":false}]},
	{"type":"event","name":"Harvest","inputs":[
		{"name":"profit","type":"uint256","indexed":false},
		{"name":"performanceFee","type":"uint256","indexed":false}]}
]`

const trancheFactoryABI = `[
	{"type":"event","name":"TrancheCreated","inputs":[
		{"name":"spvId","type":"uint256","indexed":true},
		{"name":"trancheTokens","type":"address[]","indexed":false},
		{"name":"priorities","type":"uint8[]","indexed":false}]},
	{"type":"event","name":"CashflowDistributed","inputs":[
		{"name":"spvId","type":"uint256","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"TranchePayment","inputs":[
		{"name":"spvId","type":"uint256","indexed":true},
		{"name":"trancheToken","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]}
]`

const spvRegistryABI = `[
	{"type":"event","name":"SPVRegistered","inputs":[
		{"name":"spvId","type":"uint256","indexed":true},
		{"name":"owner","type":"address","indexed":true},
		{"name":"name","type":"string","indexed":false}]},
	{"type":"event","name":"PropertyAdded","inputs":[
		{"name":"spvId","type":"uint256","indexed":true},
		{"name":"propertyId","type":"uint256","indexed":true},
		{"name":"propertyAddress","type":"string","indexed":false}]}
]`

// eventSchema maps one ABI event to its domain event type and payload builder.
type eventSchema struct {
	name  string
	typ   domain.EventType
	build func(args map[string]any, emitter string) (any, error)
}

// contractSchema holds the parsed ABI and topic0 index for one contract.
type contractSchema struct {
	abi    abi.ABI
	events map[common.Hash]eventSchema
}

// newSchemas parses the ABIs and builds the topic0 → schema index for every
// tracked contract. Panics on malformed ABI constants, which is a programming
// error caught by the schema tests.
func newSchemas() map[string]*contractSchema {
	schemas := make(map[string]*contractSchema, 4)

	schemas[domain.ContractPermissionedToken] = buildSchema(permissionedTokenABI, []eventSchema{
		{name: "Transfer", typ: domain.EventTransfer, build: buildTransfer},
		{name: "DividendDistributed", typ: domain.EventDividendDistributed, build: buildDividend},
		{name: "TokensMinted", typ: domain.EventTokensMinted, build: buildMint},
		{name: "TokensBurned", typ: domain.EventTokensBurned, build: buildBurn},
	})
	schemas[domain.ContractVault] = buildSchema(vaultABI, []eventSchema{
		{name: "Deposit", typ: domain.EventVaultDeposit, build: buildVaultDeposit},
		{name: "Withdraw", typ: domain.EventVaultWithdraw, build: buildVaultWithdraw},
		{name: "Harvest", typ: domain.EventVaultHarvest, build: buildVaultHarvest},
	})
	schemas[domain.ContractTrancheFactory] = buildSchema(trancheFactoryABI, []eventSchema{
		{name: "TrancheCreated", typ: domain.EventTrancheCreated, build: buildTrancheCreated},
		{name: "CashflowDistributed", typ: domain.EventCashflowDistributed, build: buildCashflow},
		{name: "TranchePayment", typ: domain.EventTranchePayment, build: buildTranchePayment},
	})
	schemas[domain.ContractSPVRegistry] = buildSchema(spvRegistryABI, []eventSchema{
		{name: "SPVRegistered", typ: domain.EventSPVRegistered, build: buildSPVRegistered},
		{name: "PropertyAdded", typ: domain.EventPropertyAdded, build: buildPropertyAdded},
	})
	return schemas
}

func buildSchema(abiJSON string, events []eventSchema) *contractSchema {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid contract ABI: %v", err))
	}
	cs := &contractSchema{abi: parsed, events: make(map[common.Hash]eventSchema, len(events))}
	for _, es := range events {
		ev, ok := parsed.Events[es.name]
		if !ok {
			panic(fmt.Sprintf("event %s not in ABI", es.name))
		}
		cs.events[ev.ID] = es
	}
	return cs
}

// Payload builders. Argument extraction is strict: a missing or mistyped
// field is a decode error, the log is dropped.

func buildTransfer(args map[string]any, emitter string) (any, error) {
	from, err := addrArg(args, "from")
	if err != nil {
		return nil, err
	}
	to, err := addrArg(args, "to")
	if err != nil {
		return nil, err
	}
	value, err := bigArg(args, "value")
	if err != nil {
		return nil, err
	}
	return domain.TransferPayload{From: from, To: to, Value: value, Token: emitter}, nil
}

func buildMint(args map[string]any, emitter string) (any, error) {
	to, err := addrArg(args, "to")
	if err != nil {
		return nil, err
	}
	amount, err := bigArg(args, "amount")
	if err != nil {
		return nil, err
	}
	return domain.MintPayload{To: to, Amount: amount, Token: emitter}, nil
}

func buildBurn(args map[string]any, emitter string) (any, error) {
	from, err := addrArg(args, "from")
	if err != nil {
		return nil, err
	}
	amount, err := bigArg(args, "amount")
	if err != nil {
		return nil, err
	}
	return domain.BurnPayload{From: from, Amount: amount, Token: emitter}, nil
}

func buildDividend(args map[string]any, _ string) (any, error) {
	token, err := addrArg(args, "token")
	if err != nil {
		return nil, err
	}
	amount, err := bigArg(args, "amount")
	if err != nil {
		return nil, err
	}
	ts, err := bigArg(args, "timestamp")
	if err != nil {
		return nil, err
	}
	return domain.DividendPayload{Token: token, Amount: amount, Timestamp: ts}, nil
}

func buildVaultDeposit(args map[string]any, _ string) (any, error) {
	user, err := addrArg(args, "user")
	if err != nil {
		return nil, err
	}
	amount, err := bigArg(args, "amount")
	if err != nil {
		return nil, err
	}
	shares, err := bigArg(args, "shares")
	if err != nil {
		return nil, err
	}
	return domain.VaultDepositPayload{User: user, Amount: amount, Shares: shares}, nil
}

func buildVaultWithdraw(args map[string]any, _ string) (any, error) {
	user, err := addrArg(args, "user")
	if err != nil {
		return nil, err
	}
	amount, err := bigArg(args, "amount")
	if err != nil {
		return nil, err
	}
	shares, err := bigArg(args, "shares")
	if err != nil {
		return nil, err
	}
	return domain.VaultWithdrawPayload{User: user, Amount: amount, Shares: shares}, nil
}

func buildVaultHarvest(args map[string]any, _ string) (any, error) {
	profit, err := bigArg(args, "profit")
	if err != nil {
		return nil, err
	}
	fee, err := bigArg(args, "performanceFee")
	if err != nil {
		return nil, err
	}
	return domain.VaultHarvestPayload{Profit: profit, PerformanceFee: fee}, nil
}

func buildTrancheCreated(args map[string]any, _ string) (any, error) {
	spvID, err := bigArg(args, "spvId")
	if err != nil {
		return nil, err
	}
	tokens, ok := args["trancheTokens"].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("argument trancheTokens: expected address[]")
	}
	prios, ok := args["priorities"].([]uint8)
	if !ok {
		return nil, fmt.Errorf("argument priorities: expected uint8[]")
	}
	p := domain.TrancheCreatedPayload{SPVID: spvID}
	for _, t := range tokens {
		p.TrancheTokens = append(p.TrancheTokens, lower(t))
	}
	for _, pr := range prios {
		p.Priorities = append(p.Priorities, int(pr))
	}
	return p, nil
}

func buildCashflow(args map[string]any, _ string) (any, error) {
	spvID, err := bigArg(args, "spvId")
	if err != nil {
		return nil, err
	}
	amount, err := bigArg(args, "amount")
	if err != nil {
		return nil, err
	}
	ts, err := bigArg(args, "timestamp")
	if err != nil {
		return nil, err
	}
	return domain.CashflowPayload{SPVID: spvID, Amount: amount, Timestamp: ts}, nil
}

func buildTranchePayment(args map[string]any, _ string) (any, error) {
	spvID, err := bigArg(args, "spvId")
	if err != nil {
		return nil, err
	}
	token, err := addrArg(args, "trancheToken")
	if err != nil {
		return nil, err
	}
	amount, err := bigArg(args, "amount")
	if err != nil {
		return nil, err
	}
	return domain.TranchePaymentPayload{SPVID: spvID, TrancheToken: token, Amount: amount}, nil
}

func buildSPVRegistered(args map[string]any, _ string) (any, error) {
	spvID, err := bigArg(args, "spvId")
	if err != nil {
		return nil, err
	}
	owner, err := addrArg(args, "owner")
	if err != nil {
		return nil, err
	}
	name, err := strArg(args, "name")
	if err != nil {
		return nil, err
	}
	return domain.SPVRegisteredPayload{SPVID: spvID, Owner: owner, Name: name}, nil
}

func buildPropertyAdded(args map[string]any, _ string) (any, error) {
	spvID, err := bigArg(args, "spvId")
	if err != nil {
		return nil, err
	}
	propID, err := bigArg(args, "propertyId")
	if err != nil {
		return nil, err
	}
	addr, err := strArg(args, "propertyAddress")
	if err != nil {
		return nil, err
	}
	return domain.PropertyAddedPayload{SPVID: spvID, PropertyID: propID, PropertyAddress: addr}, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

// Addresses are normalized to lowercase hex everywhere downstream.
func lower(a common.Address) string { return strings.ToLower(a.Hex()) }

func addrArg(args map[string]any, name string) (string, error) {
	a, ok := args[name].(common.Address)
	if !ok {
		return "", fmt.Errorf("argument %s: expected address", name)
	}
	return lower(a), nil
}

func bigArg(args map[string]any, name string) (string, error) {
	v, ok := args[name].(*big.Int)
	if !ok {
		return "", fmt.Errorf("argument %s: expected uint256", name)
	}
	return v.String(), nil
}

func strArg(args map[string]any, name string) (string, error) {
	s, ok := args[name].(string)
	if !ok {
		return "", fmt.Errorf("argument %s: expected string", name)
	}
	return s, nil
}
