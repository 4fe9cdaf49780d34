// Package memory provides in-memory implementations of the storage
// interfaces, used by tests and by local runs without a database.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/rwalabs/chainsync/internal/core/domain"
	"github.com/rwalabs/chainsync/internal/infra/storage"
)

// Store implements storage.Store with transactional semantics: a unit of work
// mutates a deep copy of the state and swaps it in on commit, so a rollback
// leaves nothing behind, not even the idempotency claim.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	events    map[string]*domain.ProcessedEvent
	holdings  map[string]*domain.TokenHolding // keyed user|token
	positions map[string]*domain.VaultPosition
	tranches  map[string]*domain.Tranche // keyed spv|token
	spvs      map[string]*domain.SPV     // keyed name
	props     map[string]*domain.Property
	dividends []*domain.DividendDistribution
	cashflows []*domain.CashflowDistribution
	harvests  []*domain.VaultHarvest
	ledger    []*domain.LedgerEntry
}

func eventKey(txHash string, et domain.EventType) string { return txHash + "|" + string(et) }
func holdingKey(user, token string) string               { return user + "|" + token }

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{st: &state{
		events:    make(map[string]*domain.ProcessedEvent),
		holdings:  make(map[string]*domain.TokenHolding),
		positions: make(map[string]*domain.VaultPosition),
		tranches:  make(map[string]*domain.Tranche),
		spvs:      make(map[string]*domain.SPV),
		props:     make(map[string]*domain.Property),
	}}
}

// Begin opens a unit of work. The store lock is held until Commit or
// Rollback, serializing units of work the way row locks do in PostgreSQL.
func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	s.mu.Lock()
	return &unitOfWork{store: s, st: s.st.clone()}, nil
}

func (st *state) clone() *state {
	c := &state{
		events:    make(map[string]*domain.ProcessedEvent, len(st.events)),
		holdings:  make(map[string]*domain.TokenHolding, len(st.holdings)),
		positions: make(map[string]*domain.VaultPosition, len(st.positions)),
		tranches:  make(map[string]*domain.Tranche, len(st.tranches)),
		spvs:      make(map[string]*domain.SPV, len(st.spvs)),
		props:     make(map[string]*domain.Property, len(st.props)),
		dividends: append([]*domain.DividendDistribution(nil), st.dividends...),
		cashflows: append([]*domain.CashflowDistribution(nil), st.cashflows...),
		harvests:  append([]*domain.VaultHarvest(nil), st.harvests...),
		ledger:    append([]*domain.LedgerEntry(nil), st.ledger...),
	}
	for k, v := range st.events {
		cp := *v
		c.events[k] = &cp
	}
	for k, v := range st.holdings {
		cp := *v
		c.holdings[k] = &cp
	}
	for k, v := range st.positions {
		cp := *v
		c.positions[k] = &cp
	}
	for k, v := range st.tranches {
		cp := *v
		c.tranches[k] = &cp
	}
	for k, v := range st.spvs {
		cp := *v
		c.spvs[k] = &cp
	}
	for k, v := range st.props {
		cp := *v
		c.props[k] = &cp
	}
	return c
}

// addAmount returns a+b for decimal-integer strings; empty strings count as 0.
func addAmount(a, b string) (string, error) {
	x, ok := new(big.Int).SetString(orZero(a), 10)
	if !ok {
		return "", fmt.Errorf("invalid amount %q", a)
	}
	y, ok := new(big.Int).SetString(orZero(b), 10)
	if !ok {
		return "", fmt.Errorf("invalid amount %q", b)
	}
	return new(big.Int).Add(x, y).String(), nil
}

func subAmount(a, b string) (string, error) {
	y, ok := new(big.Int).SetString(orZero(b), 10)
	if !ok {
		return "", fmt.Errorf("invalid amount %q", b)
	}
	return addAmount(a, new(big.Int).Neg(y).String())
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

type unitOfWork struct {
	store *Store
	st    *state
	done  bool
}

func (u *unitOfWork) Commit() error {
	if u.done {
		return fmt.Errorf("transaction already completed")
	}
	u.store.st = u.st
	u.done = true
	u.store.mu.Unlock()
	return nil
}

func (u *unitOfWork) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	u.store.mu.Unlock()
	return nil
}

func (u *unitOfWork) ClaimEvent(ctx context.Context, ev *domain.RawEvent) (bool, error) {
	key := eventKey(ev.TxHash, ev.Type)
	if rec, ok := u.st.events[key]; ok {
		return rec.Processed, nil
	}
	u.st.events[key] = &domain.ProcessedEvent{
		TxHash:    ev.TxHash,
		EventType: ev.Type,
		Payload:   ev.Payload,
		CreatedAt: time.Now(),
	}
	return false, nil
}

func (u *unitOfWork) MarkProcessed(ctx context.Context, txHash string, eventType domain.EventType) error {
	rec, ok := u.st.events[eventKey(txHash, eventType)]
	if !ok {
		return fmt.Errorf("event %s/%s not claimed", txHash, eventType)
	}
	now := time.Now()
	rec.Processed = true
	rec.ProcessedAt = &now
	return nil
}

func (u *unitOfWork) CreditHolding(ctx context.Context, userAddr, tokenAddr, amount string) error {
	key := holdingKey(userAddr, tokenAddr)
	h, ok := u.st.holdings[key]
	if !ok {
		h = &domain.TokenHolding{UserAddress: userAddr, TokenAddress: tokenAddr, Balance: "0"}
		u.st.holdings[key] = h
	}
	bal, err := addAmount(h.Balance, amount)
	if err != nil {
		return err
	}
	h.Balance = bal
	h.UpdatedAt = time.Now()
	return nil
}

func (u *unitOfWork) DebitHolding(ctx context.Context, userAddr, amount string) error {
	for _, h := range u.st.holdings {
		if h.UserAddress != userAddr {
			continue
		}
		bal, err := subAmount(h.Balance, amount)
		if err != nil {
			return err
		}
		h.Balance = bal
		h.UpdatedAt = time.Now()
	}
	return nil
}

func (u *unitOfWork) CreditVaultPosition(ctx context.Context, userAddr, amount, shares string) error {
	p, ok := u.st.positions[userAddr]
	if !ok {
		p = &domain.VaultPosition{UserAddress: userAddr, Shares: "0", Deposited: "0"}
		u.st.positions[userAddr] = p
	}
	sh, err := addAmount(p.Shares, shares)
	if err != nil {
		return err
	}
	dep, err := addAmount(p.Deposited, amount)
	if err != nil {
		return err
	}
	p.Shares, p.Deposited = sh, dep
	p.UpdatedAt = time.Now()
	return nil
}

func (u *unitOfWork) DebitVaultShares(ctx context.Context, userAddr, shares string) error {
	p, ok := u.st.positions[userAddr]
	if !ok {
		return nil
	}
	sh, err := subAmount(p.Shares, shares)
	if err != nil {
		return err
	}
	p.Shares = sh
	p.UpdatedAt = time.Now()
	return nil
}

func (u *unitOfWork) CreateTranche(ctx context.Context, tr *domain.Tranche) error {
	key := tr.SPVID + "|" + tr.TokenAddress
	if _, ok := u.st.tranches[key]; ok {
		return nil
	}
	cp := *tr
	if cp.Paid == "" {
		cp.Paid = "0"
	}
	cp.CreatedAt = time.Now()
	u.st.tranches[key] = &cp
	return nil
}

func (u *unitOfWork) AddTranchePayment(ctx context.Context, spvID, tokenAddr, amount string) error {
	tr, ok := u.st.tranches[spvID+"|"+tokenAddr]
	if !ok {
		return nil
	}
	paid, err := addAmount(tr.Paid, amount)
	if err != nil {
		return err
	}
	tr.Paid = paid
	return nil
}

func (u *unitOfWork) LinkSPV(ctx context.Context, name, onChainID, owner, txHash string) error {
	spv, ok := u.st.spvs[name]
	if !ok {
		return nil
	}
	spv.OnChainID = onChainID
	spv.OwnerAddr = owner
	spv.TxHash = txHash
	return nil
}

func (u *unitOfWork) InsertProperty(ctx context.Context, p *domain.Property) error {
	key := p.SPVID + "|" + p.PropertyID
	if _, ok := u.st.props[key]; ok {
		return nil
	}
	cp := *p
	cp.CreatedAt = time.Now()
	u.st.props[key] = &cp
	return nil
}

func (u *unitOfWork) InsertDividend(ctx context.Context, d *domain.DividendDistribution) error {
	cp := *d
	u.st.dividends = append(u.st.dividends, &cp)
	return nil
}

func (u *unitOfWork) InsertCashflow(ctx context.Context, c *domain.CashflowDistribution) error {
	cp := *c
	u.st.cashflows = append(u.st.cashflows, &cp)
	return nil
}

func (u *unitOfWork) InsertHarvest(ctx context.Context, h *domain.VaultHarvest) error {
	cp := *h
	cp.CreatedAt = time.Now()
	u.st.harvests = append(u.st.harvests, &cp)
	return nil
}

func (u *unitOfWork) InsertLedgerEntry(ctx context.Context, e *domain.LedgerEntry) error {
	cp := *e
	u.st.ledger = append(u.st.ledger, &cp)
	return nil
}

// Read helpers for tests and local inspection.

// SeedSPV pre-creates an off-chain SPV record, standing in for the CRUD side.
func (s *Store) SeedSPV(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.spvs[name] = &domain.SPV{Name: name}
}

// Holding returns a holder's balance for a token, "0" when absent.
func (s *Store) Holding(userAddr, tokenAddr string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.st.holdings[holdingKey(userAddr, tokenAddr)]; ok {
		return h.Balance
	}
	return "0"
}

// VaultPosition returns a copy of a holder's position, nil when absent.
func (s *Store) VaultPosition(userAddr string) *domain.VaultPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.st.positions[userAddr]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// Tranches returns the tranche rows for an SPV ordered by priority.
func (s *Store) Tranches(spvID string) []*domain.Tranche {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Tranche
	for _, tr := range s.st.tranches {
		if tr.SPVID == spvID {
			cp := *tr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// SPV returns a copy of an SPV record by name, nil when absent.
func (s *Store) SPV(name string) *domain.SPV {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spv, ok := s.st.spvs[name]; ok {
		cp := *spv
		return &cp
	}
	return nil
}

// Dividends returns all recorded dividend distributions.
func (s *Store) Dividends() []*domain.DividendDistribution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.DividendDistribution(nil), s.st.dividends...)
}

// Cashflows returns all recorded cashflow distributions.
func (s *Store) Cashflows() []*domain.CashflowDistribution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.CashflowDistribution(nil), s.st.cashflows...)
}

// Harvests returns all recorded vault harvests.
func (s *Store) Harvests() []*domain.VaultHarvest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.VaultHarvest(nil), s.st.harvests...)
}

// Ledger returns all transaction ledger entries in insertion order.
func (s *Store) Ledger() []*domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.LedgerEntry(nil), s.st.ledger...)
}

// Properties returns all property rows for an SPV.
func (s *Store) Properties(spvID string) []*domain.Property {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Property
	for _, p := range s.st.props {
		if p.SPVID == spvID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// ProcessedEvent returns the marker for (txHash, eventType), nil when absent.
func (s *Store) ProcessedEvent(txHash string, et domain.EventType) *domain.ProcessedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.st.events[eventKey(txHash, et)]; ok {
		cp := *rec
		return &cp
	}
	return nil
}
