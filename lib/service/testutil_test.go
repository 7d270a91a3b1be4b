package service

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/getAlby/sweephub.go/chain"
	"github.com/getAlby/sweephub.go/db/models"
	"github.com/getAlby/sweephub.go/keywallet"
	"github.com/getAlby/sweephub.go/lib"
)

// memStore is an in-memory InvoiceStore with the same conditional-update
// semantics as the Postgres store.
type memStore struct {
	mu       sync.Mutex
	invoices map[string]*models.Invoice
	order    []string
	next     map[string]uint64
}

func newMemStore() *memStore {
	return &memStore{
		invoices: make(map[string]*models.Invoice),
		next:     make(map[string]uint64),
	}
}

func (s *memStore) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[invoice.ID]; ok {
		return fmt.Errorf("duplicate invoice id %s", invoice.ID)
	}
	for _, existing := range s.invoices {
		if existing.Address == invoice.Address {
			return fmt.Errorf("duplicate address %s", invoice.Address)
		}
	}
	cp := *invoice
	s.invoices[invoice.ID] = &cp
	s.order = append(s.order, invoice.ID)
	return nil
}

func (s *memStore) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoice, ok := s.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *invoice
	return &cp, nil
}

func (s *memStore) ListInvoices(ctx context.Context, state string, limit, offset int) ([]models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := []models.Invoice{}
	for _, id := range s.order {
		invoice, ok := s.invoices[id]
		if !ok {
			continue
		}
		if state != "" && invoice.State != state {
			continue
		}
		result = append(result, *invoice)
	}
	if offset > 0 {
		if offset > len(result) {
			offset = len(result)
		}
		result = result[offset:]
	}
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *memStore) UpdateInvoice(ctx context.Context, invoice *models.Invoice, fromStates ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.invoices[invoice.ID]
	if !ok {
		return ErrStateConflict
	}
	if !contains(fromStates, current.State) {
		return ErrStateConflict
	}
	cp := *invoice
	s.invoices[invoice.ID] = &cp
	return nil
}

func (s *memStore) DeleteInvoice(ctx context.Context, id string, allowedStates ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	if !contains(allowedStates, current.State) {
		return ErrStateConflict
	}
	delete(s.invoices, id)
	return nil
}

func (s *memStore) NextDerivationIndex(ctx context.Context, family string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next[family]
	s.next[family] = n + 1
	return n, nil
}

func contains(states []string, state string) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// mockAdapter is a scriptable chain.Adapter.
type mockAdapter struct {
	mu sync.Mutex

	decimals    uint8
	balances    map[string]*big.Int
	feeBalances map[string]*big.Int
	estimate    chain.SweepEstimate

	balanceErr  map[string]error
	decimalsErr error
	sweepErr    error
	topUpLost   bool

	sweepResult *chain.SweepResult

	submittedSweeps []string
	topUps          []*big.Int
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{
		balances:    make(map[string]*big.Int),
		feeBalances: make(map[string]*big.Int),
		balanceErr:  make(map[string]error),
	}
}

func (m *mockAdapter) GetBalance(ctx context.Context, address string, asset chain.Asset) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.balanceErr[address]; err != nil {
		return nil, err
	}
	balance, ok := m.balances[address]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (m *mockAdapter) GetFeeBalance(ctx context.Context, address string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.feeBalances[address]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (m *mockAdapter) GetDecimals(ctx context.Context, asset chain.Asset) (uint8, error) {
	if m.decimalsErr != nil {
		return 0, m.decimalsErr
	}
	return m.decimals, nil
}

func (m *mockAdapter) EstimateSweep(ctx context.Context, from string, asset chain.Asset) (*chain.SweepEstimate, error) {
	estimate := m.estimate
	estimate.Required = new(big.Int).Set(m.estimate.Required)
	return &estimate, nil
}

func (m *mockAdapter) SubmitSweep(ctx context.Context, signer *keywallet.Signer, asset chain.Asset) (*chain.SweepResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepErr != nil {
		return nil, m.sweepErr
	}
	m.submittedSweeps = append(m.submittedSweeps, signer.Address)
	return m.sweepResult, nil
}

func (m *mockAdapter) SubmitTopUp(ctx context.Context, to string, amount *big.Int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topUps = append(m.topUps, new(big.Int).Set(amount))
	if !m.topUpLost {
		balance, ok := m.feeBalances[to]
		if !ok {
			balance = big.NewInt(0)
		}
		m.feeBalances[to] = new(big.Int).Add(balance, amount)
	}
	return "topup-tx", nil
}

var testSeed = bytes.Repeat([]byte{0x42}, 64)

func newTestService(adapters map[string]chain.Adapter) *SweepService {
	wallet, err := keywallet.New(testSeed)
	if err != nil {
		panic(err)
	}
	return &SweepService{
		Config:        &Config{WatchIntervalSeconds: 1, ConfirmTimeoutSeconds: 1},
		Store:         newMemStore(),
		Wallet:        wallet,
		Adapters:      adapters,
		Logger:        lib.Logger(""),
		InvoicePubSub: NewPubsub(),
	}
}
