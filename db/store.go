package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/getAlby/sweephub.go/db/models"
	"github.com/getAlby/sweephub.go/lib/service"
	"github.com/uptrace/bun"
)

// Store implements service.InvoiceStore on top of Postgres.
//
// All state changes are conditional updates guarded by the expected
// current state. Postgres serializes the row writes, so concurrent
// watcher and sweeper runs resolve to exactly one winner and the
// losers see service.ErrStateConflict.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

var _ service.InvoiceStore = (*Store)(nil)

func (s *Store) CreateInvoice(ctx context.Context, invoice *models.Invoice) error {
	_, err := s.db.NewInsert().Model(invoice).Exec(ctx)
	return err
}

func (s *Store) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.db.NewSelect().Model(&invoice).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, service.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, state string, limit, offset int) ([]models.Invoice, error) {
	invoices := []models.Invoice{}
	query := s.db.NewSelect().Model(&invoices).Order("created_at DESC").Limit(limit).Offset(offset)
	if state != "" {
		query.Where("state = ?", state)
	}
	err := query.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, invoice *models.Invoice, fromStates ...string) error {
	result, err := s.db.NewUpdate().Model(invoice).
		WherePK().
		Where("state IN (?)", bun.In(fromStates)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return service.ErrStateConflict
	}
	return nil
}

func (s *Store) DeleteInvoice(ctx context.Context, id string, allowedStates ...string) error {
	result, err := s.db.NewDelete().Model((*models.Invoice)(nil)).
		Where("id = ?", id).
		Where("state IN (?)", bun.In(allowedStates)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the record is gone or its state moved on. Distinguish so
		// callers can 404 missing records instead of rejecting them.
		exists, err := s.db.NewSelect().Model((*models.Invoice)(nil)).Where("id = ?", id).Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return service.ErrInvoiceNotFound
		}
		return service.ErrStateConflict
	}
	return nil
}

func (s *Store) NextDerivationIndex(ctx context.Context, family string) (uint64, error) {
	counter := models.DerivationCounter{Family: family, N: 0}
	// RETURNING scans the assigned value back into the model, so the whole
	// allocation is one atomic statement
	_, err := s.db.NewInsert().Model(&counter).
		On("CONFLICT (family) DO UPDATE").
		Set("n = derivation_counters.n + 1").
		Returning("n").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return counter.N, nil
}
