package service

import (
	"context"
	"errors"

	"github.com/getAlby/sweephub.go/db/models"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrStateConflict means another actor already transitioned the
	// record past the expected state. Callers treat it as a benign
	// idempotence collision, not a failure.
	ErrStateConflict = errors.New("invoice state changed concurrently")
)

// InvoiceStore is the keyed record store the lifecycle runs against.
// Every state change goes through a conditional update guarded by the
// expected current state, which is what makes watcher cycles and sweep
// deliveries safely repeatable.
type InvoiceStore interface {
	CreateInvoice(ctx context.Context, invoice *models.Invoice) error
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	// ListInvoices returns invoices filtered by state (all states when
	// empty), newest first.
	ListInvoices(ctx context.Context, state string, limit, offset int) ([]models.Invoice, error)
	// UpdateInvoice persists the invoice's current field values, but only
	// if the stored record's state is still one of fromStates. Returns
	// ErrStateConflict otherwise.
	UpdateInvoice(ctx context.Context, invoice *models.Invoice, fromStates ...string) error
	// DeleteInvoice removes the record only while its state is one of
	// allowedStates. Returns ErrStateConflict otherwise.
	DeleteInvoice(ctx context.Context, id string, allowedStates ...string) error
	// NextDerivationIndex atomically increments the per-family counter
	// and returns the freshly assigned index, starting at 0. Indices are
	// never reused.
	NextDerivationIndex(ctx context.Context, family string) (uint64, error)
}
