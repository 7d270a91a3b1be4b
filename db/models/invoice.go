package models

import (
	"context"
	"fmt"
	"time"

	"github.com/getAlby/sweephub.go/common"
	"github.com/uptrace/bun"
)

// Invoice : Deposit invoice model
type Invoice struct {
	ID              string       `json:"id" bun:",pk"`
	DerivationIndex uint64       `json:"derivation_index"`
	DerivationPath  string       `json:"derivation_path" bun:",notnull"`
	Address         string       `json:"address" bun:",notnull,unique"`
	AssetFamily     string       `json:"asset_family" validate:"required"`
	TokenMint       string       `json:"token_mint,omitempty" bun:",nullzero"`
	TokenSymbol     string       `json:"token_symbol,omitempty" bun:",nullzero"`
	Amount          string       `json:"amount" validate:"required"`
	State           string       `json:"state" bun:",default:'pending'"`
	SweepTxID       string       `json:"sweep_tx_id,omitempty" bun:",nullzero"`
	ErrorMessage    string       `json:"error_message,omitempty" bun:",nullzero"`
	CreatedAt       time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	PaidAt          bun.NullTime `json:"paid_at"`
	SweptAt         bun.NullTime `json:"swept_at"`
	UpdatedAt       bun.NullTime `json:"updated_at"`
}

func (i *Invoice) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		i.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*Invoice)(nil)

// transitions is the authoritative table of legal state changes.
// Everything not listed here is rejected, regardless of which actor asks.
var transitions = map[string][]string{
	common.InvoiceStatePending:   {common.InvoiceStatePaid, common.InvoiceStateCancelled},
	common.InvoiceStateCancelled: {common.InvoiceStatePending},
	common.InvoiceStatePaid:      {common.InvoiceStateSwept},
	common.InvoiceStateSwept:     {},
}

// CanTransition reports whether moving an invoice from one state to
// another is legal. A paid invoice cannot be cancelled and nothing
// leaves the swept state.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DeletableStates lists the states an invoice may be deleted from.
// Once funds arrived the record is the audit trail and must stay.
var DeletableStates = []string{common.InvoiceStatePending, common.InvoiceStateCancelled}

func Deletable(state string) bool {
	for _, s := range DeletableStates {
		if s == state {
			return true
		}
	}
	return false
}

// PaymentURI renders the shareable payment descriptor for the invoice,
// in the URI scheme compatible wallets understand for the asset family.
func (i *Invoice) PaymentURI() string {
	if i.AssetFamily == common.AssetFamilyToken {
		return fmt.Sprintf("%s:%s?amount=%s&spl-token=%s", common.PaymentSchemeToken, i.Address, i.Amount, i.TokenMint)
	}
	return fmt.Sprintf("%s:%s?amount=%s", common.PaymentSchemeNative, i.Address, i.Amount)
}

// IsPaid is true once funds have been detected, whether or not they
// have been swept yet.
func (i *Invoice) IsPaid() bool {
	return i.State == common.InvoiceStatePaid || i.State == common.InvoiceStateSwept
}
