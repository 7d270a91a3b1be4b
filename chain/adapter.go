// Package chain isolates the invoice state machine from chain-specific
// transaction encoding. Both asset families answer the same five questions:
// what does an address hold, how precise is the asset, what does a sweep
// cost, submit the sweep, and submit a fee top-up.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/getAlby/sweephub.go/keywallet"
)

var (
	// ErrRPCUnavailable marks transient node errors. The next watcher
	// cycle or sweep redelivery retries them.
	ErrRPCUnavailable = errors.New("chain rpc unavailable")
	// ErrInsufficientFunds means the signer cannot cover amount plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds for amount plus fee")
	// ErrSubmissionRejected is a node-level rejection (malformed tx,
	// nonce or sequence conflict). Not retryable as-is.
	ErrSubmissionRejected = errors.New("transaction rejected by node")
	// ErrConfirmationTimeout means the transaction was submitted but not
	// observed as confirmed within the bounded wait.
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
)

// Asset identifies what an invoice is denominated in. Mint is the token
// contract/mint reference and is set iff the family is token.
type Asset struct {
	Family string
	Mint   string
}

// SweepEstimate is the fee-currency funding a deposit address needs
// before its balance can be moved to the treasury.
type SweepEstimate struct {
	// Required fee-currency base units the sending address must hold.
	Required *big.Int
	// NeedsDestAccount is set when the treasury's token account does not
	// exist yet and Required includes its rent-exemption minimum.
	NeedsDestAccount bool
}

// SweepResult reports the submitted and confirmed sweep transfer.
type SweepResult struct {
	TxID string
	// Amount actually transferred, in asset base units.
	Amount *big.Int
}

// Adapter is the uniform surface over one asset family. Implementations
// wrap a single RPC endpoint plus the operator hot wallet and treasury
// for that chain. All methods block on RPC and honor ctx deadlines.
type Adapter interface {
	// GetBalance returns the asset balance at address in base units.
	// A token account that does not exist yet is a valid zero state,
	// not an error.
	GetBalance(ctx context.Context, address string, asset Asset) (*big.Int, error)

	// GetFeeBalance returns the chain's native fee-currency balance at
	// address, in base units.
	GetFeeBalance(ctx context.Context, address string) (*big.Int, error)

	// GetDecimals reads the asset's decimal precision. For tokens this
	// comes from the on-chain mint metadata, never from stored invoice
	// data.
	GetDecimals(ctx context.Context, asset Asset) (uint8, error)

	// EstimateSweep prices the sweep of the full asset balance at from
	// to the treasury.
	EstimateSweep(ctx context.Context, from string, asset Asset) (*SweepEstimate, error)

	// SubmitSweep signs, submits and waits for confirmation of the sweep
	// of the full asset balance at the signer's address to the treasury.
	SubmitSweep(ctx context.Context, signer *keywallet.Signer, asset Asset) (*SweepResult, error)

	// SubmitTopUp transfers fee currency from the operator hot wallet to
	// the given address and waits for confirmation.
	SubmitTopUp(ctx context.Context, to string, amount *big.Int) (string, error)
}
