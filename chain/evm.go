package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	sweephub "github.com/getAlby/sweephub.go/common"
	"github.com/getAlby/sweephub.go/keywallet"
)

const (
	evmNativeDecimals = 18
	// gas for a plain value transfer
	evmTransferGas = uint64(21000)
)

// EVMChain is the native-family adapter. Deposit addresses hold the
// chain's own coin, so a sweep pays its fee out of the swept balance and
// never needs a top-up in practice. SubmitTopUp is still supported for
// operational refills.
type EVMChain struct {
	client         *ethclient.Client
	chainID        *big.Int
	treasury       common.Address
	operator       *ecdsa.PrivateKey
	confirmTimeout time.Duration

	// the hot wallet nonce is shared mutable state, top-ups are serialized
	operatorMu sync.Mutex
}

func NewEVMChain(ctx context.Context, rpcURL string, chainID int64, treasury string, operator *ecdsa.PrivateKey, confirmTimeout time.Duration) (*EVMChain, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %s", ErrRPCUnavailable, rpcURL, err)
	}
	if !common.IsHexAddress(treasury) {
		return nil, fmt.Errorf("invalid treasury address %q", treasury)
	}
	return &EVMChain{
		client:         client,
		chainID:        big.NewInt(chainID),
		treasury:       common.HexToAddress(treasury),
		operator:       operator,
		confirmTimeout: confirmTimeout,
	}, nil
}

func (e *EVMChain) GetBalance(ctx context.Context, address string, asset Asset) (*big.Int, error) {
	if asset.Family != sweephub.AssetFamilyNative {
		return nil, fmt.Errorf("unsupported asset family %q for evm adapter", asset.Family)
	}
	return e.GetFeeBalance(ctx, address)
}

func (e *EVMChain) GetFeeBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	balance, err := e.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balance of %s: %s", ErrRPCUnavailable, address, err)
	}
	return balance, nil
}

func (e *EVMChain) GetDecimals(ctx context.Context, asset Asset) (uint8, error) {
	if asset.Family != sweephub.AssetFamilyNative {
		return 0, fmt.Errorf("unsupported asset family %q for evm adapter", asset.Family)
	}
	return evmNativeDecimals, nil
}

func (e *EVMChain) EstimateSweep(ctx context.Context, from string, asset Asset) (*SweepEstimate, error) {
	_, feeCap, err := e.suggestFees(ctx)
	if err != nil {
		return nil, err
	}
	return &SweepEstimate{Required: TransferFee(feeCap, evmTransferGas)}, nil
}

// SubmitSweep drains the deposit address: it transfers balance minus the
// current fee to the treasury, bringing the address to zero.
func (e *EVMChain) SubmitSweep(ctx context.Context, signer *keywallet.Signer, asset Asset) (*SweepResult, error) {
	if signer.Native == nil {
		return nil, fmt.Errorf("signer has no secp256k1 key")
	}
	from := crypto.PubkeyToAddress(signer.Native.PublicKey)

	balance, err := e.client.BalanceAt(ctx, from, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: balance of %s: %s", ErrRPCUnavailable, from.Hex(), err)
	}

	tip, feeCap, err := e.suggestFees(ctx)
	if err != nil {
		return nil, err
	}
	amount := SweepAmount(balance, feeCap, evmTransferGas)
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: balance %s cannot cover fee %s",
			ErrInsufficientFunds, balance, TransferFee(feeCap, evmTransferGas))
	}

	txID, err := e.transfer(ctx, signer.Native, from, e.treasury, amount, tip, feeCap)
	if err != nil {
		return nil, err
	}
	return &SweepResult{TxID: txID, Amount: amount}, nil
}

func (e *EVMChain) SubmitTopUp(ctx context.Context, to string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid address %q", to)
	}
	e.operatorMu.Lock()
	defer e.operatorMu.Unlock()

	from := crypto.PubkeyToAddress(e.operator.PublicKey)
	balance, err := e.client.BalanceAt(ctx, from, nil)
	if err != nil {
		return "", fmt.Errorf("%w: hot wallet balance: %s", ErrRPCUnavailable, err)
	}
	tip, feeCap, err := e.suggestFees(ctx)
	if err != nil {
		return "", err
	}
	needed := new(big.Int).Add(amount, TransferFee(feeCap, evmTransferGas))
	if balance.Cmp(needed) < 0 {
		return "", fmt.Errorf("%w: hot wallet holds %s, top-up needs %s", ErrInsufficientFunds, balance, needed)
	}

	return e.transfer(ctx, e.operator, from, common.HexToAddress(to), amount, tip, feeCap)
}

// suggestFees returns (tip, feeCap) for an EIP-1559 transfer: the node's
// suggested tip plus twice the current base fee as headroom.
func (e *EVMChain) suggestFees(ctx context.Context) (tip, feeCap *big.Int, err error) {
	tip, err = e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: suggest gas tip: %s", ErrRPCUnavailable, err)
	}
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: chain head: %s", ErrRPCUnavailable, err)
	}
	feeCap = new(big.Int).Add(
		new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
		tip,
	)
	return tip, feeCap, nil
}

func (e *EVMChain) transfer(ctx context.Context, key *ecdsa.PrivateKey, from, to common.Address, amount, tip, feeCap *big.Int) (string, error) {
	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("%w: pending nonce: %s", ErrRPCUnavailable, err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       evmTransferGas,
		To:        &to,
		Value:     amount,
	})

	signedTx, err := types.SignTx(tx, types.NewLondonSigner(e.chainID), key)
	if err != nil {
		return "", fmt.Errorf("sign tx: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("%w: %s", ErrSubmissionRejected, err)
	}

	if err := e.waitMined(ctx, signedTx.Hash()); err != nil {
		return "", err
	}
	return signedTx.Hash().Hex(), nil
}

// waitMined polls for the receipt with exponential backoff, bounded by
// the configured confirmation timeout.
func (e *EVMChain) waitMined(ctx context.Context, hash common.Hash) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = e.confirmTimeout

	err := backoff.Retry(func() error {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == ethereum.NotFound {
			return fmt.Errorf("tx %s not mined yet", hash.Hex())
		}
		if err != nil {
			return err
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return backoff.Permanent(fmt.Errorf("%w: tx %s reverted", ErrSubmissionRejected, hash.Hex()))
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if errors.Is(err, ErrSubmissionRejected) {
			return err
		}
		return fmt.Errorf("%w: tx %s: %v", ErrConfirmationTimeout, hash.Hex(), err)
	}
	return nil
}

// TransferFee is the fee-currency cost of one transfer at the given fee cap.
func TransferFee(feeCap *big.Int, gas uint64) *big.Int {
	return new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gas))
}

// SweepAmount is what a full drain of balance can transfer after fees.
// A zero or negative result means the balance cannot pay its own way out.
func SweepAmount(balance, feeCap *big.Int, gas uint64) *big.Int {
	return new(big.Int).Sub(balance, TransferFee(feeCap, gas))
}
