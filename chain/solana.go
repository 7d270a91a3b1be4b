package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	sweephub "github.com/getAlby/sweephub.go/common"
	"github.com/getAlby/sweephub.go/keywallet"
)

const (
	solNativeDecimals = 9
	// size of an SPL token account, used for rent-exemption pricing
	tokenAccountSize = uint64(165)
	// base fee per signature. The rent-exemption minimum does NOT cover
	// this, so it is priced explicitly on top of any account creation.
	lamportsPerSignature = uint64(5000)
)

// SolanaChain is the token-family adapter. Deposit addresses receive SPL
// tokens but hold no SOL of their own, so a sweep usually needs a fee
// top-up from the operator hot wallet first.
type SolanaChain struct {
	client         *rpc.Client
	treasury       solana.PublicKey
	operator       solana.PrivateKey
	confirmTimeout time.Duration

	// serializes hot wallet submissions to keep its sequence state simple
	operatorMu sync.Mutex
}

func NewSolanaChain(rpcURL string, treasury string, operator solana.PrivateKey, confirmTimeout time.Duration) (*SolanaChain, error) {
	treasuryKey, err := solana.PublicKeyFromBase58(treasury)
	if err != nil {
		return nil, fmt.Errorf("invalid treasury address %q: %w", treasury, err)
	}
	return &SolanaChain{
		client:         rpc.New(rpcURL),
		treasury:       treasuryKey,
		operator:       operator,
		confirmTimeout: confirmTimeout,
	}, nil
}

func (s *SolanaChain) GetBalance(ctx context.Context, address string, asset Asset) (*big.Int, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}

	if asset.Family == sweephub.AssetFamilyNative {
		return s.GetFeeBalance(ctx, address)
	}

	mint, err := solana.PublicKeyFromBase58(asset.Mint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint %q: %w", asset.Mint, err)
	}
	account, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("derive token account: %w", err)
	}

	result, err := s.client.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		// a token account that was never funded does not exist yet,
		// which is a valid zero balance and not a failure
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "could not find account") {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("%w: token balance of %s: %s", ErrRPCUnavailable, address, err)
	}

	amount, ok := new(big.Int).SetString(result.Value.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("malformed token balance %q", result.Value.Amount)
	}
	return amount, nil
}

func (s *SolanaChain) GetFeeBalance(ctx context.Context, address string) (*big.Int, error) {
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	result, err := s.client.GetBalance(ctx, key, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("%w: balance of %s: %s", ErrRPCUnavailable, address, err)
	}
	return new(big.Int).SetUint64(result.Value), nil
}

// GetDecimals reads precision from the mint itself. Invoice-stored values
// are display-only and deliberately not trusted here.
func (s *SolanaChain) GetDecimals(ctx context.Context, asset Asset) (uint8, error) {
	if asset.Family == sweephub.AssetFamilyNative {
		return solNativeDecimals, nil
	}
	mint, err := solana.PublicKeyFromBase58(asset.Mint)
	if err != nil {
		return 0, fmt.Errorf("invalid token mint %q: %w", asset.Mint, err)
	}
	supply, err := s.client.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("%w: token supply of %s: %s", ErrRPCUnavailable, asset.Mint, err)
	}
	return supply.Value.Decimals, nil
}

// EstimateSweep prices what the deposit address must hold in SOL: the
// transfer signature fee, plus the treasury token account's rent
// exemption when that account still has to be created.
func (s *SolanaChain) EstimateSweep(ctx context.Context, from string, asset Asset) (*SweepEstimate, error) {
	if asset.Family != sweephub.AssetFamilyToken {
		return nil, fmt.Errorf("unsupported asset family %q for solana adapter", asset.Family)
	}
	mint, err := solana.PublicKeyFromBase58(asset.Mint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint %q: %w", asset.Mint, err)
	}

	required := new(big.Int).SetUint64(lamportsPerSignature)

	destAccount, _, err := solana.FindAssociatedTokenAddress(s.treasury, mint)
	if err != nil {
		return nil, fmt.Errorf("derive treasury token account: %w", err)
	}
	exists, err := s.accountExists(ctx, destAccount)
	if err != nil {
		return nil, err
	}
	if exists {
		return &SweepEstimate{Required: required}, nil
	}

	rent, err := s.client.GetMinimumBalanceForRentExemption(ctx, tokenAccountSize, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("%w: rent exemption: %s", ErrRPCUnavailable, err)
	}
	required.Add(required, new(big.Int).SetUint64(rent))
	return &SweepEstimate{Required: required, NeedsDestAccount: true}, nil
}

// SubmitSweep moves the full token balance of the signer's deposit
// address to the treasury, creating the treasury's token account in the
// same transaction when it does not exist yet.
func (s *SolanaChain) SubmitSweep(ctx context.Context, signer *keywallet.Signer, asset Asset) (*SweepResult, error) {
	if signer.Token == nil {
		return nil, fmt.Errorf("signer has no ed25519 key")
	}
	owner := signer.Token.PublicKey()

	mint, err := solana.PublicKeyFromBase58(asset.Mint)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint %q: %w", asset.Mint, err)
	}

	balance, err := s.GetBalance(ctx, owner.String(), asset)
	if err != nil {
		return nil, err
	}
	if balance.Sign() <= 0 || !balance.IsUint64() {
		return nil, fmt.Errorf("%w: no token balance to sweep at %s", ErrInsufficientFunds, owner)
	}

	decimals, err := s.GetDecimals(ctx, asset)
	if err != nil {
		return nil, err
	}

	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("derive token account: %w", err)
	}
	destination, _, err := solana.FindAssociatedTokenAddress(s.treasury, mint)
	if err != nil {
		return nil, fmt.Errorf("derive treasury token account: %w", err)
	}

	instructions := []solana.Instruction{}
	exists, err := s.accountExists(ctx, destination)
	if err != nil {
		return nil, err
	}
	if !exists {
		instructions = append(instructions,
			associatedtokenaccount.NewCreateInstruction(owner, s.treasury, mint).Build())
	}
	instructions = append(instructions,
		token.NewTransferCheckedInstruction(balance.Uint64(), decimals, source, mint, destination, owner, nil).Build())

	sig, err := s.submit(ctx, instructions, owner, &signer.Token)
	if err != nil {
		return nil, err
	}
	return &SweepResult{TxID: sig.String(), Amount: balance}, nil
}

func (s *SolanaChain) SubmitTopUp(ctx context.Context, to string, amount *big.Int) (string, error) {
	destination, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", to, err)
	}
	if !amount.IsUint64() {
		return "", fmt.Errorf("top-up amount %s out of range", amount)
	}

	s.operatorMu.Lock()
	defer s.operatorMu.Unlock()

	operatorKey := s.operator.PublicKey()
	balance, err := s.GetFeeBalance(ctx, operatorKey.String())
	if err != nil {
		return "", err
	}
	needed := new(big.Int).Add(amount, new(big.Int).SetUint64(lamportsPerSignature))
	if balance.Cmp(needed) < 0 {
		return "", fmt.Errorf("%w: hot wallet holds %s lamports, top-up needs %s", ErrInsufficientFunds, balance, needed)
	}

	instructions := []solana.Instruction{
		system.NewTransferInstruction(amount.Uint64(), operatorKey, destination).Build(),
	}
	sig, err := s.submit(ctx, instructions, operatorKey, &s.operator)
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

func (s *SolanaChain) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	_, err := s.client.GetAccountInfo(ctx, account)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: account info of %s: %s", ErrRPCUnavailable, account, err)
	}
	return true, nil
}

func (s *SolanaChain) submit(ctx context.Context, instructions []solana.Instruction, payer solana.PublicKey, key *solana.PrivateKey) (solana.Signature, error) {
	blockhash, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: latest blockhash: %s", ErrRPCUnavailable, err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build tx: %w", err)
	}
	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(key.PublicKey()) {
			return key
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign tx: %w", err)
	}

	sig, err := s.client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %s", ErrSubmissionRejected, err)
	}

	if err := s.waitConfirmed(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// waitConfirmed polls signature status with exponential backoff, bounded
// by the configured confirmation timeout.
func (s *SolanaChain) waitConfirmed(ctx context.Context, sig solana.Signature) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = s.confirmTimeout

	err := backoff.Retry(func() error {
		status, err := s.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if len(status.Value) == 0 || status.Value[0] == nil {
			return fmt.Errorf("tx %s not observed yet", sig)
		}
		if status.Value[0].Err != nil {
			return backoff.Permanent(fmt.Errorf("%w: tx %s failed on chain: %v", ErrSubmissionRejected, sig, status.Value[0].Err))
		}
		switch status.Value[0].ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return nil
		default:
			return fmt.Errorf("tx %s still processing", sig)
		}
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		if errors.Is(err, ErrSubmissionRejected) {
			return err
		}
		return fmt.Errorf("%w: tx %s: %v", ErrConfirmationTimeout, sig, err)
	}
	return nil
}
