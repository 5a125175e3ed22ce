// Package gateway is the single point of contact with the blockchain network.
// It wraps read and write calls to the hackathon registry and prize pool
// contracts, owns gas estimation and signing, and normalizes RPC failures
// into the engine's error taxonomy.
package gateway

import (
	"context"
	"math/big"
)

// PrizePoolState is the on-chain view of a hackathon's escrowed prize pool
type PrizePoolState struct {
	TotalAmount   *big.Int
	IsDistributed bool
	FirstPlace    string
	SecondPlace   string
	ThirdPlace    string
}

// Receipt is the confirmation state of a broadcast transaction
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Reverted    bool
	GasUsed     uint64
}

// GasOverrides carries admin-supplied gas parameters for a force retry.
// Nil fields fall back to automatic estimation.
type GasOverrides struct {
	GasPrice *big.Int // wei
	GasLimit uint64
}

// Gateway defines the chain operations the engine depends on.
//
// SubmitDistribution returns after broadcast, not after confirmation. It
// returns the signed transaction hash even when broadcast fails, because a
// transaction can land despite an apparent submission error; callers must
// treat a write error as an unknown outcome and verify via receipts.
type Gateway interface {
	// ReadPrizePool reads the prize pool contract state. Pure read; failures
	// wrap errors.ErrChainRead and may be retried by the caller.
	ReadPrizePool(ctx context.Context, hackathonID int64) (*PrizePoolState, error)

	// WinnersFinalized reads the hackathon registry to check whether winner
	// finalization has been recorded on-chain.
	WinnersFinalized(ctx context.Context, hackathonID int64) (bool, error)

	// SubmitDistribution signs and broadcasts a prize transfer. recipients and
	// amounts must have equal length. The returned hash is non-empty whenever
	// the transaction was signed, including on ambiguous broadcast errors.
	SubmitDistribution(ctx context.Context, hackathonID int64, recipients []string, amounts []*big.Int, overrides *GasOverrides) (string, error)

	// EstimateGas estimates gas for a distribution call. Estimation failures
	// are recovered locally with a conservative fallback; this never blocks a
	// legitimate distribution attempt.
	EstimateGas(ctx context.Context, hackathonID int64, recipients []string, amounts []*big.Int) uint64

	// TransactionReceipt fetches the receipt for a broadcast transaction.
	// Returns errors.ErrReceiptNotFound while the transaction is unmined.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// CurrentBlock returns the latest block number, used for confirmation depth
	CurrentBlock(ctx context.Context) (uint64, error)

	// ReadOnly reports whether the gateway lacks a signing key
	ReadOnly() bool
}
