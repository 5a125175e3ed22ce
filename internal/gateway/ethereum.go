package gateway

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/prize-distributor/internal/circuitbreaker"
	"github.com/prize-distributor/internal/config"
	apperrors "github.com/prize-distributor/internal/errors"
	"github.com/prize-distributor/internal/logging"
)

// Minimal ABI fragments for the two platform contracts
const prizePoolABI = `[
	{"name":"getPrizePool","type":"function","stateMutability":"view",
	 "inputs":[{"name":"hackathonId","type":"uint256"}],
	 "outputs":[{"name":"totalAmount","type":"uint256"},{"name":"isDistributed","type":"bool"},
	            {"name":"firstPlace","type":"address"},{"name":"secondPlace","type":"address"},
	            {"name":"thirdPlace","type":"address"}]},
	{"name":"distributePrizes","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"hackathonId","type":"uint256"},{"name":"recipients","type":"address[]"},
	           {"name":"amounts","type":"uint256[]"}],
	 "outputs":[]}
]`

const registryABI = `[
	{"name":"winnersFinalized","type":"function","stateMutability":"view",
	 "inputs":[{"name":"hackathonId","type":"uint256"}],
	 "outputs":[{"name":"finalized","type":"bool"}]}
]`

// EthereumGateway implements Gateway over a JSON-RPC endpoint
type EthereumGateway struct {
	client       *ethclient.Client
	chainID      *big.Int
	prizePool    common.Address
	registry     common.Address
	poolABI      abi.ABI
	registryAbi  abi.ABI
	operatorKey  *ecdsa.PrivateKey
	operatorAddr common.Address
	gasBase      uint64
	gasPerRecip  uint64
	limiter      *rate.Limiter
	writeBreaker *circuitbreaker.Breaker
	logger       *logging.Logger
}

// NewEthereumGateway dials the RPC endpoint and prepares contract bindings.
// A missing operator key degrades to read-only mode rather than failing.
func NewEthereumGateway(cfg *config.ChainConfig, logger *logging.Logger) (*EthereumGateway, error) {
	if cfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("chain RPC endpoint is required")
	}
	if cfg.PrizePoolContract == "" {
		return nil, fmt.Errorf("prize pool contract address is required")
	}

	client, err := ethclient.Dial(cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC endpoint: %w", err)
	}

	poolABI, err := abi.JSON(strings.NewReader(prizePoolABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse prize pool ABI: %w", err)
	}
	regABI, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry ABI: %w", err)
	}

	g := &EthereumGateway{
		client:       client,
		chainID:      big.NewInt(cfg.ChainID),
		prizePool:    common.HexToAddress(cfg.PrizePoolContract),
		registry:     common.HexToAddress(cfg.RegistryContract),
		poolABI:      poolABI,
		registryAbi:  regABI,
		gasBase:      cfg.GasBase,
		gasPerRecip:  cfg.GasPerRecipient,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.RequestBurst),
		writeBreaker: circuitbreaker.New(circuitbreaker.DefaultConfig("chain-writes")),
		logger:       logger.WithComponent("gateway"),
	}

	if cfg.OperatorKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid operator private key: %w", err)
		}
		g.operatorKey = key
		g.operatorAddr = crypto.PubkeyToAddress(key.PublicKey)
		g.logger.WithField("operator", g.operatorAddr.Hex()).Info("gateway initialized with signing key")
	} else {
		g.logger.Warn("no operator key configured, gateway is read-only")
	}

	return g, nil
}

// ReadOnly reports whether the gateway lacks a signing key
func (g *EthereumGateway) ReadOnly() bool {
	return g.operatorKey == nil
}

// Close releases the RPC connection
func (g *EthereumGateway) Close() {
	g.client.Close()
}

// ReadPrizePool reads the prize pool contract state for a hackathon
func (g *EthereumGateway) ReadPrizePool(ctx context.Context, hackathonID int64) (*PrizePoolState, error) {
	data, err := g.poolABI.Pack("getPrizePool", big.NewInt(hackathonID))
	if err != nil {
		return nil, apperrors.NewGatewayError("ReadPrizePool", err, nil)
	}

	out, err := g.call(ctx, g.prizePool, data)
	if err != nil {
		return nil, apperrors.NewGatewayError("ReadPrizePool",
			fmt.Errorf("%w: %v", apperrors.ErrChainRead, err),
			map[string]interface{}{"hackathonId": hackathonID})
	}

	vals, err := g.poolABI.Unpack("getPrizePool", out)
	if err != nil || len(vals) != 5 {
		return nil, apperrors.NewGatewayError("ReadPrizePool",
			fmt.Errorf("%w: unexpected return data", apperrors.ErrChainRead),
			map[string]interface{}{"hackathonId": hackathonID})
	}

	return &PrizePoolState{
		TotalAmount:   vals[0].(*big.Int),
		IsDistributed: vals[1].(bool),
		FirstPlace:    vals[2].(common.Address).Hex(),
		SecondPlace:   vals[3].(common.Address).Hex(),
		ThirdPlace:    vals[4].(common.Address).Hex(),
	}, nil
}

// WinnersFinalized reads the hackathon registry's finalization flag
func (g *EthereumGateway) WinnersFinalized(ctx context.Context, hackathonID int64) (bool, error) {
	if g.registry == (common.Address{}) {
		// No registry configured; finalization is vouched for by the caller.
		return true, nil
	}

	data, err := g.registryAbi.Pack("winnersFinalized", big.NewInt(hackathonID))
	if err != nil {
		return false, apperrors.NewGatewayError("WinnersFinalized", err, nil)
	}

	out, err := g.call(ctx, g.registry, data)
	if err != nil {
		return false, apperrors.NewGatewayError("WinnersFinalized",
			fmt.Errorf("%w: %v", apperrors.ErrChainRead, err),
			map[string]interface{}{"hackathonId": hackathonID})
	}

	vals, err := g.registryAbi.Unpack("winnersFinalized", out)
	if err != nil || len(vals) != 1 {
		return false, apperrors.NewGatewayError("WinnersFinalized",
			fmt.Errorf("%w: unexpected return data", apperrors.ErrChainRead), nil)
	}
	return vals[0].(bool), nil
}

// SubmitDistribution signs and broadcasts a distributePrizes transaction.
// The signed hash is returned even on a broadcast error so the monitor can
// later determine whether the transaction landed anyway.
func (g *EthereumGateway) SubmitDistribution(ctx context.Context, hackathonID int64, recipients []string, amounts []*big.Int, overrides *GasOverrides) (string, error) {
	if len(recipients) != len(amounts) {
		return "", apperrors.NewGatewayError("SubmitDistribution",
			fmt.Errorf("%w: recipients (%d) and amounts (%d) length mismatch",
				apperrors.ErrInvalidArgument, len(recipients), len(amounts)), nil)
	}
	if g.operatorKey == nil {
		return "", apperrors.NewGatewayError("SubmitDistribution", apperrors.ErrReadOnlyGateway, nil)
	}

	addrs := make([]common.Address, len(recipients))
	for i, r := range recipients {
		addrs[i] = common.HexToAddress(r)
	}

	data, err := g.poolABI.Pack("distributePrizes", big.NewInt(hackathonID), addrs, amounts)
	if err != nil {
		return "", apperrors.NewGatewayError("SubmitDistribution", err, nil)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", apperrors.NewGatewayError("SubmitDistribution", err, nil)
	}

	nonce, err := g.client.PendingNonceAt(ctx, g.operatorAddr)
	if err != nil {
		return "", apperrors.NewGatewayError("SubmitDistribution",
			fmt.Errorf("%w: failed to fetch nonce: %v", apperrors.ErrChainRead, err), nil)
	}

	gasPrice := (*big.Int)(nil)
	gasLimit := uint64(0)
	if overrides != nil {
		gasPrice = overrides.GasPrice
		gasLimit = overrides.GasLimit
	}
	if gasPrice == nil {
		gasPrice, err = g.client.SuggestGasPrice(ctx)
		if err != nil {
			return "", apperrors.NewGatewayError("SubmitDistribution",
				fmt.Errorf("%w: failed to fetch gas price: %v", apperrors.ErrChainRead, err), nil)
		}
	}
	if gasLimit == 0 {
		gasLimit = g.EstimateGas(ctx, hackathonID, recipients, amounts)
	}

	tx := types.NewTransaction(nonce, g.prizePool, big.NewInt(0), gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(g.chainID), g.operatorKey)
	if err != nil {
		return "", apperrors.NewGatewayError("SubmitDistribution", err, nil)
	}

	// Hash is known before broadcast: this is what makes the ambiguous
	// write-error outcome verifiable afterwards.
	txHash := signed.Hash().Hex()

	sendErr := g.writeBreaker.Execute(ctx, func() error {
		return g.client.SendTransaction(ctx, signed)
	})
	if sendErr != nil {
		g.logger.WithFields(map[string]interface{}{
			"hackathonId": hackathonID,
			"txHash":      txHash,
			"error":       sendErr.Error(),
		}).Warn("broadcast returned error, outcome unknown")
		return txHash, apperrors.NewGatewayError("SubmitDistribution",
			fmt.Errorf("%w: %v", apperrors.ErrChainWrite, sendErr),
			map[string]interface{}{"hackathonId": hackathonID, "txHash": txHash})
	}

	g.logger.WithFields(map[string]interface{}{
		"hackathonId": hackathonID,
		"txHash":      txHash,
		"recipients":  len(recipients),
		"gasLimit":    gasLimit,
	}).Info("distribution transaction broadcast")

	return txHash, nil
}

// EstimateGas estimates gas for a distributePrizes call, falling back to a
// conservative base-plus-marginal estimate when the node cannot estimate
func (g *EthereumGateway) EstimateGas(ctx context.Context, hackathonID int64, recipients []string, amounts []*big.Int) uint64 {
	fallback := g.gasBase + g.gasPerRecip*uint64(len(recipients))

	if len(recipients) != len(amounts) {
		return fallback
	}

	addrs := make([]common.Address, len(recipients))
	for i, r := range recipients {
		addrs[i] = common.HexToAddress(r)
	}
	data, err := g.poolABI.Pack("distributePrizes", big.NewInt(hackathonID), addrs, amounts)
	if err != nil {
		return fallback
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return fallback
	}

	msg := ethereum.CallMsg{From: g.operatorAddr, To: &g.prizePool, Data: data}
	gas, err := g.client.EstimateGas(ctx, msg)
	if err != nil {
		g.logger.WithFields(map[string]interface{}{
			"hackathonId": hackathonID,
			"fallback":    fallback,
			"error":       err.Error(),
		}).Warn("gas estimation failed, using fallback")
		return fallback
	}

	// Headroom over the node's estimate
	return gas + gas/5
}

// TransactionReceipt fetches a receipt, distinguishing unmined from reverted
func (g *EthereumGateway) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewGatewayError("TransactionReceipt", err, nil)
	}

	receipt, err := g.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if err == ethereum.NotFound {
			return nil, apperrors.ErrReceiptNotFound
		}
		return nil, apperrors.NewGatewayError("TransactionReceipt",
			fmt.Errorf("%w: %v", apperrors.ErrChainRead, err),
			map[string]interface{}{"txHash": txHash})
	}

	return &Receipt{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		Reverted:    receipt.Status != types.ReceiptStatusSuccessful,
		GasUsed:     receipt.GasUsed,
	}, nil
}

// CurrentBlock returns the latest block number
func (g *EthereumGateway) CurrentBlock(ctx context.Context) (uint64, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, apperrors.NewGatewayError("CurrentBlock", err, nil)
	}

	n, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, apperrors.NewGatewayError("CurrentBlock",
			fmt.Errorf("%w: %v", apperrors.ErrChainRead, err), nil)
	}
	return n, nil
}

// call performs a rate-limited eth_call
func (g *EthereumGateway) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return g.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}
