package scheduler

import (
	"fmt"
	"math/big"

	"github.com/prize-distributor/internal/gateway"
	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/types"
)

// podiumSplit is the default prize split for the three podium places,
// in percent. Used when a distribution is scheduled from on-chain winners
// without an explicit winner list.
var podiumSplit = []int64{50, 30, 20}

// WinnersFromPool derives the winner list from the prize pool contract's
// podium addresses using the default split. Unset places are skipped, and
// the split is not renormalized: an incomplete podium pays out less than
// the full pool rather than inflating the remaining places.
func WinnersFromPool(state *gateway.PrizePoolState) []types.Winner {
	places := []string{state.FirstPlace, state.SecondPlace, state.ThirdPlace}

	var winners []types.Winner
	for i, addr := range places {
		if addr == "" || addr == zeroAddress {
			continue
		}
		amount := new(big.Int).Mul(state.TotalAmount, big.NewInt(podiumSplit[i]))
		amount.Div(amount, big.NewInt(100))
		winners = append(winners, types.Winner{
			Rank:          i + 1,
			WalletAddress: addr,
			PrizeAmount:   amount.String(),
		})
	}
	return winners
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

// BuildRecords validates a winner list against the prize pool and produces
// the per-recipient ledger rows. Ranks must be contiguous from 1, addresses
// well-formed and distinct, and the amounts must not exceed the pool.
func BuildRecords(hackathonID int64, winners []types.Winner, totalPool *big.Int) ([]*models.DistributionRecord, error) {
	if len(winners) == 0 {
		return nil, fmt.Errorf("winner list is empty")
	}
	if totalPool == nil || totalPool.Sign() <= 0 {
		return nil, fmt.Errorf("prize pool is empty")
	}

	byRank := make(map[int]types.Winner, len(winners))
	seenAddr := make(map[string]bool, len(winners))
	for _, w := range winners {
		if err := types.ValidateWalletAddress(w.WalletAddress); err != nil {
			return nil, fmt.Errorf("winner rank %d: %w", w.Rank, err)
		}
		if seenAddr[w.WalletAddress] {
			return nil, fmt.Errorf("duplicate winner address %s", w.WalletAddress)
		}
		seenAddr[w.WalletAddress] = true
		if _, dup := byRank[w.Rank]; dup {
			return nil, fmt.Errorf("duplicate winner rank %d", w.Rank)
		}
		byRank[w.Rank] = w
	}

	// Contiguity: ranks 1..n with no gaps.
	for rank := 1; rank <= len(winners); rank++ {
		if _, ok := byRank[rank]; !ok {
			return nil, fmt.Errorf("winner ranks are not contiguous: missing rank %d", rank)
		}
	}

	sum := new(big.Int)
	records := make([]*models.DistributionRecord, 0, len(winners))
	for rank := 1; rank <= len(winners); rank++ {
		w := byRank[rank]
		amount, err := types.ParseAmount(w.PrizeAmount)
		if err != nil {
			return nil, fmt.Errorf("winner rank %d: %w", rank, err)
		}
		sum.Add(sum, amount)

		records = append(records, &models.DistributionRecord{
			HackathonID:      hackathonID,
			RecipientAddress: w.WalletAddress,
			Position:         rank,
			Amount:           amount.String(),
			Percentage:       percentageOf(amount, totalPool),
			Status:           types.RecordPending,
		})
	}

	if sum.Cmp(totalPool) > 0 {
		return nil, fmt.Errorf("payout total %s exceeds prize pool %s", sum.String(), totalPool.String())
	}

	return records, nil
}

// percentageOf computes amount/total as a percentage for display purposes.
// The authoritative value is always the integer amount.
func percentageOf(amount, total *big.Int) float64 {
	if total.Sign() <= 0 {
		return 0
	}
	a := new(big.Float).SetInt(amount)
	t := new(big.Float).SetInt(total)
	pct, _ := new(big.Float).Quo(a, t).Float64()
	return pct * 100
}
