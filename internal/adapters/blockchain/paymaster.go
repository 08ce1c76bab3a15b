package blockchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AlloPay/accountd/internal/config"
	"github.com/AlloPay/accountd/internal/domain"
	"github.com/AlloPay/accountd/internal/usecase"
)

// Paymaster computes fee-token parameters for execution. The suggested gas
// price is padded by the configured drift tolerance so a quote computed
// now still covers the price at inclusion time.
type Paymaster struct {
	client *Client
	quoter usecase.PriceQuoter
	cfg    *config.RuntimeConfig
	log    *slog.Logger
}

// NewPaymaster creates a paymaster over the chain client and price quoter.
func NewPaymaster(client *Client, quoter usecase.PriceQuoter, cfg *config.RuntimeConfig, log *slog.Logger) *Paymaster {
	return &Paymaster{
		client: client,
		quoter: quoter,
		cfg:    cfg,
		log:    log.With("component", "Paymaster"),
	}
}

// FeeParams returns the padded gas price and the fee-token amount required
// to cover the proposal's gas at that price.
func (p *Paymaster) FeeParams(ctx context.Context, proposal *domain.Proposal) (*usecase.FeeParams, error) {
	suggested, err := p.client.Eth().SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}

	gasPrice := padGasPrice(suggested, p.cfg.GasPriceDriftTolerance)

	gasLimit := proposal.GasLimit
	if gasLimit == 0 {
		gasLimit = fallbackGasLimit
	}
	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))

	required := gasCost
	if proposal.FeeToken != (common.Address{}) {
		quote, err := p.quoter.Quote(ctx, proposal.FeeToken)
		if err != nil {
			return nil, fmt.Errorf("quote fee token %s: %w", proposal.FeeToken, err)
		}
		if quote.Sign() <= 0 {
			return nil, fmt.Errorf("non-positive quote for fee token %s", proposal.FeeToken)
		}
		required = tokenAmount(gasCost, quote)
	}

	p.log.Debug("fee computed",
		"proposal", proposal.ID, "gasPrice", gasPrice, "required", required, "token", proposal.FeeToken)

	return &usecase.FeeParams{
		Token:          proposal.FeeToken,
		GasPrice:       gasPrice,
		RequiredAmount: required,
	}, nil
}

// padGasPrice scales the price by (1 + tolerance) with three decimal
// places of tolerance resolution.
func padGasPrice(price *big.Int, tolerance float64) *big.Int {
	factor := big.NewInt(int64(1000 + tolerance*1000))
	padded := new(big.Int).Mul(price, factor)
	return padded.Div(padded, big.NewInt(1000))
}

// tokenAmount converts a native-wei cost to fee-token base units given the
// token's price in wei per base unit, rounding up.
func tokenAmount(costWei *big.Int, weiPerUnit *big.Rat) *big.Int {
	amount := new(big.Rat).SetInt(costWei)
	amount.Quo(amount, weiPerUnit)

	// Ceil: the account must hold at least the cost.
	quo := new(big.Int).Div(amount.Num(), amount.Denom())
	if new(big.Int).Mul(quo, amount.Denom()).Cmp(amount.Num()) != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}
