package contract

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/repository"
	"github.com/yukia3e/invite-tier-relayer/internal/util"
)

// FeeOracle prices an EIP-1559 transaction.
type FeeOracle interface {
	Fees(ctx context.Context) (gasTipCap *big.Int, gasFeeCap *big.Int, err error)
}

type rpcFeeOracle struct {
	backend Backend
	timeout time.Duration
}

// NewRPCFeeOracle uses the node's tip suggestion and twice the latest base fee.
func NewRPCFeeOracle(backend Backend, timeout time.Duration) FeeOracle {
	return &rpcFeeOracle{backend: backend, timeout: timeout}
}

func (o *rpcFeeOracle) Fees(ctx context.Context) (*big.Int, *big.Int, error) {
	funcName := util.FuncName()

	tipCtx, cancel := withTimeout(ctx, o.timeout)
	gasTipCap, err := o.backend.SuggestGasTipCap(tipCtx)
	cancel()
	if err != nil {
		return nil, nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to suggest gas tip cap: %w", err))
	}

	headCtx, cancel := withTimeout(ctx, o.timeout)
	head, err := o.backend.HeaderByNumber(headCtx, nil)
	cancel()
	if err != nil {
		return nil, nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get latest header: %w", err))
	}

	gasFeeCap := new(big.Int).Set(gasTipCap)
	if head.BaseFee != nil {
		gasFeeCap.Add(gasFeeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return gasTipCap, gasFeeCap, nil
}

type gasStationFeeOracle struct {
	gasStationRepo repository.GasStationRepository
	priority       repository.TransactionPriorityType
	fallback       FeeOracle
	timeout        time.Duration
}

// NewGasStationFeeOracle prices transactions from the Polygon gas station and
// falls back to fallback when the station cannot be reached.
func NewGasStationFeeOracle(gasStationRepo repository.GasStationRepository, priority repository.TransactionPriorityType, fallback FeeOracle, timeout time.Duration) FeeOracle {
	return &gasStationFeeOracle{
		gasStationRepo: gasStationRepo,
		priority:       priority,
		fallback:       fallback,
		timeout:        timeout,
	}
}

func (o *gasStationFeeOracle) Fees(ctx context.Context) (*big.Int, *big.Int, error) {
	funcName := util.FuncName()

	reqCtx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	gasPriceRecommendations, err := o.gasStationRepo.GetGasPriceRecommendations(reqCtx)
	if err != nil {
		log.Error().Msg(util.WrapLogMessage(packageName, funcName, fmt.Sprintf("failed to get gas price recommendations, using fallback: %v", err)))
		return o.fallback.Fees(ctx)
	}

	recommendation := gasPriceRecommendations.Standard
	switch o.priority {
	case repository.TransactionPriorityTypeSafeLow:
		recommendation = gasPriceRecommendations.SafeLow
	case repository.TransactionPriorityTypeFast:
		recommendation = gasPriceRecommendations.Fast
	}

	gasTipCap := gweiToWei(recommendation.MaxPriorityFee)
	gasFeeCap := gweiToWei(recommendation.MaxFee)
	if gasFeeCap.Cmp(gasTipCap) < 0 {
		gasFeeCap = new(big.Int).Set(gasTipCap)
	}
	return gasTipCap, gasFeeCap, nil
}

func gweiToWei(gwei float32) *big.Int {
	return big.NewInt(int64(float64(gwei) * 1e9))
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
