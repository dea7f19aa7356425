package contract

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/repository"
	"github.com/yukia3e/invite-tier-relayer/internal/util"
)

const packageName = "contract"

const (
	GasModeEstimate = "estimate"
	GasModeFixed    = "fixed"
)

// Stages of a submission, reported through SubmitError.
const (
	StagePack         = "pack"
	StageEstimateGas  = "estimateGas"
	StageFees         = "fees"
	StageRelayerNonce = "relayerNonce"
	StageSign         = "sign"
	StageBroadcast    = "broadcast"
)

// Backend is the RPC surface used by the client; *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// SubmitError tells which step of a submission failed.
type SubmitError struct {
	Stage string
	Err   error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

type Config struct {
	Address          common.Address
	ChainID          *big.Int
	GasMode          string
	GasLimit         uint64
	GasBufferPercent uint64
	RPCTimeout       time.Duration
}

type inviteTierClient struct {
	*InviteTierReader

	backend Backend
	signer  repository.TransactionSigner
	fees    FeeOracle
	cfg     Config

	// sendMu serializes relayer account nonce allocation through broadcast.
	sendMu sync.Mutex
}

func NewInviteTierClient(backend Backend, signer repository.TransactionSigner, fees FeeOracle, cfg Config) repository.InviteTierRepository {
	return &inviteTierClient{
		InviteTierReader: NewInviteTierReader(backend, cfg.Address, cfg.RPCTimeout),
		backend:          backend,
		signer:           signer,
		fees:             fees,
		cfg:              cfg,
	}
}

// InviteTierReader reads contract state without needing a relayer credential.
type InviteTierReader struct {
	caller  ethereum.ContractCaller
	address common.Address
	timeout time.Duration
}

func NewInviteTierReader(caller ethereum.ContractCaller, address common.Address, timeout time.Duration) *InviteTierReader {
	return &InviteTierReader{caller: caller, address: address, timeout: timeout}
}

func (r *InviteTierReader) Nonce(ctx context.Context, signer common.Address) (*big.Int, error) {
	funcName := util.FuncName()

	data, err := inviteTierABI.Pack(MethodNonces, signer)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to pack method call: %w", err))
	}

	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.caller.CallContract(callCtx, ethereum.CallMsg{To: util.Pointer(r.address), Data: data}, nil)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("contract call failed: %w", err))
	}
	if len(result) == 0 {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("empty result from %s, is it a deployed contract?", r.address.Hex()))
	}

	outputs, err := inviteTierABI.Unpack(MethodNonces, result)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to unpack result: %w", err))
	}
	if len(outputs) != 1 {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("unexpected output count %d", len(outputs)))
	}
	nonce, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("unexpected output type %T", outputs[0]))
	}

	return nonce, nil
}

func (c *inviteTierClient) SetInviteTierWithSig(ctx context.Context, req repository.SetInviteTierRequest) (*repository.SubmittedTransaction, error) {
	funcName := util.FuncName()

	data, err := inviteTierABI.Pack(MethodSetInviteTierWithSig, req.Signer, req.Users, req.Tier, req.Nonce, req.Signature)
	if err != nil {
		return nil, c.submitError(funcName, StagePack, fmt.Errorf("failed to pack method call: %w", err))
	}

	from := c.signer.Address()
	to := util.Pointer(c.cfg.Address)

	var gasEstimate, gasLimit uint64
	switch c.cfg.GasMode {
	case GasModeFixed:
		gasLimit = c.cfg.GasLimit
	default:
		estimateCtx, cancel := withTimeout(ctx, c.cfg.RPCTimeout)
		gasEstimate, err = c.backend.EstimateGas(estimateCtx, ethereum.CallMsg{From: from, To: to, Data: data})
		cancel()
		if err != nil {
			return nil, c.submitError(funcName, StageEstimateGas, fmt.Errorf("transaction will fail: %w", err))
		}
		gasLimit = gasEstimate * (100 + c.cfg.GasBufferPercent) / 100
	}

	gasTipCap, gasFeeCap, err := c.fees.Fees(ctx)
	if err != nil {
		return nil, c.submitError(funcName, StageFees, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	nonceCtx, cancel := withTimeout(ctx, c.cfg.RPCTimeout)
	relayerNonce, err := c.backend.PendingNonceAt(nonceCtx, from)
	cancel()
	if err != nil {
		return nil, c.submitError(funcName, StageRelayerNonce, fmt.Errorf("failed to get nonce: %w", err))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.cfg.ChainID,
		Nonce:     relayerNonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        to,
		Value:     big.NewInt(0),
		Data:      data,
	})

	signCtx, cancel := withTimeout(ctx, c.cfg.RPCTimeout)
	signedTx, err := c.signer.SignTransaction(signCtx, tx, c.cfg.ChainID)
	cancel()
	if err != nil {
		return nil, c.submitError(funcName, StageSign, err)
	}

	sendCtx, cancel := withTimeout(ctx, c.cfg.RPCTimeout)
	err = c.backend.SendTransaction(sendCtx, signedTx)
	cancel()
	if err != nil {
		return nil, c.submitError(funcName, StageBroadcast, fmt.Errorf("failed to send transaction: %w", err))
	}

	log.Info().
		Str("txHash", signedTx.Hash().Hex()).
		Str("signer", req.Signer.Hex()).
		Uint64("relayerNonce", relayerNonce).
		Uint64("gasLimit", gasLimit).
		Msg(util.WrapLogMessage(packageName, funcName, "transaction broadcast"))

	return &repository.SubmittedTransaction{
		Hash:         signedTx.Hash(),
		GasEstimate:  gasEstimate,
		GasLimit:     gasLimit,
		RelayerNonce: relayerNonce,
	}, nil
}

func (c *inviteTierClient) submitError(funcName, stage string, err error) error {
	return util.WrapErrorForLog(packageName, funcName, &SubmitError{Stage: stage, Err: err})
}
