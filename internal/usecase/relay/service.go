package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
	"github.com/yukia3e/invite-tier-relayer/internal/domain/repository"
	"github.com/yukia3e/invite-tier-relayer/internal/domain/typeddata"
	"github.com/yukia3e/invite-tier-relayer/internal/util"
)

const packageName = "relay"

const SuccessMessage = "Transaction submitted successfully"

type Options struct {
	// SerializeSigner holds a per-signer lock from the nonce check until the
	// transaction is broadcast, so two requests for one signer cannot both
	// pass the nonce check.
	SerializeSigner bool
}

type Service struct {
	inviteTierRepo repository.InviteTierRepository
	domain         model.SigningDomain
	signerLocks    *keyedMutex
}

func NewService(inviteTierRepo repository.InviteTierRepository, domain model.SigningDomain, opts Options) *Service {
	s := &Service{
		inviteTierRepo: inviteTierRepo,
		domain:         domain,
	}
	if opts.SerializeSigner {
		s.signerLocks = newKeyedMutex()
	}
	return s
}

func (s *Service) Domain() model.SigningDomain {
	return s.domain
}

// Relay verifies a signed SetInviteTier payload and submits it on chain. It
// returns once the RPC node accepted the transaction. Every returned error
// is a *Error.
func (s *Service) Relay(ctx context.Context, payload model.RelayPayload) (*model.RelayResult, error) {
	funcName := util.FuncName()
	logger := zerolog.Ctx(ctx)

	req, err := Validate(payload)
	if err != nil {
		logger.Info().Err(err).Str("event", "validation_failed").Msg(util.WrapLogMessage(packageName, funcName, "rejected payload"))
		return nil, err
	}

	recovered, err := typeddata.RecoverSetInviteTier(s.domain, req.Users, req.Tier, req.Nonce, req.Signature)
	if err != nil {
		logger.Info().Err(err).Str("event", "signature_invalid").Msg(util.WrapLogMessage(packageName, funcName, "rejected payload"))
		return nil, NewError(KindSignatureInvalid, "Signature verification failed", err)
	}

	if !strings.EqualFold(recovered.Hex(), req.Signer.Hex()) {
		logger.Warn().
			Str("event", "signer_mismatch").
			Str("claimed", req.Signer.Hex()).
			Str("recovered", recovered.Hex()).
			Msg(util.WrapLogMessage(packageName, funcName, "signature does not belong to signer"))
		return nil, &Error{
			Kind:    KindSignerMismatch,
			Message: "Signer mismatch",
			Details: map[string]any{"expected": req.Signer.Hex(), "recovered": recovered.Hex()},
		}
	}

	if s.signerLocks != nil {
		unlock := s.signerLocks.Lock(req.Signer.Hex())
		defer unlock()
	}

	current, err := s.inviteTierRepo.Nonce(ctx, req.Signer)
	if err != nil {
		logger.Error().Err(err).Msg(util.WrapLogMessage(packageName, funcName, "failed to read signer nonce"))
		return nil, upstreamError("Failed to read signer nonce", err)
	}
	if current.Cmp(req.Nonce) != 0 {
		logger.Info().
			Str("event", "nonce_mismatch").
			Str("expected", current.String()).
			Str("provided", req.Nonce.String()).
			Msg(util.WrapLogMessage(packageName, funcName, "rejected payload"))
		return nil, &Error{
			Kind:    KindNonceMismatch,
			Message: fmt.Sprintf("Nonce mismatch (expected %s, got %s)", current, req.Nonce),
			Details: map[string]any{"expected": current.String(), "provided": req.Nonce.String()},
		}
	}

	submitted, err := s.inviteTierRepo.SetInviteTierWithSig(ctx, repository.SetInviteTierRequest{
		Signer:    req.Signer,
		Users:     req.Users,
		Tier:      req.Tier,
		Nonce:     req.Nonce,
		Signature: req.Signature,
	})
	if err != nil {
		logger.Error().Err(err).Str("signer", req.Signer.Hex()).Msg(util.WrapLogMessage(packageName, funcName, "failed to submit transaction"))
		return nil, upstreamError("Transaction submission failed", err)
	}

	logger.Info().
		Str("txHash", submitted.Hash.Hex()).
		Str("signer", req.Signer.Hex()).
		Str("tier", req.Tier.String()).
		Int("users", len(req.Users)).
		Msg(util.WrapLogMessage(packageName, funcName, "relayed"))

	return &model.RelayResult{
		TxHash:      submitted.Hash,
		GasEstimate: submitted.GasEstimate,
		GasLimit:    submitted.GasLimit,
		Nonce:       req.Nonce,
	}, nil
}
