package repository

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
)

// InviteTierRepository
type InviteTierRepository interface {
	// Nonce returns the replay-protection counter the contract stores for signer.
	Nonce(ctx context.Context, signer common.Address) (*big.Int, error)
	// SetInviteTierWithSig broadcasts setInviteTierWithSig and returns as soon as the node accepts it.
	SetInviteTierWithSig(ctx context.Context, req SetInviteTierRequest) (*SubmittedTransaction, error)
}

// TransactionSigner signs relayer transactions with the relay's own credential.
type TransactionSigner interface {
	Address() common.Address
	SignTransaction(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeyRepository manages KMS-held relayer keys.
type KeyRepository interface {
	// CreateCryptoKey creates an HSM secp256k1 key and returns its resource name.
	CreateCryptoKey(ctx context.Context, keyID string) (string, error)
	// GetHexAddress returns the Ethereum address of the key.
	GetHexAddress(ctx context.Context, keyID string) (string, error)
}

// GasStationRepository
type GasStationRepository interface {
	GetGasPriceRecommendations(ctx context.Context) (*model.GasPriceRecommendations, error)
}

// RelayRepository is the client side of the relay HTTP endpoint.
type RelayRepository interface {
	RelayTransaction(ctx context.Context, payload model.RelayPayload) (*RelayResponse, error)
}
