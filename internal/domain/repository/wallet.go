package repository

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type SetInviteTierRequest struct {
	Signer    common.Address
	Users     []common.Address
	Tier      *big.Int
	Nonce     *big.Int
	Signature []byte
}

type SubmittedTransaction struct {
	Hash        common.Hash
	GasEstimate uint64 // zero when the fixed gas ceiling was used
	GasLimit    uint64
	// RelayerNonce is the relayer account nonce the transaction was sent with.
	RelayerNonce uint64
}

// RelayResponse mirrors the JSON body returned by the relay endpoint.
type RelayResponse struct {
	Success     bool           `json:"success"`
	TxHash      string         `json:"txHash,omitempty"`
	Message     string         `json:"message,omitempty"`
	GasEstimate string         `json:"gasEstimate,omitempty"`
	GasLimit    string         `json:"gasLimit,omitempty"`
	Nonce       string         `json:"nonce,omitempty"`
	Error       string         `json:"error,omitempty"`
	Details     map[string]any `json:"details,omitempty"`

	StatusCode int `json:"-"`
}

type TransactionPriorityType int32

const (
	TransactionPriorityTypeUnspecified TransactionPriorityType = 0
	TransactionPriorityTypeSafeLow     TransactionPriorityType = 1
	TransactionPriorityTypeStandard    TransactionPriorityType = 2
	TransactionPriorityTypeFast        TransactionPriorityType = 3
)

func ParseTransactionPriorityType(s string) TransactionPriorityType {
	switch strings.ToLower(s) {
	case "safelow", "safe_low":
		return TransactionPriorityTypeSafeLow
	case "standard":
		return TransactionPriorityTypeStandard
	case "fast":
		return TransactionPriorityTypeFast
	default:
		return TransactionPriorityTypeUnspecified
	}
}
