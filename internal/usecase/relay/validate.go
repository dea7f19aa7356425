package relay

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
)

// Validate checks presence and shape of every payload field and converts
// the payload to typed values. Tier and nonce of zero are valid.
func Validate(payload model.RelayPayload) (*model.TypedDataRequest, error) {
	var missing []string
	if strings.TrimSpace(payload.Signer) == "" {
		missing = append(missing, "signer")
	}
	if payload.Users == nil {
		missing = append(missing, "users")
	}
	if payload.Tier == nil {
		missing = append(missing, "tier")
	}
	if payload.Nonce == nil {
		missing = append(missing, "nonce")
	}
	if strings.TrimSpace(payload.Signature) == "" {
		missing = append(missing, "signature")
	}
	if len(missing) > 0 {
		return nil, &Error{
			Kind:    KindBadRequest,
			Message: "Missing required fields in request body",
			Details: map[string]any{"missing": missing},
		}
	}

	signer, err := parseAddress(payload.Signer)
	if err != nil {
		return nil, badRequest("Invalid signer address", "signer", err)
	}

	if len(payload.Users) == 0 {
		return nil, badRequest("users must not be empty", "users", nil)
	}
	users := make([]common.Address, len(payload.Users))
	for i, raw := range payload.Users {
		user, err := parseAddress(raw)
		if err != nil {
			return nil, badRequest(fmt.Sprintf("Invalid user address at index %d", i), "users", err)
		}
		users[i] = user
	}

	signature, err := parseSignature(payload.Signature)
	if err != nil {
		return nil, badRequest("Signature is not valid hex", "signature", err)
	}

	return &model.TypedDataRequest{
		Signer:    signer,
		Users:     users,
		Tier:      payload.Tier.BigInt(),
		Nonce:     payload.Nonce.BigInt(),
		Signature: signature,
	}, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", raw)
	}
	return common.HexToAddress(raw), nil
}

func parseSignature(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}
	return hexutil.Decode(raw)
}

func badRequest(message, field string, cause error) *Error {
	return &Error{
		Kind:    KindBadRequest,
		Message: message,
		Details: map[string]any{"field": field},
		Cause:   cause,
	}
}
