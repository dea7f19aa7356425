package typeddata

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
)

const SetInviteTierPrimaryType = "SetInviteTier"

// SetInviteTierTypeString is the canonical encodeType of the primary struct.
const SetInviteTierTypeString = "SetInviteTier(address[] users,uint256 tier,uint256 nonce)"

func SetInviteTierTypes() Types {
	return Types{
		SetInviteTierPrimaryType: {
			{Name: "users", Type: "address[]"},
			{Name: "tier", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
		},
	}
}

func SetInviteTierMessage(users []common.Address, tier, nonce *big.Int) map[string]interface{} {
	hexUsers := make([]interface{}, len(users))
	for i, user := range users {
		hexUsers[i] = user.Hex()
	}
	return map[string]interface{}{
		"users": hexUsers,
		"tier":  new(big.Int).Set(tier),
		"nonce": new(big.Int).Set(nonce),
	}
}

func HashSetInviteTier(domain model.SigningDomain, users []common.Address, tier, nonce *big.Int) ([]byte, error) {
	return HashTypedData(domain, SetInviteTierTypes(), SetInviteTierPrimaryType, SetInviteTierMessage(users, tier, nonce))
}

func SignSetInviteTier(domain model.SigningDomain, users []common.Address, tier, nonce *big.Int, key *ecdsa.PrivateKey) ([]byte, error) {
	return Sign(domain, SetInviteTierTypes(), SetInviteTierPrimaryType, SetInviteTierMessage(users, tier, nonce), key)
}

func RecoverSetInviteTier(domain model.SigningDomain, users []common.Address, tier, nonce *big.Int, signature []byte) (common.Address, error) {
	return Recover(domain, SetInviteTierTypes(), SetInviteTierPrimaryType, SetInviteTierMessage(users, tier, nonce), signature)
}
