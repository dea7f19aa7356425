package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	MethodNonces               = "nonces"
	MethodSetInviteTierWithSig = "setInviteTierWithSig"
)

// InviteTierABI is the part of the deployed contract the relayer talks to.
const InviteTierABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "signer", "type": "address"},
			{"internalType": "address[]", "name": "users", "type": "address[]"},
			{"internalType": "uint256", "name": "tier", "type": "uint256"},
			{"internalType": "uint256", "name": "nonce", "type": "uint256"},
			{"internalType": "bytes", "name": "signature", "type": "bytes"}
		],
		"name": "setInviteTierWithSig",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "", "type": "address"}],
		"name": "nonces",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var inviteTierABI = mustParseABI(InviteTierABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("contract: invalid invite tier ABI: " + err.Error())
	}
	return parsed
}
