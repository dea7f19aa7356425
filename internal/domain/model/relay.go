package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// RelayTransactionPath is where the relay endpoint is served.
const RelayTransactionPath = "/api/relayTransaction"

// SigningDomain namespaces signatures to one contract on one chain.
type SigningDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// RelayPayload is the request body as sent by the dapp. Tier and Nonce stay nil
// when the field is absent or null so that zero remains a valid value.
type RelayPayload struct {
	Signer    string   `json:"signer"`
	Users     []string `json:"users"`
	Tier      *Uint256 `json:"tier"`
	Nonce     *Uint256 `json:"nonce"`
	Signature string   `json:"signature"`
}

// TypedDataRequest is a RelayPayload that passed shape validation.
type TypedDataRequest struct {
	Signer    common.Address
	Users     []common.Address
	Tier      *big.Int
	Nonce     *big.Int
	Signature []byte
}

type RelayResult struct {
	TxHash      common.Hash
	GasEstimate uint64
	GasLimit    uint64
	Nonce       *big.Int
}

// Uint256 accepts a JSON number or a decimal / 0x-prefixed hex string.
type Uint256 struct {
	big.Int
}

func NewUint256(v int64) *Uint256 {
	u := new(Uint256)
	u.SetInt64(v)
	return u
}

func (u *Uint256) BigInt() *big.Int {
	if u == nil {
		return nil
	}
	return new(big.Int).Set(&u.Int)
}

func (u *Uint256) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var text string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(data)
	}

	if text == "" {
		return fmt.Errorf("empty uint256 value")
	}

	var (
		v  *big.Int
		ok bool
	)
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		v, ok = new(big.Int).SetString(text[2:], 16)
	} else {
		v, ok = new(big.Int).SetString(text, 10)
	}
	if !ok {
		return fmt.Errorf("invalid uint256 value %q", text)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("negative uint256 value %q", text)
	}
	if v.Cmp(math.MaxBig256) > 0 {
		return fmt.Errorf("uint256 value out of range %q", text)
	}
	u.Int = *v
	return nil
}

func (u Uint256) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Int.String())
}
