// Package typeddata hashes, signs and recovers EIP-712 typed data.
//
// The same digest code backs Sign and Recover so that a client-side signature
// and the relay's verification agree byte-for-byte.
package typeddata

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
	"github.com/yukia3e/invite-tier-relayer/internal/util"
)

const (
	packageName = "typeddata"

	domainTypeName = "EIP712Domain"
	signatureLen   = crypto.SignatureLength
)

// ErrInvalidSignature is returned when a signature cannot yield a signer address.
var ErrInvalidSignature = errors.New("invalid signature")

// Field is one member of a typed-data struct, in declaration order.
type Field struct {
	Name string
	Type string
}

// Types maps a struct name to its ordered fields.
type Types map[string][]Field

var domainFields = []Field{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

func toAPITypes(domain model.SigningDomain, types Types, primaryType string, message map[string]interface{}) apitypes.TypedData {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types, len(types)+1),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, ok := typedData.Types[domainTypeName]; !ok {
		typedFields := make([]apitypes.Type, len(domainFields))
		for i, field := range domainFields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[domainTypeName] = typedFields
	}

	return typedData
}

// DomainSeparator returns hashStruct(EIP712Domain) for the given domain.
func DomainSeparator(domain model.SigningDomain) ([]byte, error) {
	if domain.ChainID == nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("domain chain id is not set"))
	}
	typedData := toAPITypes(domain, nil, domainTypeName, nil)
	separator, err := typedData.HashStruct(domainTypeName, typedData.Domain.Map())
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("failed to hash domain: %w", err))
	}
	return separator, nil
}

// StructHash returns hashStruct(primaryType, message). The domain only has to be
// well formed; it does not influence the result.
func StructHash(domain model.SigningDomain, types Types, primaryType string, message map[string]interface{}) ([]byte, error) {
	if _, ok := types[primaryType]; !ok {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("primary type %q is not declared", primaryType))
	}
	typedData := toAPITypes(domain, types, primaryType, message)
	hash, err := typedData.HashStruct(primaryType, message)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("failed to hash struct: %w", err))
	}
	return hash, nil
}

// HashTypedData computes keccak256(0x19 0x01 ‖ domainSeparator ‖ structHash).
func HashTypedData(domain model.SigningDomain, types Types, primaryType string, message map[string]interface{}) ([]byte, error) {
	funcName := util.FuncName()

	domainSeparator, err := DomainSeparator(domain)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	structHash, err := StructHash(domain, types, primaryType, message)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	rawData := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, structHash...)

	return crypto.Keccak256(rawData), nil
}

// Sign produces a 65-byte [R || S || V] signature with V in {27, 28}.
func Sign(domain model.SigningDomain, types Types, primaryType string, message map[string]interface{}, key *ecdsa.PrivateKey) ([]byte, error) {
	funcName := util.FuncName()

	digest, err := HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, err)
	}

	signature, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign: %w", err))
	}
	signature[crypto.RecoveryIDOffset] += 27

	return signature, nil
}

// Recover returns the address that produced signature over the typed data.
// Malformed signatures fail with ErrInvalidSignature and never yield an address.
func Recover(domain model.SigningDomain, types Types, primaryType string, message map[string]interface{}, signature []byte) (common.Address, error) {
	funcName := util.FuncName()

	digest, err := HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return common.Address{}, util.WrapErrorForLog(packageName, funcName, err)
	}

	return RecoverDigest(digest, signature)
}

// RecoverDigest recovers the signer of a 32-byte digest.
func RecoverDigest(digest []byte, signature []byte) (common.Address, error) {
	funcName := util.FuncName()

	if len(signature) != signatureLen {
		return common.Address{}, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("%w: length %d, want %d", ErrInvalidSignature, len(signature), signatureLen))
	}

	v := signature[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, signature[crypto.RecoveryIDOffset]))
	}

	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("%w: r or s out of range", ErrInvalidSignature))
	}

	sig := make([]byte, signatureLen)
	copy(sig, signature)
	sig[crypto.RecoveryIDOffset] = v

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("%w: %v", ErrInvalidSignature, err))
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}
