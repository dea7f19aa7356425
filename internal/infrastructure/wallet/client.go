package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"hash/crc32"
	"math/big"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/repository"
	"github.com/yukia3e/invite-tier-relayer/internal/util"
)

const packageName = "wallet"

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1halfN = new(big.Int).Div(secp256k1N, big.NewInt(2))

	crc32cTable = crc32.MakeTable(crc32.Castagnoli)
)

// KeyManagementAPI is the subset of *kms.KeyManagementClient the relayer uses.
type KeyManagementAPI interface {
	CreateCryptoKey(ctx context.Context, req *kmspb.CreateCryptoKeyRequest, opts ...gax.CallOption) (*kmspb.CryptoKey, error)
	GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest, opts ...gax.CallOption) (*kmspb.PublicKey, error)
	AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest, opts ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
}

// KeyRing locates relayer keys inside Cloud KMS.
type KeyRing struct {
	ProjectID string
	Location  string
	KeyRingID string
}

func (r KeyRing) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s/keyRings/%s", r.ProjectID, r.Location, r.KeyRingID)
}

func (r KeyRing) keyVersion(keyID string, version int) string {
	return fmt.Sprintf("%s/cryptoKeys/%s/cryptoKeyVersions/%d", r.parent(), keyID, version)
}

// NewKMSClient dials Cloud KMS, using credentialFile when it is set and
// application default credentials otherwise.
func NewKMSClient(ctx context.Context, credentialFile string) (*kms.KeyManagementClient, error) {
	var opts []option.ClientOption
	if credentialFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialFile))
	}
	client, err := kms.NewKeyManagementClient(ctx, opts...)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("failed to create kms client: %w", err))
	}
	return client, nil
}

type keyRepository struct {
	kmsClient KeyManagementAPI
	keyRing   KeyRing
}

func NewKeyRepository(kmsClient KeyManagementAPI, keyRing KeyRing) repository.KeyRepository {
	return &keyRepository{
		kmsClient: kmsClient,
		keyRing:   keyRing,
	}
}

func (k *keyRepository) CreateCryptoKey(ctx context.Context, keyID string) (string, error) {
	if keyID == "" {
		return "", util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("keyID is empty"))
	}

	cryptoKey, err := k.kmsClient.CreateCryptoKey(ctx, &kmspb.CreateCryptoKeyRequest{
		Parent:      k.keyRing.parent(),
		CryptoKeyId: keyID,
		CryptoKey: &kmspb.CryptoKey{
			Purpose: kmspb.CryptoKey_ASYMMETRIC_SIGN,
			VersionTemplate: &kmspb.CryptoKeyVersionTemplate{
				ProtectionLevel: kmspb.ProtectionLevel_HSM,
				Algorithm:       kmspb.CryptoKeyVersion_EC_SIGN_SECP256K1_SHA256,
			},
		},
	})
	if err != nil {
		return "", util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("failed to create crypto key: %w", err))
	}

	return cryptoKey.Name, nil
}

func (k *keyRepository) GetHexAddress(ctx context.Context, keyID string) (string, error) {
	pubKey, err := getPublicKey(ctx, k.kmsClient, k.keyRing.keyVersion(keyID, 1))
	if err != nil {
		return "", util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("failed to get public key: %w", err))
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}

type kmsSigner struct {
	kmsClient  KeyManagementAPI
	keyVersion string
	pubKey     *ecdsa.PublicKey
	address    common.Address
}

// NewKMSSigner loads the public key of keyID once so that a misconfigured key
// fails at startup rather than on the first relay.
func NewKMSSigner(ctx context.Context, kmsClient KeyManagementAPI, keyRing KeyRing, keyID string, version int) (repository.TransactionSigner, error) {
	if version <= 0 {
		version = 1
	}
	keyVersion := keyRing.keyVersion(keyID, version)

	pubKey, err := getPublicKey(ctx, kmsClient, keyVersion)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, util.FuncName(), fmt.Errorf("failed to get public key: %w", err))
	}

	address := crypto.PubkeyToAddress(*pubKey)
	log.Info().Str("keyVersion", keyVersion).Str("address", address.Hex()).Msg(util.WrapLogMessage(packageName, "NewKMSSigner", "loaded relayer key"))

	return &kmsSigner{
		kmsClient:  kmsClient,
		keyVersion: keyVersion,
		pubKey:     pubKey,
		address:    address,
	}, nil
}

func (k *kmsSigner) Address() common.Address {
	return k.address
}

func (k *kmsSigner) SignTransaction(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	funcName := util.FuncName()

	signer := types.LatestSignerForChainID(chainID)
	txHash := signer.Hash(tx)

	signature, err := k.sign(ctx, txHash[:])
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign: %w", err))
	}

	signedTx, err := tx.WithSignature(signer, signature)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign transaction: %w", err))
	}
	return signedTx, nil
}

// sign asks KMS for a DER signature over hash and converts it to the
// 65-byte [R || S || V] form by trying both recovery ids against the key.
func (k *kmsSigner) sign(ctx context.Context, hash []byte) ([]byte, error) {
	funcName := util.FuncName()

	signResponse, err := k.kmsClient.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: k.keyVersion,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{
				Sha256: hash,
			},
		},
		DigestCrc32C: wrapperspb.Int64(int64(crc32c(hash))),
	})
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign digest: %w", err))
	}

	if len(signResponse.Signature) == 0 {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign digest: empty signature"))
	}

	if int64(crc32c(signResponse.Signature)) != signResponse.GetSignatureCrc32C().GetValue() {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("AsymmetricSign: response corrupted in-transit"))
	}

	r, s, err := parseSignature(signResponse.Signature)
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to parse signature: %w", err))
	}

	for _, v := range []byte{0, 1} {
		candidate := make([]byte, crypto.SignatureLength)
		r.FillBytes(candidate[:32])
		s.FillBytes(candidate[32:64])
		candidate[crypto.RecoveryIDOffset] = v

		recovered, err := crypto.SigToPub(hash, candidate)
		if err != nil {
			continue
		}
		if recovered.Equal(k.pubKey) {
			return candidate, nil
		}
	}

	return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to sign digest: signature does not match key"))
}

func getPublicKey(ctx context.Context, kmsClient KeyManagementAPI, keyVersion string) (*ecdsa.PublicKey, error) {
	funcName := util.FuncName()

	publicKeyResponse, err := kmsClient.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{
		Name: keyVersion,
	})
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get public key: %w", err))
	}
	if publicKeyResponse.Name != keyVersion {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get public key: invalid key name"))
	}
	publicKeyPEM := publicKeyResponse.Pem
	if publicKeyPEM == "" {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get public key: empty PEM"))
	}
	if int64(crc32c([]byte(publicKeyPEM))) != publicKeyResponse.GetPemCrc32C().GetValue() {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to get public key: invalid CRC32"))
	}

	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to decode public key"))
	}

	return getPublicKeyFromDecodedPEM(block)
}

func getPublicKeyFromDecodedPEM(block *pem.Block) (*ecdsa.PublicKey, error) {
	funcName := util.FuncName()

	var pki struct {
		Raw       asn1.RawContent
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}

	if _, err := asn1.Unmarshal(block.Bytes, &pki); err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to unmarshal public key: %w", err))
	}

	pubKey, err := crypto.UnmarshalPubkey(pki.PublicKey.RightAlign())
	if err != nil {
		return nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to parse secp256k1 point: %w", err))
	}
	return pubKey, nil
}

func parseSignature(signature []byte) (r *big.Int, s *big.Int, err error) {
	funcName := util.FuncName()

	sig := new(struct {
		R *big.Int
		S *big.Int
	})

	if _, err = asn1.Unmarshal(signature, sig); err != nil {
		return nil, nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("failed to unmarshal signature: %w", err))
	}
	if sig.R.Sign() <= 0 || sig.S.Sign() <= 0 || sig.R.Cmp(secp256k1N) >= 0 || sig.S.Cmp(secp256k1N) >= 0 {
		return nil, nil, util.WrapErrorForLog(packageName, funcName, fmt.Errorf("signature values out of range"))
	}

	// KMS does not normalize s; Ethereum requires the lower half.
	if sig.S.Cmp(secp256k1halfN) > 0 {
		sig.S = new(big.Int).Sub(secp256k1N, sig.S)
	}

	return sig.R, sig.S, nil
}

func crc32c(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}
