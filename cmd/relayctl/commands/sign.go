package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
	"github.com/yukia3e/invite-tier-relayer/internal/domain/typeddata"
	"github.com/yukia3e/invite-tier-relayer/internal/infrastructure/contract"
)

const rpcTimeout = 15 * time.Second

type nonceReader interface {
	Nonce(ctx context.Context, signer common.Address) (*big.Int, error)
}

type signOptions struct {
	privateKey string
	users      []string
	tier       string
	nonce      string
}

func addSignFlags(cmd *cobra.Command, opts *signOptions) {
	cmd.Flags().StringVar(&opts.privateKey, "key", "", "signer private key hex (SIGNER_PRIVATE_KEY)")
	cmd.Flags().StringSliceVar(&opts.users, "users", nil, "addresses to set the tier for (default: the signer)")
	cmd.Flags().StringVar(&opts.tier, "tier", "", "tier to assign")
	cmd.Flags().StringVar(&opts.nonce, "nonce", "", "signer nonce (default: read from the contract)")
	_ = cmd.MarkFlagRequired("tier")
}

func signCmd() *cobra.Command {
	opts := &signOptions{}
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a signed relay payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := signFromFlags(cmd.Context(), opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		},
	}
	addSignFlags(cmd, opts)
	return cmd
}

func signFromFlags(ctx context.Context, opts *signOptions) (*model.RelayPayload, error) {
	if opts.privateKey == "" {
		opts.privateKey = os.Getenv("SIGNER_PRIVATE_KEY")
	}

	domain, err := signingDomain()
	if err != nil {
		return nil, err
	}

	var nonces nonceReader
	if opts.nonce == "" {
		rpc := v.GetString("RPC_ENDPOINT")
		if rpc == "" {
			return nil, fmt.Errorf("--nonce or --rpc is required")
		}
		ethClient, err := ethclient.DialContext(ctx, rpc)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", rpc, err)
		}
		defer ethClient.Close()
		nonces = contract.NewInviteTierReader(ethClient, domain.VerifyingContract, rpcTimeout)
	}

	return buildPayload(ctx, domain, opts, nonces)
}

// buildPayload signs SetInviteTier for opts. nonces is only consulted when
// opts.nonce is empty.
func buildPayload(ctx context.Context, domain model.SigningDomain, opts *signOptions, nonces nonceReader) (*model.RelayPayload, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(opts.privateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer private key")
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)

	rawUsers := opts.users
	if len(rawUsers) == 0 {
		rawUsers = []string{signer.Hex()}
	}
	users := make([]common.Address, len(rawUsers))
	for i, raw := range rawUsers {
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("user %q is not a hex address", raw)
		}
		users[i] = common.HexToAddress(raw)
	}

	tier, err := parseUint256(opts.tier)
	if err != nil {
		return nil, fmt.Errorf("invalid --tier: %w", err)
	}

	var nonce *model.Uint256
	if opts.nonce != "" {
		if nonce, err = parseUint256(opts.nonce); err != nil {
			return nil, fmt.Errorf("invalid --nonce: %w", err)
		}
	} else {
		current, err := nonces.Nonce(ctx, signer)
		if err != nil {
			return nil, err
		}
		nonce = &model.Uint256{}
		nonce.Set(current)
	}

	sig, err := typeddata.SignSetInviteTier(domain, users, tier.BigInt(), nonce.BigInt(), key)
	if err != nil {
		return nil, err
	}

	userHex := make([]string, len(users))
	for i, u := range users {
		userHex[i] = u.Hex()
	}
	return &model.RelayPayload{
		Signer:    signer.Hex(),
		Users:     userHex,
		Tier:      tier,
		Nonce:     nonce,
		Signature: hexutil.Encode(sig),
	}, nil
}

func parseUint256(s string) (*model.Uint256, error) {
	u := &model.Uint256{}
	if err := u.UnmarshalJSON([]byte(`"` + s + `"`)); err != nil {
		return nil, err
	}
	return u, nil
}
