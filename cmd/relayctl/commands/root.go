package commands

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yukia3e/invite-tier-relayer/internal/domain/model"
	"github.com/yukia3e/invite-tier-relayer/internal/util"
)

var v = viper.New()

// Execute runs relayctl. Every flag can also be set through the environment
// variable the relayer itself reads, e.g. --rpc via RPC_ENDPOINT.
func Execute() error {
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Sign and submit gasless SetInviteTier requests",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.SetupLogger(v.GetString("LOG_LEVEL"), true)
		},
	}

	flags := root.PersistentFlags()
	flags.String("rpc", "", "RPC endpoint (RPC_ENDPOINT)")
	flags.String("contract", "", "invite tier contract address (CONTRACT_ADDRESS)")
	flags.String("chain-id", "", "chain id (CHAIN_ID)")
	flags.String("domain-name", "", "EIP-712 domain name (DOMAIN_NAME)")
	flags.String("domain-version", "", "EIP-712 domain version (DOMAIN_VERSION)")
	flags.String("log-level", "warn", "log level (LOG_LEVEL)")
	bindFlags(root, map[string]string{
		"rpc":            "RPC_ENDPOINT",
		"contract":       "CONTRACT_ADDRESS",
		"chain-id":       "CHAIN_ID",
		"domain-name":    "DOMAIN_NAME",
		"domain-version": "DOMAIN_VERSION",
		"log-level":      "LOG_LEVEL",
	})
	v.AutomaticEnv()

	root.AddCommand(signCmd(), sendCmd(), kmsAddressCmd(), kmsCreateKeyCmd())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return root.ExecuteContext(ctx)
}

func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		f := cmd.PersistentFlags().Lookup(flag)
		if f == nil {
			f = cmd.Flags().Lookup(flag)
		}
		if err := v.BindPFlag(key, f); err != nil {
			panic(err)
		}
	}
}

func signingDomain() (model.SigningDomain, error) {
	contract := v.GetString("CONTRACT_ADDRESS")
	if !common.IsHexAddress(contract) {
		return model.SigningDomain{}, fmt.Errorf("--contract must be a hex address, got %q", contract)
	}
	chainID, ok := new(big.Int).SetString(strings.TrimSpace(v.GetString("CHAIN_ID")), 10)
	if !ok || chainID.Sign() <= 0 {
		return model.SigningDomain{}, fmt.Errorf("--chain-id must be a positive integer, got %q", v.GetString("CHAIN_ID"))
	}
	name, version := v.GetString("DOMAIN_NAME"), v.GetString("DOMAIN_VERSION")
	if name == "" || version == "" {
		return model.SigningDomain{}, fmt.Errorf("--domain-name and --domain-version are required")
	}
	return model.SigningDomain{
		Name:              name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(contract),
	}, nil
}
