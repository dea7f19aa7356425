package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	infrahttp "github.com/yukia3e/invite-tier-relayer/internal/infrastructure/http"
)

func sendCmd() *cobra.Command {
	opts := &signOptions{}
	var relayURL string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Sign a SetInviteTier request and submit it to a relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := signFromFlags(cmd.Context(), opts)
			if err != nil {
				return err
			}
			log.Debug().Str("signer", payload.Signer).Str("nonce", payload.Nonce.String()).Msg("relayctl: sending payload")

			client := infrahttp.NewRelayClient(&http.Client{Timeout: time.Minute}, relayURL)
			res, err := client.RelayTransaction(cmd.Context(), *payload)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("relay rejected the request with %d %s", res.StatusCode, res.Error)
			}
			return nil
		},
	}
	addSignFlags(cmd, opts)
	cmd.Flags().StringVar(&relayURL, "relay", "http://127.0.0.1:8080", "relay base URL")
	return cmd
}
