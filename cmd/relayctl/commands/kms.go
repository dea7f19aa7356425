package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yukia3e/invite-tier-relayer/internal/infrastructure/wallet"
)

type kmsOptions struct {
	keyID string
}

func addKMSFlags(cmd *cobra.Command, opts *kmsOptions) {
	cmd.Flags().String("project", "", "GCP project (GCP_PROJECT_ID)")
	cmd.Flags().String("location", "asia-northeast1", "KMS location (KMS_LOCATION)")
	cmd.Flags().String("key-ring", "", "KMS key ring (KEY_RING_ID)")
	cmd.Flags().String("credentials", "", "service account credential file (KMS_CREDENTIAL_FILE_PATH)")
	cmd.Flags().StringVar(&opts.keyID, "key-id", "", "crypto key id (RELAYER_KEY_ID)")
	// Both KMS commands share the keys, so bind only for the command being run.
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		bindFlags(cmd, map[string]string{
			"project":     "GCP_PROJECT_ID",
			"location":    "KMS_LOCATION",
			"key-ring":    "KEY_RING_ID",
			"credentials": "KMS_CREDENTIAL_FILE_PATH",
		})
	}
}

func (o *kmsOptions) resolveKeyID() (string, error) {
	if o.keyID == "" {
		o.keyID = v.GetString("RELAYER_KEY_ID")
	}
	if o.keyID == "" {
		return "", fmt.Errorf("--key-id is required")
	}
	return o.keyID, nil
}

func kmsKeyRing() (wallet.KeyRing, error) {
	keyRing := wallet.KeyRing{
		ProjectID: v.GetString("GCP_PROJECT_ID"),
		Location:  v.GetString("KMS_LOCATION"),
		KeyRingID: v.GetString("KEY_RING_ID"),
	}
	if keyRing.ProjectID == "" || keyRing.Location == "" || keyRing.KeyRingID == "" {
		return wallet.KeyRing{}, fmt.Errorf("--project, --location and --key-ring are required")
	}
	return keyRing, nil
}

func kmsAddressCmd() *cobra.Command {
	opts := &kmsOptions{}
	cmd := &cobra.Command{
		Use:   "kms-address",
		Short: "Print the Ethereum address of a KMS relayer key",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := opts.resolveKeyID()
			if err != nil {
				return err
			}
			keyRing, err := kmsKeyRing()
			if err != nil {
				return err
			}

			kmsClient, err := wallet.NewKMSClient(cmd.Context(), v.GetString("KMS_CREDENTIAL_FILE_PATH"))
			if err != nil {
				return err
			}
			defer kmsClient.Close()

			address, err := wallet.NewKeyRepository(kmsClient, keyRing).GetHexAddress(cmd.Context(), keyID)
			if err != nil {
				return err
			}
			fmt.Println(address)
			return nil
		},
	}
	addKMSFlags(cmd, opts)
	return cmd
}

func kmsCreateKeyCmd() *cobra.Command {
	opts := &kmsOptions{}
	cmd := &cobra.Command{
		Use:   "kms-create-key",
		Short: "Create an HSM secp256k1 relayer key and print its address",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := opts.resolveKeyID()
			if err != nil {
				return err
			}
			keyRing, err := kmsKeyRing()
			if err != nil {
				return err
			}

			kmsClient, err := wallet.NewKMSClient(cmd.Context(), v.GetString("KMS_CREDENTIAL_FILE_PATH"))
			if err != nil {
				return err
			}
			defer kmsClient.Close()

			repo := wallet.NewKeyRepository(kmsClient, keyRing)
			name, err := repo.CreateCryptoKey(cmd.Context(), keyID)
			if err != nil {
				return err
			}
			address, err := repo.GetHexAddress(cmd.Context(), keyID)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n%s\n", name, address)
			return nil
		},
	}
	addKMSFlags(cmd, opts)
	return cmd
}
