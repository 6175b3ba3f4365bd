package cmd

import (
	"errors"
	"fmt"
	"os"

	"wgsession/internal/models"
	"wgsession/internal/profile"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var (
	initProfile     string
	initEndpoint    string
	initPeerKey     string
	initKeyRef      string
	initGenerateKey bool
	initForce       bool

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "write a starter profile that routes everything through one peer",
		RunE:  initProfileFile,
	}
)

func initProfileFile(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}

	if err := models.ValidateEndpoint(initEndpoint); err != nil {
		return err
	}
	if _, err := wgtypes.ParseKey(initPeerKey); err != nil {
		return fmt.Errorf("%w: peer public key: %v", models.ErrConfigInvalid, err)
	}

	keyRef := initKeyRef
	if keyRef == "" {
		keyRef = "keyring:" + profile.DefaultKeyAccount
	}

	var public string
	if initGenerateKey {
		account, ok := keyringAccount(keyRef)
		if !ok {
			return errors.New("--generate-key needs a keyring: key reference")
		}
		k, err := wgtypes.GeneratePrivateKey()
		if err != nil {
			return err
		}
		if err := profile.StoreKey(e.cfg.Profile.KeyringService, account, k); err != nil {
			return fmt.Errorf("store key: %w", err)
		}
		public = k.PublicKey().String()
	}

	path := e.profilePath(initProfile)
	f := profile.Template(initEndpoint, initPeerKey, keyRef)
	if err := profile.WriteFile(path, f, initForce); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s exists, use --force to replace it", path)
		}
		return err
	}
	zap.S().Infow("profile written", "path", path)

	fmt.Fprintln(cmd.OutOrStdout(), path)
	if public != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\n", public)
	}
	return nil
}

func init() {
	initCmd.Flags().StringVarP(&initProfile, "profile", "p", "", "where to write the profile")
	initCmd.Flags().StringVar(&initEndpoint, "endpoint", "", "peer endpoint host:port")
	initCmd.Flags().StringVar(&initPeerKey, "peer-key", "", "peer public key (base64)")
	initCmd.Flags().StringVar(&initKeyRef, "key", "", "private key reference (keyring:, env:, file:, sealed:)")
	initCmd.Flags().BoolVar(&initGenerateKey, "generate-key", false, "generate a private key into the keyring")
	initCmd.Flags().BoolVar(&initForce, "force", false, "replace an existing profile")
	_ = initCmd.MarkFlagRequired("endpoint")
	_ = initCmd.MarkFlagRequired("peer-key")
	rootCmd.AddCommand(initCmd)
}
