package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"wgsession/internal/profile"

	"github.com/spf13/cobra"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

var (
	keysAccount string

	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "manage private keys in the OS keyring",
	}

	keysGenerateCmd = &cobra.Command{
		Use:   "generate",
		Short: "generate a private key into the keyring and print its public key",
		Args:  cobra.NoArgs,
		RunE:  keysGenerate,
	}

	keysImportCmd = &cobra.Command{
		Use:   "import",
		Short: "read a base64 private key from stdin into the keyring",
		Args:  cobra.NoArgs,
		RunE:  keysImport,
	}

	keysPublicCmd = &cobra.Command{
		Use:   "public [ref]",
		Short: "print the public key behind a key reference",
		Args:  cobra.MaximumNArgs(1),
		RunE:  keysPublic,
	}

	keysSealCmd = &cobra.Command{
		Use:   "seal",
		Short: "read a private key from stdin and print a sealed: reference",
		Long:  "seal encrypts the key with the passphrase in $" + profile.PassphraseEnv + ".",
		Args:  cobra.NoArgs,
		RunE:  keysSeal,
	}

	keysDeleteCmd = &cobra.Command{
		Use:   "delete",
		Short: "remove a key from the keyring",
		Args:  cobra.NoArgs,
		RunE:  keysDelete,
	}
)

// keyringAccount extracts the account from a keyring: reference.
func keyringAccount(ref string) (string, bool) {
	account, ok := strings.CutPrefix(ref, "keyring:")
	if !ok || account == "" {
		return "", false
	}
	return account, true
}

func readKey(r io.Reader) (wgtypes.Key, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return wgtypes.Key{}, err
	}
	return wgtypes.ParseKey(strings.TrimSpace(line))
}

func keysGenerate(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := profile.StoreKey(e.cfg.Profile.KeyringService, keysAccount, k); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), k.PublicKey().String())
	return nil
}

func keysImport(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	k, err := readKey(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	if err := profile.StoreKey(e.cfg.Profile.KeyringService, keysAccount, k); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), k.PublicKey().String())
	return nil
}

func keysPublic(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	ref := "keyring:" + keysAccount
	if len(args) == 1 {
		ref = args[0]
	}
	k, err := e.keys().Resolve("private_key", ref)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), k.PublicKey().String())
	return nil
}

func keysSeal(cmd *cobra.Command, _ []string) error {
	if _, err := setup(); err != nil {
		return err
	}
	pass := os.Getenv(profile.PassphraseEnv)
	if pass == "" {
		return fmt.Errorf("set $%s to the passphrase", profile.PassphraseEnv)
	}
	k, err := readKey(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("private key: %w", err)
	}
	sealed, err := profile.SealKey(pass, k)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sealed)
	return nil
}

func keysDelete(_ *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	return profile.DeleteKey(e.cfg.Profile.KeyringService, keysAccount)
}

func init() {
	keysCmd.PersistentFlags().StringVar(&keysAccount, "account", profile.DefaultKeyAccount, "keyring account")
	keysCmd.AddCommand(keysGenerateCmd, keysImportCmd, keysPublicCmd, keysSealCmd, keysDeleteCmd)
	rootCmd.AddCommand(keysCmd)
}
