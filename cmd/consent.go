package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	consentCmd = &cobra.Command{
		Use:   "consent",
		Short: "inspect or revoke remembered permissions",
	}

	consentStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "show which permissions were granted",
		Args:  cobra.NoArgs,
		RunE:  consentStatus,
	}

	consentRevokeCmd = &cobra.Command{
		Use:   "revoke [vpn|notifications]",
		Short: "forget a permission so the next start asks again",
		Args:  cobra.MaximumNArgs(1),
		RunE:  consentRevoke,
	}
)

func consentScopes(args []string) ([]string, error) {
	if len(args) == 0 {
		return []string{scopeVPN, scopeNotifications}, nil
	}
	if _, ok := consentText[args[0]]; !ok {
		return nil, fmt.Errorf("unknown permission %q", args[0])
	}
	return args, nil
}

func consentStatus(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	for _, scope := range []string{scopeVPN, scopeNotifications} {
		rec, ok, err := e.gate(scope, nil).Stored()
		switch {
		case err != nil:
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s unreadable: %v\n", scope, err)
		case ok:
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s granted %s\n", scope, rec.GrantedAt.Local().Format(time.RFC3339))
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s not granted\n", scope)
		}
	}
	return nil
}

func consentRevoke(_ *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	scopes, err := consentScopes(args)
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		if err := e.gate(scope, nil).Revoke(); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	consentCmd.AddCommand(consentStatusCmd, consentRevokeCmd)
	rootCmd.AddCommand(consentCmd)
}
