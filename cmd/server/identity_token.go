package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ehrconsent/internal/identity"
	"ehrconsent/internal/platform/config"
)

// identityTokenCmd mints a caller identity token for local development.
// Production identities come from the external authentication system.
func identityTokenCmd(envFile *string) *cobra.Command {
	var (
		subject    string
		hospitalID string
		role       string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "identity-token",
		Short: "Mint a development identity token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			if len(cfg.IdentitySigningKey) < config.MinSecretLength {
				return fmt.Errorf("IDENTITY_SIGNING_KEY must be at least %d bytes", config.MinSecretLength)
			}
			if !cfg.IsDev() {
				return fmt.Errorf("identity-token is only available when ENV=development")
			}
			switch role {
			case identity.RolePatient, identity.RoleDoctor, identity.RoleStaff:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := identity.NewJWTService(cfg.IdentitySigningKey, cfg.TokenIssuer).Issue(subject, hospitalID, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "caller id (patientId or recipientId)")
	cmd.Flags().StringVar(&hospitalID, "hospital", "", "caller hospital id")
	cmd.Flags().StringVar(&role, "role", identity.RolePatient, "patient, doctor or staff")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
