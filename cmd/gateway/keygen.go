package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mind-engage/lti-assistant/internal/auth/jwks"
	"github.com/mind-engage/lti-assistant/internal/secrets"
)

func newKeygenCmd() *cobra.Command {
	var (
		bits   int
		escape bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the tool's RSA signing key pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			priv, pub, err := jwks.GenerateKeyPEM(bits)
			if err != nil {
				return err
			}
			if escape {
				priv = strings.ReplaceAll(strings.TrimSpace(priv), "\n", `\n`)
				pub = strings.ReplaceAll(strings.TrimSpace(pub), "\n", `\n`)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "LTI_KID=%s\n", uuid.NewString())
			fmt.Fprintf(out, "LTI_PRIVATE_KEY=%s\n", priv)
			fmt.Fprintf(out, "LTI_PUBLIC_KEY=%s\n", pub)
			return nil
		},
	}
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	cmd.Flags().BoolVar(&escape, "env", true, `escape newlines as \n for .env files`)
	return cmd
}

func newGenSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-secret",
		Short: "Generate an ENCRYPTION_SECRET value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := secrets.GenerateMasterSecret()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ENCRYPTION_SECRET=%s\n", s)
			return nil
		},
	}
}
