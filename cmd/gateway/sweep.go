package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mind-engage/lti-assistant/internal/session"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deactivate expired sessions once and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		dbh, err := openDB(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer dbh.Close()

		sw := &session.Sweeper{Store: session.NewStore(dbh), Log: log}
		n, err := sw.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deactivated %d expired sessions\n", n)
		return nil
	},
}
