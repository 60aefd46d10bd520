package main

import (
	"fmt"

	"github.com/kardianos/oemlock/channel"
	"github.com/spf13/cobra"
)

var fingerprintClient bool

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the certificate fingerprint of this host",
	Long: `Print the certificate fingerprint of the server identity, creating the
identity when it does not exist yet. Callers pin it with server_fp.

With --client, print the caller identity instead, to be added to the
allowed_clients list of the server.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name := storeServer
		if fingerprintClient {
			name = storeClient
		}
		store, closer, err := openStore(cfg, name)
		if err != nil {
			return err
		}
		defer closer.Close()

		identity, err := channel.LoadOrCreateIdentity(store, cfg.Identity)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), channel.FingerprintOf(identity))
		return nil
	},
}

func init() {
	fingerprintCmd.Flags().BoolVar(&fingerprintClient, "client", false, "print the caller identity fingerprint")
}
