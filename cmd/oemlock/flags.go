package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/kardianos/oemlock"
	"github.com/kardianos/oemlock/lockdef"
	"github.com/spf13/cobra"
)

var nameCmd = &cobra.Command{
	Use:     "name",
	Short:   "Print the name of the lock implementation",
	GroupID: "flags",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		status, name := svc.Name(cmd.Context())
		if status != oemlock.StatusOK {
			return fmt.Errorf("name: %s", status)
		}
		fmt.Fprintln(cmd.OutOrStdout(), name)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:       "get carrier|device",
	Short:     "Print whether OEM unlock is allowed by the carrier or the device",
	GroupID:   "flags",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"carrier", "device"},
	RunE: func(cmd *cobra.Command, args []string) error {
		field, err := lockdef.ParseField(args[0])
		if err != nil {
			return err
		}
		svc, cleanup, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		var (
			status  oemlock.Status
			allowed bool
		)
		if field == lockdef.FieldCarrier {
			status, allowed = svc.IsCarrierAllowed(cmd.Context())
		} else {
			status, allowed = svc.IsDeviceAllowed(cmd.Context())
		}
		if status != oemlock.StatusOK {
			return fmt.Errorf("get %s: %s", field, status)
		}
		fmt.Fprintln(cmd.OutOrStdout(), allowed)
		return nil
	},
}

var setSignature string

var setCmd = &cobra.Command{
	Use:       "set carrier|device true|false",
	Short:     "Change whether OEM unlock is allowed by the carrier or the device",
	GroupID:   "flags",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"carrier", "device"},
	RunE: func(cmd *cobra.Command, args []string) error {
		field, err := lockdef.ParseField(args[0])
		if err != nil {
			return err
		}
		allowed, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("value %q: want true or false", args[1])
		}
		signature, err := hex.DecodeString(setSignature)
		if err != nil {
			return fmt.Errorf("signature: %w", err)
		}
		if field == lockdef.FieldDevice && len(signature) > 0 {
			return fmt.Errorf("--signature applies to the carrier flag only")
		}

		svc, cleanup, err := openService(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		if field == lockdef.FieldCarrier {
			if st := svc.SetCarrierAllowed(cmd.Context(), allowed, signature); st != oemlock.SecureOK {
				return fmt.Errorf("set %s: %s", field, st)
			}
		} else {
			if st := svc.SetDeviceAllowed(cmd.Context(), allowed); st != oemlock.StatusOK {
				return fmt.Errorf("set %s: %s", field, st)
			}
		}
		return nil
	},
}

func init() {
	setCmd.Flags().StringVar(&setSignature, "signature", "", "hex encoded carrier signature")
}
