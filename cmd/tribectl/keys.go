package main

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matheus3301/tribe/internal/crypto"
)

type keyInfo struct {
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"`
	Created   bool   `json:"created,omitempty"`
}

func newKeysCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the device identity key pair",
	}

	printKey := func(kp crypto.KeyPair, created bool) error {
		info := keyInfo{
			KeyID:     kp.ID(),
			PublicKey: base64.StdEncoding.EncodeToString(kp.Public),
			Created:   created,
		}
		if g.json {
			return outputJSON(info)
		}
		fmt.Printf("Key ID:     %s\n", info.KeyID)
		fmt.Printf("Public key: %s\n", info.PublicKey)
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Generate the identity key pair if the profile has none",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			o, err := openOffline(g)
			if err != nil {
				return err
			}
			defer o.Close()
			kp, created, err := crypto.EnsureIdentity(o.ks)
			if err != nil {
				return err
			}
			return printKey(kp, created)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the identity key id and public key",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			o, err := openOffline(g)
			if err != nil {
				return err
			}
			defer o.Close()
			kp, ok, err := crypto.LoadIdentity(o.ks)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("no identity; run tribectl keys init")
			}
			return printKey(kp, false)
		},
	})

	var force bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Delete the identity key pair",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if !force {
				return errors.New("content wrapped for this key becomes unreadable; pass --force")
			}
			o, err := openOffline(g)
			if err != nil {
				return err
			}
			defer o.Close()
			if err := crypto.ResetIdentity(o.ks); err != nil {
				return err
			}
			fmt.Println("Identity removed.")
			return nil
		},
	}
	reset.Flags().BoolVar(&force, "force", false, "confirm deletion")
	cmd.AddCommand(reset)
	return cmd
}
