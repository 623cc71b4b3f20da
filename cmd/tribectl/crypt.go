package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/matheus3301/tribe/internal/crypto"
)

func newEncryptCmd(g *globals) *cobra.Command {
	var to []string
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt stdin for this device and the given public keys",
		Long: "Encrypt stdin under a fresh content key wrapped for every recipient.\n" +
			"Recipients are base64 public keys; this device is always included.",
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			plaintext, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
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

			extra, err := parseRecipients(to)
			if err != nil {
				return err
			}
			recipients := append([]crypto.PublicKey{kp.Public}, extra...)

			enc, err := crypto.NewService(o.log).EncryptBytes(plaintext, recipients)
			if err != nil {
				return err
			}
			return outputJSON(enc)
		},
	}
	cmd.Flags().StringArrayVar(&to, "to", nil, "recipient public key (base64), repeatable")
	return cmd
}

func newDecryptCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt encrypted content JSON from stdin with this device's key",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			var enc crypto.EncryptedContent
			if err := json.NewDecoder(os.Stdin).Decode(&enc); err != nil {
				return fmt.Errorf("decode input: %w", err)
			}
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

			plaintext, err := crypto.NewService(o.log).Decrypt(enc, kp.Private, kp.ID())
			if err != nil {
				return err
			}
			defer crypto.Wipe(plaintext)
			_, err = os.Stdout.Write(plaintext)
			return err
		},
	}
}

func newRewrapCmd(g *globals) *cobra.Command {
	var to []string
	cmd := &cobra.Command{
		Use:   "rewrap",
		Short: "Grant more public keys access to encrypted content JSON from stdin",
		Long: "Wrap the content key of encrypted content for additional recipients.\n" +
			"The ciphertext is unchanged; this device must already be a recipient.",
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			recipients, err := parseRecipients(to)
			if err != nil {
				return err
			}
			if len(recipients) == 0 {
				return errors.New("at least one --to key is required")
			}
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

			out, err := rewrap(crypto.NewService(o.log), kp, os.Stdin, recipients)
			if err != nil {
				return err
			}
			return outputJSON(out)
		},
	}
	cmd.Flags().StringArrayVar(&to, "to", nil, "recipient public key (base64), repeatable")
	return cmd
}

// rewrap reads encrypted content JSON from r and adds entries for recipients.
func rewrap(svc *crypto.Service, kp crypto.KeyPair, r io.Reader, recipients []crypto.PublicKey) (crypto.EncryptedContent, error) {
	var enc crypto.EncryptedContent
	if err := json.NewDecoder(r).Decode(&enc); err != nil {
		return crypto.EncryptedContent{}, fmt.Errorf("decode input: %w", err)
	}
	return svc.Rewrap(enc, kp.Private, kp.ID(), recipients)
}

func parseRecipients(keys []string) ([]crypto.PublicKey, error) {
	recipients := make([]crypto.PublicKey, 0, len(keys))
	for _, s := range keys {
		pub, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("recipient %q: %w", s, err)
		}
		recipients = append(recipients, pub)
	}
	return recipients, nil
}
