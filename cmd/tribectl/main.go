package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/matheus3301/tribe/internal/config"
	"github.com/matheus3301/tribe/internal/profile"
)

type globals struct {
	profile string
	json    bool
	cfg     *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "tribectl",
		Short:         "Inspect and maintain a tribe profile",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load .env: %w", err)
			}
			g.profile = profile.Resolve(g.profile)
			if err := profile.ValidateName(g.profile); err != nil {
				return err
			}
			cfg, err := config.LoadWithEnv(profile.ConfigPath())
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			g.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.profile, "profile", "", "profile name (overrides config default)")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "output in JSON format")

	root.AddCommand(
		newStatusCmd(g),
		newKeysCmd(g),
		newEncryptCmd(g),
		newDecryptCmd(g),
		newRewrapCmd(g),
		newCacheCmd(g),
		newDraftsCmd(g),
	)
	return root
}
