package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/tribe/internal/cache"
	"github.com/matheus3301/tribe/internal/profile"
)

func newCacheCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and trim the local cache",
	}

	openCache := func(o *offline) (*cache.Cache, error) {
		return cache.New(profile.CacheDir(g.profile), o.ks, g.cfg.Cache.Expiry.Duration, nil, o.log)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "trim",
		Short: "Remove entries not accessed within the expiry",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			o, err := openOffline(g)
			if err != nil {
				return err
			}
			defer o.Close()
			c, err := openCache(o)
			if err != nil {
				return err
			}
			n, err := c.TrimStaleData(time.Now())
			if err != nil {
				return err
			}
			if g.json {
				return outputJSON(cache.TrimReport{Removed: n, At: time.Now()})
			}
			fmt.Printf("Removed %d entries.\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tracked cache entries by last access",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			o, err := openOffline(g)
			if err != nil {
				return err
			}
			defer o.Close()
			c, err := openCache(o)
			if err != nil {
				return err
			}
			records := c.Records()
			if g.json {
				return outputJSON(records)
			}
			for _, r := range records {
				fmt.Printf("%s  %s\n", r.LastAccessed.Format(time.RFC3339), r.Key)
			}
			return nil
		},
	})
	return cmd
}
