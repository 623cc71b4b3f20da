package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/matheus3301/tribe/internal/drafts"
)

type draftView struct {
	ID          string    `json:"id"`
	PendingID   string    `json:"pending_id"`
	TribeID     string    `json:"tribe_id"`
	Status      string    `json:"status"`
	ServerMsgID string    `json:"server_msg_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newDraftsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Inspect drafts waiting to be posted",
	}

	// Read-only: no gateway or poster is needed to query drafts.
	withManager := func(fn func(*drafts.Manager) ([]drafts.Draft, error)) error {
		o, err := openOffline(g)
		if err != nil {
			return err
		}
		defer o.Close()
		m := drafts.NewManager(o.db, nil, nil, nil, nil, o.log, drafts.Options{
			StuckAfter: g.cfg.Drafts.StuckAfter.Duration,
		})
		defer m.Close()
		list, err := fn(m)
		if err != nil {
			return err
		}
		return printDrafts(g, list)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <tribe-id>",
		Short: "List drafts of a tribe",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withManager(func(m *drafts.Manager) ([]drafts.Draft, error) {
				return m.Drafts(args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stuck",
		Short: "List drafts that have been uploading for too long",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return withManager(func(m *drafts.Manager) ([]drafts.Draft, error) {
				return m.StuckDrafts(time.Now())
			})
		},
	})
	return cmd
}

func printDrafts(g *globals, list []drafts.Draft) error {
	views := make([]draftView, 0, len(list))
	for _, d := range list {
		views = append(views, draftView{
			ID:          d.ID.String(),
			PendingID:   d.PendingID.String(),
			TribeID:     d.TribeID,
			Status:      string(d.Status),
			ServerMsgID: d.ServerMsgID,
			Timestamp:   d.Timestamp,
			UpdatedAt:   d.UpdatedAt,
		})
	}
	if g.json {
		return outputJSON(views)
	}
	if len(views) == 0 {
		fmt.Println("No drafts.")
		return nil
	}
	for _, v := range views {
		fmt.Printf("%s  %-16s  tribe=%s  updated=%s\n", v.ID, v.Status, v.TribeID, v.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}
