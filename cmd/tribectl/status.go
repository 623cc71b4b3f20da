package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/tribe/internal/daemon"
	"github.com/matheus3301/tribe/internal/profile"
)

type statusReport struct {
	Profile string `json:"profile"`
	Daemon  string `json:"daemon"`
	Session string `json:"session"`
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and session health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			conn, err := grpc.NewClient(
				"unix://"+profile.SocketPath(g.profile),
				grpc.WithTransportCredentials(insecure.NewCredentials()),
			)
			if err != nil {
				return fmt.Errorf("cannot connect to daemon for profile %q: %w", g.profile, err)
			}
			defer func() { _ = conn.Close() }()
			hc := healthpb.NewHealthClient(conn)

			overall, err := hc.Check(ctx, &healthpb.HealthCheckRequest{})
			if err != nil {
				return fmt.Errorf("daemon for profile %q not reachable: %w", g.profile, err)
			}
			session, err := hc.Check(ctx, &healthpb.HealthCheckRequest{Service: daemon.SessionService})
			if err != nil {
				return err
			}

			r := statusReport{
				Profile: g.profile,
				Daemon:  overall.Status.String(),
				Session: "logged_out",
			}
			if session.Status == healthpb.HealthCheckResponse_SERVING {
				r.Session = "active"
			}
			if g.json {
				return outputJSON(r)
			}
			fmt.Printf("Profile: %s\n", r.Profile)
			fmt.Printf("Daemon:  %s\n", r.Daemon)
			fmt.Printf("Session: %s\n", r.Session)
			return nil
		},
	}
}
