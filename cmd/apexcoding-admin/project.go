package main

import (
	"context"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// systemCaller acts for the operator. Activities it records carry no user.
var systemCaller = domain.Caller{IsAdmin: true}

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectReleaseCmd())
	return cmd
}

func newProjectListCmd() *cobra.Command {
	var filter repository.ProjectFilter

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Services.Projects.List(ctx, filter)
			if err != nil {
				return err
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "NAME", "STATUS", "OWNER", "MEMBERS", "CHECKED OUT BY", "LEASE EXPIRES", "UPDATED"})
			for _, p := range res.Items {
				holder, expires := "-", "-"
				if p.IsCheckedOut() {
					holder = p.Holder()
				}
				if p.LeaseExpiresAt != nil {
					expires = p.LeaseExpiresAt.Format(time.RFC3339)
				}
				tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.OwnedBy, len(p.Members), holder, expires, humanAge(p.LastUpdated)})
			}
			cmd.Printf("%s\n", tw.Render())
			cmd.Printf("%d of %d projects\n", len(res.Items), res.Total)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.OwnerID, "owner", "", "only projects owned by this user id")
	cmd.Flags().StringVar(&filter.MemberID, "member", "", "only projects with this member id")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "number of projects to skip")
	cmd.Flags().IntVar(&filter.Limit, "limit", repository.DefaultListLimit, "maximum number of projects to list")
	return cmd
}

func newProjectReleaseCmd() *cobra.Command {
	var expired bool

	cmd := &cobra.Command{
		Use:   "release [project-id]",
		Short: "Force release a checkout, or every expired lease with --expired",
		Args: func(cmd *cobra.Command, args []string) error {
			if expired {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if expired {
				if a.Reaper == nil {
					cmd.Println("checkout leases are disabled; nothing can expire")
					return nil
				}
				result := a.Reaper.RunOnce(ctx)
				if result.Err != nil {
					return result.Err
				}
				cmd.Printf("released %d expired checkouts\n", len(result.Released))
				return nil
			}

			project, err := a.Services.Checkout.ForceRelease(ctx, systemCaller, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("released %s (%s)\n", project.Name, project.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&expired, "expired", false, "release every checkout whose lease has expired")
	return cmd
}
