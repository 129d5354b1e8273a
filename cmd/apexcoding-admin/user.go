package main

import (
	"context"
	"errors"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/apexcoding/apexcoding/internal/repository"
	"github.com/apexcoding/apexcoding/internal/service"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserSetActiveCmd("enable", true))
	cmd.AddCommand(newUserSetActiveCmd("disable", false))
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var input service.CreateUserInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.Services.Users.Create(ctx, input)
			if err != nil {
				return err
			}
			cmd.Printf("created user %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&input.Username, "username", "", "login name")
	cmd.Flags().StringVar(&input.Email, "email", "", "email address")
	cmd.Flags().StringVar(&input.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&input.Name, "name", "", "display name")
	cmd.Flags().BoolVar(&input.IsAdmin, "admin", false, "grant administrative privileges")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserListCmd() *cobra.Command {
	var opts repository.ListOptions

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Backend.Repos.User.List(ctx, opts.Normalize())
			if err != nil {
				return err
			}

			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "USERNAME", "EMAIL", "ADMIN", "ACTIVE", "FRIENDS", "CREATED AT"})
			for _, u := range res.Items {
				tw.AppendRow(table.Row{u.ID, u.Username, u.Email, u.IsAdmin, u.IsActive, len(u.Friends), humanAge(u.CreatedAt)})
			}
			cmd.Printf("%s\n", tw.Render())
			cmd.Printf("%d of %d users\n", len(res.Items), res.Total)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "number of users to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", repository.DefaultListLimit, "maximum number of users to list")
	return cmd
}

func newUserSetActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: "Mark a user account as " + map[bool]string{true: "active", false: "inactive"}[active],
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.Services.Users.GetByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			if user.IsActive == active {
				return errors.New("user is already " + use + "d")
			}
			if err := a.Services.Users.SetActive(ctx, user.ID, active); err != nil {
				return err
			}
			cmd.Printf("%sd user %s\n", use, user.Username)
			return nil
		},
	}
}
