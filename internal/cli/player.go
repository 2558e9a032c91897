package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPlayerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Player management commands",
	}

	cmd.AddCommand(newPlayerGuestCmd())
	cmd.AddCommand(newPlayerRegisterCmd())
	cmd.AddCommand(newPlayerLoginCmd())
	cmd.AddCommand(newPlayerLogoutCmd())
	cmd.AddCommand(newPlayerMeCmd())
	cmd.AddCommand(newPlayerListCmd())

	return cmd
}

func newPlayerGuestCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "guest",
		Short: "Create a guest player",
		Long:  "Create a guest player. Without --name the server picks one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{"display_name": name}
			var result AuthResult

			if err := client.Post("/api/v1/players/guest", req, &result); err != nil {
				return err
			}

			// Save token
			if err := cfg.SaveToken(result.SessionToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name")

	return cmd
}

func newPlayerRegisterCmd() *cobra.Command {
	var name, user, pass string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new player account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" || pass == "" {
				return fmt.Errorf("--user and --pass are required")
			}

			req := map[string]string{
				"display_name": name,
				"username":     user,
				"password":     pass,
			}
			var result AuthResult

			if err := client.Post("/api/v1/players/register", req, &result); err != nil {
				return err
			}

			// Save token
			if err := cfg.SaveToken(result.SessionToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to username)")
	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func newPlayerLoginCmd() *cobra.Command {
	var user, pass string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login with existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" || pass == "" {
				return fmt.Errorf("--user and --pass are required")
			}

			req := map[string]string{
				"username": user,
				"password": pass,
			}
			var result AuthResult

			if err := client.Post("/api/v1/players/login", req, &result); err != nil {
				return err
			}

			// Save token
			if err := cfg.SaveToken(result.SessionToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func newPlayerMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show current player info",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Player

			if err := client.Get("/api/v1/players/me", &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}

func newPlayerLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Post("/api/v1/players/logout", nil, nil); err != nil {
				return err
			}
			if err := cfg.ClearToken(); err != nil {
				return fmt.Errorf("failed to remove token: %w", err)
			}

			out := NewOutput(cfg.Output)
			out.PrintMessage("Signed out")
			return nil
		},
	}
}

func newPlayerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all players",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result PlayerList

			if err := client.Get("/api/v1/players", &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}
