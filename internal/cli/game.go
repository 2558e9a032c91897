package cli

import (
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Secret catalog and selection commands",
	}

	cmd.AddCommand(newSecretListCmd())
	cmd.AddCommand(newSecretChooseCmd())

	return cmd
}

func newSecretListCmd() *cobra.Command {
	var query string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the suggested secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/secrets"
			if query != "" {
				path += "?q=" + url.QueryEscape(query)
			}

			var result SecretList
			if err := client.Get(path, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "", "Only show secrets containing this text")

	return cmd
}

func newSecretChooseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "choose <secret>",
		Short: "Choose your secret",
		Long:  "Choose your secret. It can be changed until someone guesses it.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{"secret": strings.Join(args, " ")}
			var result Player

			if err := client.Put("/api/v1/players/me/secret", req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}

func newGuessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guess <player-id> <secret>",
		Short: "Guess another player's secret",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{
				"target_id": args[0],
				"guess":     strings.Join(args[1:], " "),
			}
			var result GuessResult

			if err := client.Post("/api/v1/guesses", req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}

func newLeaderboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Show players ranked by points",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Leaderboard

			if err := client.Get("/api/v1/leaderboard", &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}
}
