package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long:  "Check server health. With --wait, poll until the server answers or the duration passes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := waitForHealth(wait, 250*time.Millisecond)
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep polling for up to this long")

	return cmd
}

func waitForHealth(wait, interval time.Duration) (HealthResult, error) {
	deadline := time.Now().Add(wait)
	for {
		var result HealthResult
		err := client.Get("/api/v1/health", &result)
		if err == nil && result.Status == "ok" {
			return result, nil
		}
		if time.Now().After(deadline) {
			if err == nil {
				err = fmt.Errorf("server reported status %q", result.Status)
			}
			return result, err
		}
		time.Sleep(interval)
	}
}
