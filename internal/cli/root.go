// Package cli implements presencectl, an operator CLI for the presence API.
package cli

import (
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	apiURL  string
	token   string
	timeout time.Duration
}

func (o *rootOptions) client() *apiClient {
	return newAPIClient(o.apiURL, o.token, &http.Client{Timeout: o.timeout})
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "presencectl",
		Short:         color.CyanString("presencectl") + " - operate the presence service",
		Long:          "Record transitions, inspect presence, and drive the activity dashboard through the presence API.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", envOr("PRESENCE_API", "http://localhost:8080"), "presence API base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PRESENCE_TOKEN"), "bearer token (see `presencectl token`)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "request timeout")

	cmd.AddCommand(
		newRecordCmd(opts),
		newListCmd(opts),
		newPreviewCmd(opts),
		newReconcileCmd(opts),
		newChannelCmd(opts),
		newTokenCmd(),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
