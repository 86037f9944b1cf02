package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"example.com/presence/internal/api"
	"example.com/presence/internal/auth"
	"example.com/presence/internal/dashboard"
)

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "record <subject-id> online|offline",
		Short: "Record a presence transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var goingOnline bool
			switch strings.ToLower(args[1]) {
			case "online", "on":
				goingOnline = true
			case "offline", "off":
			default:
				return fmt.Errorf("state must be online or offline, got %q", args[1])
			}

			record, err := opts.client().recordTransition(cmd.Context(), api.TransitionRequest{
				SubjectID:   args[0],
				DisplayName: displayName,
				Online:      &goingOnline,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is %s (sessions=%d, version=%d)\n",
				color.GreenString("recorded"), record.SubjectID, statusText(record.Status), record.SessionCount, record.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "name", "", "display name shown on the dashboard")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List presence records of the token's group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := opts.client().listPresence(cmd.Context())
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), resp.Items)
			return nil
		},
	}
}

func newPreviewCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "preview",
		Aliases: []string{"render"},
		Short:   "Render the dashboard without posting it",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := opts.client().preview(cmd.Context())
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Create or update the group's dashboard message now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.client().reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s dashboard %s in %s\n",
				color.GreenString("reconciled"), cfg.ArtifactMessageID, cfg.ArtifactChannelID)
			return nil
		},
	}
}

func newChannelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "channel [channel-id]",
		Short: "Show or set the dashboard channel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			var (
				cfg api.ConfigView
				err error
			)
			if len(args) == 1 {
				cfg, err = client.setChannel(cmd.Context(), args[0])
			} else {
				cfg, err = client.channel(cmd.Context())
			}
			if err != nil {
				return err
			}
			printConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		issuer  string
		subject string
		group   string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the presence API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(group) == "" {
				return fmt.Errorf("--group is required")
			}
			token, err := auth.Sign(auth.Config{Secret: secret, Issuer: issuer}, subject, group, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", envOr("JWT_SECRET", "dev-secret-change-me"), "HS256 signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", envOr("JWT_ISSUER", "presence.identity"), "token issuer")
	cmd.Flags().StringVar(&subject, "subject", "presencectl", "token subject")
	cmd.Flags().StringVar(&group, "group", "", "group the token is scoped to")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{auth.ScopePresenceRead, auth.ScopePresenceWrite}, "granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func statusText(status string) string {
	if status == "online" {
		return color.GreenString(status)
	}
	return color.HiBlackString(status)
}

func printRecords(out io.Writer, records []api.RecordView) {
	if len(records) == 0 {
		fmt.Fprintln(out, "no presence records")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tNAME\tSTATUS\tDAY\tWEEK\tMONTH\tTOTAL\tSESSIONS")
	for _, record := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			record.SubjectID,
			record.DisplayName,
			record.Status,
			seconds(record.DailySeconds),
			seconds(record.WeeklySeconds),
			seconds(record.MonthlySeconds),
			seconds(record.TotalSeconds),
			record.SessionCount,
		)
	}
	_ = tw.Flush()
}

func printSummary(out io.Writer, summary api.SummaryView) {
	fmt.Fprintln(out, color.New(color.Bold).Sprint(summary.Title))
	if summary.EmptyMessage != "" && len(summary.Online)+len(summary.Offline) == 0 {
		fmt.Fprintln(out, summary.EmptyMessage)
		return
	}
	printLines(out, color.GreenString("Online"), summary.Online)
	printLines(out, color.HiBlackString("Offline"), summary.Offline)
	fmt.Fprintf(out, "%d subjects, generated %s\n", summary.Total, summary.GeneratedAt.Format(time.RFC3339))
}

func printLines(out io.Writer, heading string, lines []api.SummaryLineView) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(out, heading)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, line := range lines {
		fmt.Fprintf(tw, "  %s %s\tday %s\tweek %s\tmonth %s\n", line.Glyph, line.Label, line.Day, line.Week, line.Month)
	}
	_ = tw.Flush()
}

func printConfig(out io.Writer, cfg api.ConfigView) {
	channel := cfg.DashboardChannelID
	if channel == "" {
		channel = color.YellowString("(not configured)")
	}
	fmt.Fprintf(out, "group:     %s\nchannel:   %s\n", cfg.GroupID, channel)
	if cfg.ArtifactMessageID != "" {
		fmt.Fprintf(out, "dashboard: %s in %s\n", cfg.ArtifactMessageID, cfg.ArtifactChannelID)
	}
}

func seconds(s int64) string {
	return dashboard.FormatDuration(time.Duration(s) * time.Second)
}
