package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"discord-digest/internal/domain"
	"discord-digest/internal/infra/config"
	"discord-digest/internal/infra/ollama"
	"discord-digest/internal/usecase/rollup"
	"discord-digest/internal/usecase/summary"
)

func sweepCmd() *cobra.Command {
	var channels []string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Summarize new messages in every configured channel",
		Long: `Run one sweep immediately, bypassing the scheduler.

Examples:
  digestctl sweep
  digestctl sweep --channel 1234567890`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			pipeline, err := a.Pipeline()
			if err != nil {
				return err
			}
			if len(channels) > 0 {
				pipeline.Channels = channels
			}
			outcomes, err := a.Summary.Sweep(cmd.Context(), pipeline, time.Now().UTC())
			if err != nil {
				return err
			}
			printOutcomes(cmd.OutOrStdout(), outcomes)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&channels, "channel", nil, "limit the sweep to these channel IDs")
	return cmd
}

func rollupCmd() *cobra.Command {
	var preview bool
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Run the daily rollup gate and deliver if due",
		Long: `Evaluate the send window and deliver the daily rollup when it is due.

With --preview the rollup for the trailing 24 hours is printed and nothing is sent or recorded.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			pipeline, err := a.Pipeline()
			if err != nil {
				return err
			}
			svc, err := a.NewRollup()
			if err != nil {
				return err
			}
			now := time.Now().UTC()
			out := cmd.OutOrStdout()
			if preview {
				decision, err := svc.Evaluate(cmd.Context(), pipeline, now)
				if err != nil {
					return err
				}
				r, err := svc.Build(cmd.Context(), pipeline, now, decision.CalendarDate)
				if err != nil {
					return err
				}
				printDecision(out, decision)
				fmt.Fprintln(out)
				fmt.Fprintln(out, rollup.FormatRollup(r))
				return nil
			}
			result, err := svc.Run(cmd.Context(), pipeline, now)
			if err != nil {
				return err
			}
			printDecision(out, result.Decision)
			if result.Error != nil {
				return result.Error
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "print the rollup without sending it")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check Discord credentials and the summarization backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			out := cmd.OutOrStdout()

			var failed bool
			username, err := a.Discord.CheckAuth(cmd.Context())
			failed = printCheck(out, "discord", "authenticated as "+username, err) || failed

			if strings.EqualFold(a.Config.Summarizer.Provider, config.ProviderOllama) {
				client := ollama.NewClient(a.Config.Summarizer.OllamaURL, nil)
				ok, available, err := client.CheckModel(cmd.Context(), a.Config.Summarizer.OllamaModel)
				if err == nil && !ok {
					err = fmt.Errorf("model %q not found, available: %s", a.Config.Summarizer.OllamaModel, strings.Join(available, ", "))
				}
				failed = printCheck(out, "ollama", "model "+a.Config.Summarizer.OllamaModel+" available", err) || failed
			} else {
				printCheck(out, a.Config.Summarizer.Provider, "model "+a.Summarizer.Model(), nil)
			}

			if failed {
				return errors.New("connectivity check failed")
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration state and stored summary count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			pipeline, err := a.Pipeline()
			if err != nil {
				return err
			}
			status, err := a.Summary.Status(cmd.Context(), pipeline)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var page int
	cmd := &cobra.Command{
		Use:   "history [channel-id]",
		Short: "List stored summaries of a channel, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Summary.ChannelSummaries(cmd.Context(), args[0], page)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number, 20 summaries per page")
	return cmd
}

func outcomeLabel(o domain.ChannelOutcome) string {
	switch o.Kind {
	case domain.OutcomeSuccess:
		return color.New(color.FgGreen).Sprint(o.String())
	case domain.OutcomeError:
		return color.New(color.FgRed).Sprint(o.String())
	default:
		return color.New(color.FgYellow).Sprint(o.String())
	}
}

func printOutcomes(w io.Writer, outcomes []domain.ChannelOutcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tSTATUS\tMESSAGES\tDETAIL")
	for _, o := range outcomes {
		detail := o.Error
		if o.Kind == domain.OutcomeSuccess {
			detail = fmt.Sprintf("summary #%d, cursor %s", o.SummaryID, o.Position)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", o.ChannelID, outcomeLabel(o), o.MessageCount, detail)
	}
	_ = tw.Flush()
}

func printDecision(w io.Writer, d domain.RollupDecision) {
	label := color.New(color.FgYellow).Sprint(d.Status)
	switch d.Status {
	case domain.RollupDelivered:
		label = color.New(color.FgGreen).Sprint(d.Status)
	case domain.RollupDispatchFailed:
		label = color.New(color.FgRed).Sprint(d.Status)
	}
	fmt.Fprintf(w, "Rollup %s: %s\n", d.CalendarDate, label)
	fmt.Fprintf(w, "  local now: %s\n", d.LocalNow.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(w, "  send slot: %s (in window: %t)\n", d.SendAt.Format("2006-01-02 15:04 MST"), d.InWindow)
}

func printCheck(w io.Writer, name, okDetail string, err error) bool {
	if err != nil {
		fmt.Fprintf(w, "%s %s: %v\n", color.New(color.FgRed).Sprint("✗"), name, err)
		return true
	}
	fmt.Fprintf(w, "%s %s: %s\n", color.New(color.FgGreen).Sprint("✓"), name, okDetail)
	return false
}

func printStatus(w io.Writer, s summary.Status) {
	configured := color.New(color.FgGreen).Sprint("yes")
	if !s.Configured {
		configured = color.New(color.FgRed).Sprint("no")
	}
	fmt.Fprintf(w, "Configured:      %s\n", configured)
	fmt.Fprintf(w, "Channels:        %d\n", s.ChannelsCount)
	fmt.Fprintf(w, "Total summaries: %d\n", s.TotalSummaries)
}

func printPage(w io.Writer, p summary.Page) {
	fmt.Fprintf(w, "#%s (%s), page %d\n", p.Channel.DisplayName(), p.Channel.ChannelID, p.Page)
	if len(p.Summaries) == 0 {
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("  no summaries"))
		return
	}
	for _, rec := range p.Summaries {
		fmt.Fprintf(w, "\n[%s] %s, %d messages\n%s\n", rec.CreatedAt.Format("2006-01-02 15:04"), rec.Kind, rec.MessageCount, rec.Text)
	}
	if p.HasNext {
		fmt.Fprintf(w, "\nmore: --page %d\n", p.Page+1)
	}
}
