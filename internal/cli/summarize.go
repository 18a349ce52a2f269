package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lexiqai/meeting-agent/internal/contacts"
	"github.com/lexiqai/meeting-agent/internal/observability"
	"github.com/lexiqai/meeting-agent/internal/summary"
)

type summarizeOptions struct {
	transcript   string
	meetingID    string
	participants []string
	send         bool
}

func newSummarizeCmd(root *rootOptions) *cobra.Command {
	opts := &summarizeOptions{}

	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize a saved transcript and optionally mail and archive the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(opts.transcript)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			cfg, logger, err := root.loadConfig()
			if err != nil {
				return err
			}

			a := &app{cfg: cfg, logger: logger, checks: map[string]observability.HealthCheckFunc{}}
			defer a.Close()
			if err := a.wireCompleter(cmd.Context()); err != nil {
				return err
			}

			var digest summary.Digest
			if opts.send {
				rec, err := a.offlineReporter(cmd, opts, string(data))
				if err != nil {
					return err
				}
				digest = summary.Digest{Summary: rec.Summary, ActionItems: rec.ActionItems}
			} else {
				digest, err = a.summarizer.Summarize(cmd.Context(), string(data))
				if err != nil {
					return err
				}
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), digest.Body())
			return err
		},
	}

	cmd.Flags().StringVar(&opts.transcript, "transcript", "", "path to a transcript text file")
	cmd.Flags().StringVar(&opts.meetingID, "meeting-id", "", "meeting id used in the email subject and archive")
	cmd.Flags().StringSliceVar(&opts.participants, "participants", nil, "participant names or addresses that receive the email")
	cmd.Flags().BoolVar(&opts.send, "send", false, "mail the summary and archive the record like a live session")
	_ = cmd.MarkFlagRequired("transcript")
	return cmd
}

// offlineReporter runs the post-session pipeline for a transcript file
func (a *app) offlineReporter(cmd *cobra.Command, opts *summarizeOptions, transcript string) (summary.Record, error) {
	ctx := cmd.Context()
	book, err := contacts.Load(a.cfg.ContactsFile)
	if err != nil {
		return summary.Record{}, err
	}
	a.book = book
	if err := a.wireIntegrations(ctx); err != nil {
		return summary.Record{}, err
	}
	a.wireReporter()

	now := time.Now()
	rec, err := a.reporter.Deliver(ctx, summary.Record{
		SessionID:    uuid.NewString(),
		MeetingID:    opts.meetingID,
		Participants: opts.participants,
		StartedAt:    now,
		EndedAt:      now,
		Transcript:   transcript,
	})
	if err != nil && rec.Summary == "" {
		return rec, err
	}
	if err != nil {
		a.logger.Warn().Err(err).Msg("Report delivered partially")
	}
	return rec, nil
}
