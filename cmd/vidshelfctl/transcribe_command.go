package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/snarg/vidshelf"
	"github.com/snarg/vidshelf/internal/database"
	"github.com/snarg/vidshelf/internal/jobclient"
	"github.com/snarg/vidshelf/internal/media"
	"github.com/snarg/vidshelf/internal/session"
	"github.com/snarg/vidshelf/internal/subtitle"
	"github.com/snarg/vidshelf/internal/transcribe"
)

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var language, model, format string
	var replace bool
	cmd := &cobra.Command{
		Use:   "transcribe <sourceId> <relativePath>",
		Short: "Transcribe an item and print its transcript",
		Long: "Transcribe an item through the Job Service and wait for the result.\n" +
			"An existing transcript is printed as is unless --yes asks to replace it.\n" +
			"A job started by the gateway for the same item is followed instead of resubmitted.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			rel, err := media.CleanRelative(args[1])
			if err != nil {
				return err
			}
			item := media.Item{SourceID: args[0], RelativePath: rel}
			log := ctx.logger()

			var memory session.JobMemory = session.NewMemoryJobs()
			if cfg.DatabaseURL != "" {
				db, err := database.Connect(cmd.Context(), cfg.DatabaseURL, log)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.Ready(cmd.Context(), vidshelf.SchemaSQL); err != nil {
					return err
				}
				memory = db
			}

			progress := cmd.ErrOrStderr()
			coord := session.NewCoordinator(session.CoordinatorOptions{
				Item: item,
				Jobs: jobclient.New(jobclient.Options{
					BaseURL: cfg.JobServiceURL,
					Token:   cfg.JobServiceToken,
					Timeout: cfg.JobServiceTimeout,
					Log:     log,
				}),
				Memory:     memory,
				Transcribe: cfg.Transcribe,
				Poll:       cfg.Poll,
				Owner:      "vidshelfctl",
				OnChange: func(snap transcribe.Snapshot) {
					fmt.Fprintln(progress, progressLine(snap))
				},
				Log: log,
			})
			defer coord.Close()

			snap, err := coord.Activate(cmd.Context())
			if err != nil {
				return err
			}
			if snap.Status == transcribe.StatusSuccess && !replace {
				return writeTranscript(cmd.OutOrStdout(), format, snap.Segments)
			}
			if snap.Status != transcribe.StatusProcessing {
				_, err = coord.Submit(cmd.Context(), session.SubmitRequest{
					Language:  language,
					Model:     model,
					Confirmed: replace,
				})
				if errors.Is(err, session.ErrConfirmationRequired) {
					return fmt.Errorf("%s already has a transcript; pass --yes to replace it", item.Key())
				}
				if err != nil {
					return err
				}
			}

			select {
			case <-coord.Done():
			case <-cmd.Context().Done():
				// The job keeps running and stays remembered.
				return cmd.Context().Err()
			}

			snap = coord.Snapshot()
			if snap.Status != transcribe.StatusSuccess {
				return fmt.Errorf("transcription of %s failed: %s", item.Key(), snap.Error)
			}
			return writeTranscript(cmd.OutOrStdout(), format, snap.Segments)
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "transcription language (default DEFAULT_LANGUAGE)")
	cmd.Flags().StringVar(&model, "model", "", "transcription model (default DEFAULT_MODEL)")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, txt, srt or vtt")
	cmd.Flags().BoolVarP(&replace, "yes", "y", false, "replace an existing transcript")
	return cmd
}

func progressLine(snap transcribe.Snapshot) string {
	switch snap.Status {
	case transcribe.StatusProcessing:
		return fmt.Sprintf("processing %3d%%  %s  job %s", snap.Progress, subtitle.FormatElapsed(snap.Elapsed()), snap.JobID)
	case transcribe.StatusSuccess:
		return fmt.Sprintf("done: %d segment(s) in %s", len(snap.Segments), subtitle.FormatElapsed(snap.Elapsed()))
	case transcribe.StatusError:
		return "failed: " + snap.Error
	default:
		return string(snap.Status)
	}
}

func writeTranscript(w io.Writer, format string, segments []transcribe.Segment) error {
	switch format {
	case "txt":
		_, err := io.WriteString(w, subtitle.PlainText(segments))
		return err
	case "srt":
		return subtitle.WriteSRT(w, segments)
	case "vtt":
		return subtitle.WriteVTT(w, segments)
	case "table", "":
		rows := make([][]string, 0, len(segments))
		for i, seg := range segments {
			rows = append(rows, []string{
				strconv.Itoa(i),
				subtitle.FormatClock(seg.Start),
				subtitle.FormatClock(seg.End),
				seg.Text,
			})
		}
		_, err := fmt.Fprintln(w, renderTable(
			[]string{"#", "Start", "End", "Text"},
			rows,
			[]columnAlignment{alignRight, alignRight, alignRight, alignLeft},
		))
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
