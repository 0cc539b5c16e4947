package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lapseforge/lapseforge/internal/catalog"
	"github.com/lapseforge/lapseforge/internal/export"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var req export.Request

	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Render a project to a video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, ctx.cliLogger())
			if err != nil {
				return err
			}
			defer a.Close()

			req.ProjectID = args[0]
			job, err := a.svc.CreateExportJob(cmd.Context(), req)
			if err != nil {
				return err
			}
			done, err := a.runJob(cmd.Context(), job, "Exporting", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), done.Output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&req.OutputName, "name", "n", "", "Output file name without extension (default: project title)")
	cmd.Flags().StringVarP(&req.OutputDir, "out", "o", "", "Output directory (default: exports dir)")
	cmd.Flags().IntVar(&req.FPS, "fps", 0, "Frames per second (default from config)")
	cmd.Flags().IntVar(&req.ChunkSize, "chunk", 0, "Frames encoded per chunk (default from config)")
	return cmd
}

func newImportCommand(ctx *commandContext) *cobra.Command {
	var req catalog.ImportRequest

	cmd := &cobra.Command{
		Use:   "import <project-id> <video>",
		Short: "Extract frames from a video into a new sequence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, ctx.cliLogger())
			if err != nil {
				return err
			}
			defer a.Close()

			req.ProjectID, req.Path = args[0], args[1]
			job, err := a.svc.CreateImportJob(cmd.Context(), req)
			if err != nil {
				return err
			}
			done, err := a.runJob(cmd.Context(), job, "Importing", cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			seq, err := a.svc.GetSequence(cmd.Context(), done.Output)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d frames (%s)\n", seq.Title, seq.FrameCount(), seq.ID)
			return nil
		},
	}

	cmd.Flags().IntVarP(&req.Frames, "frames", "f", 100, "Number of frames to extract")
	cmd.Flags().StringVarP(&req.Title, "title", "t", "", "Sequence title")
	cmd.Flags().Float64VarP(&req.Duration, "duration", "d", 0, "Sequence playback duration in seconds")
	return cmd
}

// runJob drives the runner until job has finished, drawing its progress.
// Older pending jobs run first, as they would under serve.
func (a *app) runJob(ctx context.Context, job *catalog.Job, label string, w io.Writer) (*catalog.Job, error) {
	updates, unsubscribe := a.hub.Subscribe(job.ID)
	defer unsubscribe()

	bar := newProgressBar(label, w)
	drawn := make(chan struct{})
	go func() {
		defer close(drawn)
		for s := range updates {
			bar.Set(catalog.Percent(s))
			if s.State == export.StateImporting && s.Total > 0 {
				bar.Describe(fmt.Sprintf("%s %d/%d", label, s.Extracted, s.Total))
			}
		}
	}()

	for {
		current, err := a.svc.GetJob(context.WithoutCancel(ctx), job.ID)
		if err != nil {
			return nil, err
		}
		if current.Finished() {
			a.hub.Flush()
			unsubscribe()
			<-drawn
			return finishJob(bar, current)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !a.runner.RunNext(ctx) {
			return nil, fmt.Errorf("job %s is %s but the queue is empty", current.ID, current.Status)
		}
	}
}

func finishJob(bar *progressbar.ProgressBar, job *catalog.Job) (*catalog.Job, error) {
	switch job.Status {
	case catalog.JobStatusCompleted:
		bar.Finish()
		return job, nil
	case catalog.JobStatusCancelled:
		bar.Exit()
		return nil, context.Canceled
	default:
		bar.Exit()
		return nil, fmt.Errorf("%s job failed: %s", job.Type, job.Error)
	}
}

func newProgressBar(label string, w io.Writer) *progressbar.ProgressBar {
	visible := true
	if f, ok := w.(*os.File); ok {
		visible = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetVisibility(visible),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}
