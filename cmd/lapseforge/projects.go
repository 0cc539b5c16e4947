package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lapseforge/lapseforge/internal/lapse"
)

func newProjectsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		Args:  cobra.NoArgs,
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

			projects, err := a.svc.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(projectHeaders, projectRows(projects), projectAligns))
			return nil
		},
	}

	cmd.AddCommand(newProjectShowCommand(ctx))
	return cmd
}

var (
	projectHeaders = []string{"ID", "Title", "Sequences", "Frames", "Duration"}
	projectAligns  = []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight}

	sequenceHeaders = []string{"#", "Title", "Frames", "Duration", "Rotation", "Reversed", "ID"}
	sequenceAligns  = []columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft}
)

func projectRows(projects []*lapse.Project) [][]string {
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		frames := 0
		for _, s := range p.Sequences {
			frames += s.FrameCount()
		}
		rows = append(rows, []string{
			p.ID,
			p.Title,
			strconv.Itoa(len(p.Sequences)),
			strconv.Itoa(frames),
			lapse.FormatClock(p.TotalDuration()),
		})
	}
	return rows
}

func sequenceRows(p *lapse.Project) [][]string {
	rows := make([][]string, 0, len(p.Sequences))
	for _, s := range p.Sequences {
		reversed := ""
		if s.Reversed {
			reversed = "yes"
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Position + 1),
			s.Title,
			strconv.Itoa(s.FrameCount()),
			lapse.FormatClock(s.ExpectedDuration),
			fmt.Sprintf("%d°", s.Rotation.Degrees()),
			reversed,
			s.ID,
		})
	}
	return rows
}

func newProjectShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show the sequences of a project",
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

			p, err := a.svc.GetProject(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", p.Title, lapse.FormatClock(p.TotalDuration()))
			if len(p.Sequences) == 0 {
				fmt.Fprintln(out, "No sequences.")
				return nil
			}
			fmt.Fprintln(out, renderTable(sequenceHeaders, sequenceRows(p), sequenceAligns))
			return nil
		},
	}
}
