package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/framelabel/framelabel/internal/annotation"
	"github.com/framelabel/framelabel/internal/project"
)

func newCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "new <parent> <name>",
		Short: "Create a project directory with video and labels folders",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := project.ValidateDir(args[0]); err != nil {
				return fmt.Errorf("parent: %w", err)
			}
			p, err := project.Create(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created project %s\n", p.Root)
			fmt.Fprintf(cmd.OutOrStdout(), "Copy videos into %s\n", p.VideoDir())
			return nil
		},
	}
}

func newAnnotateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "annotate <video> <start> <end> <label>",
		Short: "Label the frames start..end of a video and save the project",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID := args[0]
			if err := project.ValidateVideoID(videoID); err != nil {
				return err
			}
			start, err := parseFrame(args[1])
			if err != nil {
				return err
			}
			end, err := parseFrame(args[2])
			if err != nil {
				return err
			}
			a, err := annotation.New(start, end, args[3])
			if err != nil {
				return err
			}

			p, err := ctx.loadProject()
			if err != nil {
				return err
			}
			if err := p.Store.Add(videoID, a); err != nil {
				return err
			}
			if err := p.Save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), annotationsTable(p, []string{videoID}))
			return nil
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <video> <index>...",
		Short: "Delete annotations of a video by index and save the project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			videoID := args[0]
			if err := project.ValidateVideoID(videoID); err != nil {
				return err
			}
			indices := make([]int, 0, len(args)-1)
			for _, arg := range args[1:] {
				i, err := strconv.Atoi(arg)
				if err != nil || i < 0 {
					return fmt.Errorf("invalid index %q", arg)
				}
				indices = append(indices, i)
			}

			p, err := ctx.loadProject()
			if err != nil {
				return err
			}
			removed := p.Store.RemoveMany(videoID, indices)
			if removed == 0 {
				return fmt.Errorf("no annotations of %s matched", videoID)
			}
			if err := p.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d annotation(s) from %s\n", removed, videoID)
			return nil
		},
	}
}

func newAnnotationsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "annotations [video]...",
		Short: "List annotations, of every video or of the given ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.loadProject()
			if err != nil {
				return err
			}
			videos := args
			if len(videos) == 0 {
				videos = p.Store.Videos()
			}
			if len(videos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No annotations")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), annotationsTable(p, videos))
			return nil
		},
	}
}

func newLabelsCommand(ctx *commandContext) *cobra.Command {
	var reload, save bool
	var prefix string

	cmd := &cobra.Command{
		Use:   "labels",
		Short: "List labels used in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := ctx.loadProject()
			if err != nil {
				return err
			}

			var labels []string
			switch {
			case reload:
				labels = p.Store.ReloadLabels()
			case prefix != "":
				labels = p.Store.Suggest(prefix, 0)
			default:
				labels = p.Store.UsedLabels()
			}
			if save {
				if err := p.Save(); err != nil {
					return err
				}
			}

			if len(labels) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No labels")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.Join(labels, "\n"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&reload, "reload", false, "Recompute labels from the current annotations")
	cmd.Flags().BoolVar(&save, "save", false, "Write the project manifest afterwards")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list labels starting with prefix")
	return cmd
}

func parseFrame(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid frame %q: must be a non-negative integer", s)
	}
	return uint32(v), nil
}

func annotationsTable(p *project.Project, videos []string) string {
	var rows [][]string
	for _, v := range videos {
		for i, a := range p.Store.Annotations(v) {
			rows = append(rows, []string{
				v,
				strconv.Itoa(i),
				strconv.FormatUint(uint64(a.StartFrame), 10),
				strconv.FormatUint(uint64(a.EndFrame), 10),
				a.Label,
			})
		}
	}
	return renderTable(
		[]string{"Video", "#", "Start", "End", "Label"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}
