package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/rcwatch/internal/app"
)

func newVideosCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "videos",
		Short: "List the classroom's videos with their current progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(cmd, true)
			if err != nil {
				return err
			}
			client, err := app.NewClient(cfg)
			if err != nil {
				return err
			}
			statuses, err := app.New(client, cfg).Status(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tRATE\tLENGTH\tSTATUS")
			for _, s := range statuses {
				rate, length, state := "-", "-", "unwatched"
				switch {
				case s.Err != nil:
					state = "error: " + s.Err.Error()
				case s.Progress != nil:
					rate = fmt.Sprintf("%.0f%%", s.Progress.Rate*100)
					length = (time.Duration(s.Progress.VideoLength * float64(time.Second))).Round(time.Second).String()
					state = "in progress"
					if s.Progress.Completed {
						state = "completed"
					}
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.Video.VideoID, s.Video.Name, rate, length, state)
			}
			return tw.Flush()
		},
	}
}

func newCoursesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "courses",
		Short: "List the classrooms the account is enrolled in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(cmd, false)
			if err != nil {
				return err
			}
			client, err := app.NewClient(cfg)
			if err != nil {
				return err
			}
			courses, err := client.Courses(cmd.Context())
			if err != nil {
				return fmt.Errorf("list courses: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLASSROOM\tCLASS\tCOURSE\tTEACHER")
			for _, c := range courses {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.ClassroomID, c.Name, c.Course.Name, c.Teacher.Name)
			}
			return tw.Flush()
		},
	}
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var page, offset int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent learning activities of the classroom",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load(cmd, true)
			if err != nil {
				return err
			}
			client, err := app.NewClient(cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			// Learning logs are scoped to the classroom's university.
			if _, err := client.UserAndCourseInfo(ctx, cfg.ClassroomID); err != nil {
				return fmt.Errorf("resolve classroom %d: %w", cfg.ClassroomID, err)
			}
			acts, err := client.LearnLogs(ctx, cfg.ClassroomID, page, offset)
			if err != nil {
				return fmt.Errorf("list learning logs: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tCREATED\tTITLE")
			for _, a := range acts {
				created := "-"
				if a.CreateTime > 0 {
					created = time.UnixMilli(a.CreateTime).UTC().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", a.ID, a.Type, created, a.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "page of the activity list")
	cmd.Flags().IntVar(&offset, "offset", 20, "activities per page")
	return cmd
}
