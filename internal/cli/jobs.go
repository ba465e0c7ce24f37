package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/jobdesk/internal/batch"
	"github.com/MimeLyc/jobdesk/internal/detail"
	"github.com/MimeLyc/jobdesk/internal/jobs"
	"github.com/MimeLyc/jobdesk/internal/listing"
	"github.com/MimeLyc/jobdesk/internal/view"
)

var (
	listStatus   string
	listRange    string
	listLabel    string
	listSearch   string
	listSort     string
	listPage     int
	listPageSize int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List, inspect and operate on jobs",
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsRenameCmd)
	for _, op := range []batch.Operation{batch.OpRerun, batch.OpExport, batch.OpDelete} {
		jobsCmd.AddCommand(newBatchCmd(op))
	}

	flags := jobsListCmd.Flags()
	flags.StringVar(&listStatus, "status", view.StatusAll, "only jobs with this status")
	flags.StringVar(&listRange, "range", string(view.RangeAll), "date range (today|yesterday|week|month|quarter|year|all)")
	flags.StringVar(&listLabel, "label", "", "only jobs whose label contains this text")
	flags.StringVar(&listSearch, "search", "", "match label, id or status")
	flags.StringVar(&listSort, "sort", "", "sort as field[:asc|desc], e.g. startedAt:desc")
	flags.IntVar(&listPage, "page", 1, "page number")
	flags.IntVar(&listPageSize, "page-size", 0, "rows per page (10|25|50|100)")
}

// parseSortFlag reads "field" or "field:direction". Direction defaults to
// ascending.
func parseSortFlag(raw string) (view.SortSpec, error) {
	field, dir, _ := strings.Cut(strings.TrimSpace(raw), ":")
	spec := view.SortSpec{Field: view.Field(field), Direction: view.Asc}
	if dir != "" {
		spec.Direction = view.Direction(strings.ToLower(dir))
	}
	if err := spec.Validate(); err != nil {
		return view.SortSpec{}, err
	}
	return spec, nil
}

func listQuery(base view.Query) (view.Query, error) {
	q := base
	q.Filter = view.FilterSpec{
		Status:        strings.TrimSpace(listStatus),
		DateRange:     view.DateRange(strings.TrimSpace(listRange)),
		LabelContains: listLabel,
	}
	if err := q.Filter.Validate(); err != nil {
		return view.Query{}, err
	}
	q.Search = strings.TrimSpace(listSearch)
	if listSort != "" {
		spec, err := parseSortFlag(listSort)
		if err != nil {
			return view.Query{}, err
		}
		q.Sort = spec
	}
	if listPageSize != 0 {
		if !view.ValidPageSize(listPageSize) {
			return view.Query{}, listing.ErrInvalidPageSize
		}
		q.PageSize = listPageSize
	}
	q.Page = max(listPage, 1)
	return q, nil
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs one page at a time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		q, err := listQuery(cfg.View.InitialQuery())
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := newListing(cfg, store, listing.WithInitialQuery(q))
		if err != nil {
			return err
		}
		defer list.Close()
		if err := list.Refresh(cmd.Context()); err != nil {
			return err
		}

		v := list.View()
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, v)
		}

		rows := make([][]string, 0, len(v.Rows))
		for _, r := range v.Rows {
			rows = append(rows, []string{
				r.ID.String(),
				formatLabel(r.Label),
				string(r.Status),
				formatTimestamp(r.StartedAt),
				strconv.Itoa(r.TotalImages),
				formatPercent(r.SuccessRate),
				orDash(r.ConfigurationID),
			})
		}
		if err := writeTable(out, []string{"ID", "LABEL", "STATUS", "STARTED", "IMAGES", "SUCCESS", "CONFIG"}, rows); err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "\nPage %d of %d (%d jobs)\n", v.Page, v.TotalPages, v.TotalCount)
		return err
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job with its images, logs and configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		d, err := detail.New(store).Load(cmd.Context(), jobs.ID(args[0]))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput {
			return writeJSON(out, d)
		}
		return printDetail(cmd, d)
	},
}

func printDetail(cmd *cobra.Command, d detail.Detail) error {
	out := cmd.OutOrStdout()
	job := d.Job
	fields := [][]string{
		{"ID", job.ID.String()},
		{"Label", formatLabel(job.Label)},
		{"Status", string(job.Status)},
		{"Created", formatTimestamp(job.CreatedAt)},
		{"Started", formatTimestamp(job.StartedAt)},
		{"Completed", formatTimestamp(job.CompletedAt)},
		{"Images", fmt.Sprintf("%d total, %d ok, %d failed (%s)", job.TotalImages, job.SuccessfulImages, job.FailedImages, formatPercent(job.SuccessRate()))},
		{"QC", fmt.Sprintf("%d approved, %d failed", job.ApprovedImages, job.QCFailedImages)},
		{"Statistics", string(d.StatisticsSource)},
		{"Configuration", configurationSummary(d.Configuration)},
	}
	if err := writeTable(out, nil, fields); err != nil {
		return err
	}

	if len(d.Logs) > 0 {
		fmt.Fprintln(out, "\nLogs:")
		for _, entry := range d.Logs {
			fmt.Fprintf(out, "  %s [%s] %s\n", formatTimestamp(entry.CreatedAt), entry.Level, entry.Message)
		}
	}
	for _, w := range d.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return nil
}

func configurationSummary(cv detail.ConfigurationView) string {
	switch cv.State {
	case detail.ConfigLoaded:
		name := cv.Configuration.Name
		if name == "" {
			name = cv.Configuration.ID
		}
		return fmt.Sprintf("%s (sections: %s)", name, strings.Join(cv.Configuration.Settings.Sections(), ", "))
	default:
		return cv.Message
	}
}

var jobsRenameCmd = &cobra.Command{
	Use:   "rename <id> <label>",
	Short: "Change a job's label; an empty label clears it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		id := jobs.ID(args[0])
		label, err := detail.New(store).RenameLabel(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"id": id, "label": label})
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Job %s is now %q\n", id, label)
		return err
	},
}

// newBatchCmd selects the given ids in a fresh list and runs op over the
// selection, the same path the UI takes.
func newBatchCmd(op batch.Operation) *cobra.Command {
	return &cobra.Command{
		Use:   string(op) + " <id>...",
		Short: strings.ToUpper(string(op[:1])) + string(op[1:]) + " one or more jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := newListing(cfg, store)
			if err != nil {
				return err
			}
			defer list.Close()
			if err := list.Refresh(cmd.Context()); err != nil {
				return err
			}
			for _, raw := range args {
				list.Toggle(jobs.ID(strings.TrimSpace(raw)), true)
			}

			res, err := list.RunBatch(cmd.Context(), op)
			if err != nil {
				return err
			}
			return printBatchResult(cmd, res)
		},
	}
}

func printBatchResult(cmd *cobra.Command, res batch.Result) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%s: %d succeeded, %d failed\n", res.Operation, len(res.Succeeded), len(res.Failed))
		for _, f := range res.Failed {
			fmt.Fprintf(out, "  job %s: %s\n", f.ID, f.Error)
		}
		if res.RefreshError != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: list refresh failed: %s\n", res.RefreshError)
		}
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%s failed for %d of %d jobs", res.Operation, len(res.Failed), len(res.Failed)+len(res.Succeeded))
	}
	return nil
}
