package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/osvaldoandrade/ebookpdf/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

type jobList struct {
	Jobs  []domain.JobRecord `json:"jobs"`
	Count int                `json:"count"`
}

func jobCmd(baseURL, token *string, ui *ui) *cobra.Command {
	job := &cobra.Command{
		Use:   "job",
		Short: "Inspect conversion jobs",
	}

	var raw bool
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, *token, 30*time.Second)
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Fetching job..."
			spin.Start()
			status, resp, err := c.request("GET", "/v1/jobs/"+url.PathEscape(args[0]))
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			if raw {
				fmt.Println(string(resp))
				return nil
			}
			var rec domain.JobRecord
			if err := json.Unmarshal(resp, &rec); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			printJob(os.Stdout, ui, rec)
			return nil
		},
	}
	get.Flags().BoolVar(&raw, "json", false, "Print the raw JSON record")

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL, *token, 30*time.Second)
			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Fetching jobs..."
			spin.Start()
			status, resp, err := c.request("GET", "/v1/jobs?limit="+strconv.Itoa(limit))
			spin.Stop()
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out jobList
			if err := json.Unmarshal(resp, &out); err != nil {
				return fmt.Errorf("decode jobs: %w", err)
			}
			if out.Count == 0 {
				fmt.Println(ui.dim("no jobs yet"))
				return nil
			}
			for _, rec := range out.Jobs {
				fmt.Fprintf(os.Stdout, "%s  %-9s  %s  %s\n",
					ui.dim(rec.CreatedAt.Local().Format(time.DateTime)),
					statusLabel(ui, rec.Status), rec.ID, rec.TargetURL)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs")

	job.AddCommand(get, list)
	return job
}

func printJob(w io.Writer, ui *ui, rec domain.JobRecord) {
	fmt.Fprintf(w, "%s %s\n", ui.title("Job"), rec.ID)
	fmt.Fprintf(w, "  status:   %s\n", statusLabel(ui, rec.Status))
	fmt.Fprintf(w, "  url:      %s\n", rec.TargetURL)
	fmt.Fprintf(w, "  pages:    %s (%s)\n", rec.Pages, rec.ExpandedPages)
	fmt.Fprintf(w, "  created:  %s\n", rec.CreatedAt.Local().Format(time.DateTime))
	if rec.FinishedAt != nil {
		fmt.Fprintf(w, "  duration: %s\n", rec.FinishedAt.Sub(rec.CreatedAt).Round(time.Millisecond))
	}
	if rec.Finished() {
		fmt.Fprintf(w, "  exit:     %d\n", rec.ExitCode)
	}
	fmt.Fprintf(w, "  output:   %d bytes\n", rec.OutputBytes)
	if rec.DownloadPath != "" {
		fmt.Fprintf(w, "  pdf:      /%s\n", rec.DownloadPath)
	}
}

func statusLabel(ui *ui, s domain.JobStatus) string {
	switch s {
	case domain.StatusSucceeded:
		return ui.ok(string(s))
	case domain.StatusFailed:
		return ui.err(string(s))
	default:
		return ui.warn(string(s))
	}
}
