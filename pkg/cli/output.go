package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/bdlab/biblioteca/pkg/entity"
	"github.com/bdlab/biblioteca/pkg/health"
	"github.com/bdlab/biblioteca/pkg/txdemo"
)

const rule = "---------------------------------"

func printReport(w io.Writer, report txdemo.Report) {
	if report.RunID == "" {
		return
	}
	fmt.Fprintf(w, "Run %s\n\n", report.RunID)
	printOutcomes(w, report.Outcomes)
	fmt.Fprintln(w)
	printAuthors(w, report.Authors)
}

func printOutcomes(w io.Writer, outcomes []txdemo.Outcome) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tID\tAUTHOR\tRESULT")
	for _, o := range outcomes {
		result := o.State.String()
		if o.Err != nil {
			result = fmt.Sprintf("%s (error: %v)", o.State, o.Err)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", o.Step, o.Author.ID, o.Author.FullName(), result)
	}
	tw.Flush()
}

func printAuthors(w io.Writer, authors []entity.Author) {
	fmt.Fprintln(w, "ID\tFull name")
	fmt.Fprintln(w, rule)
	if len(authors) == 0 {
		fmt.Fprintln(w, "No authors found.")
	}
	for _, a := range authors {
		fmt.Fprintln(w, a.String())
	}
	fmt.Fprintln(w, rule)
}

func printHealth(w io.Writer, result health.AggregatedResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range result.Checks {
		detail := c.Message
		if c.Error != "" {
			detail = c.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Status, c.Duration.Round(time.Millisecond), detail)
	}
	tw.Flush()
	fmt.Fprintf(w, "overall: %s\n", result.Status)
}
