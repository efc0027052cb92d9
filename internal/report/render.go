// Package report renders finished run reports for humans and machines: a
// one-line summary for logs, plain text for terminals, markdown and a
// standalone HTML page for artifact storage.
package report

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/piperunner/internal/pipeline"
)

// Summary returns a single-line machine-greppable summary.
func Summary(r *pipeline.Report) string {
	ok, failed, skipped, notRun := r.Counts()
	return fmt.Sprintf("pipeline=%s run=%s number=%d branch=%s status=%s duration=%s succeeded=%d failed=%d skipped=%d not_run=%d",
		r.Pipeline, r.RunID, r.Number, r.Branch, r.Status,
		r.Duration.Truncate(time.Millisecond), ok, failed, skipped, notRun)
}

// Text renders the report for a terminal: header, aligned stage table and
// the output of every failed step.
func Text(r *pipeline.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline %s  run %s (#%d)  branch %s\n", r.Pipeline, r.RunID, r.Number, r.Branch)
	fmt.Fprintf(&b, "Status   %s  started %s  duration %s\n\n",
		r.Status, r.StartedAt.Format(time.RFC3339), r.Duration.Truncate(time.Millisecond))

	tw := tabwriter.NewWriter(&b, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STAGE\tSTATUS\tDURATION\tREASON")
	for _, st := range r.Stages {
		dur := ""
		if st.Status == pipeline.StageSucceeded || st.Status == pipeline.StageFailed {
			dur = st.Duration.Truncate(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Stage, st.Status, dur, st.Reason)
	}
	tw.Flush()

	for _, f := range failures(r) {
		fmt.Fprintf(&b, "\n--- %s: %s (%s)\n", f.where, f.step.Step, f.describe())
		if out := strings.TrimRight(f.step.Output, "\n"); out != "" {
			b.WriteString(out)
			b.WriteString("\n")
		}
		if f.step.Truncated {
			b.WriteString("[output truncated]\n")
		}
	}
	return b.String()
}

// Markdown renders the report as GitHub-flavored markdown.
func Markdown(r *pipeline.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s run #%d\n\n", r.Pipeline, r.Number)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Run ID | `%s` |\n", r.RunID)
	fmt.Fprintf(&b, "| Branch | `%s` |\n", r.Branch)
	fmt.Fprintf(&b, "| Status | **%s** |\n", r.Status)
	fmt.Fprintf(&b, "| Started | %s |\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "| Duration | %s |\n\n", r.Duration.Truncate(time.Millisecond))

	b.WriteString("## Stages\n\n")
	b.WriteString("| Stage | Status | Duration | Reason |\n|---|---|---|---|\n")
	for _, st := range r.Stages {
		dur := ""
		if st.Status == pipeline.StageSucceeded || st.Status == pipeline.StageFailed {
			dur = st.Duration.Truncate(time.Millisecond).String()
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", st.Stage, st.Status, dur, st.Reason)
	}

	if fs := failures(r); len(fs) > 0 {
		b.WriteString("\n## Failures\n")
		for _, f := range fs {
			fmt.Fprintf(&b, "\n### %s: %s\n\n%s\n\n", f.where, f.step.Step, f.describe())
			if out := strings.TrimRight(f.step.Output, "\n"); out != "" {
				fmt.Fprintf(&b, "```\n%s\n```\n", out)
			}
			if f.step.Truncated {
				b.WriteString("\n_output truncated_\n")
			}
		}
	}
	return b.String()
}

// HTML renders the markdown form into a self-contained page.
func HTML(r *pipeline.Report) ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(r)), &body); err != nil {
		return nil, fmt.Errorf("failed to render report HTML: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, pageHeader, html.EscapeString(fmt.Sprintf("%s run #%d", r.Pipeline, r.Number)))
	page.Write(body.Bytes())
	page.WriteString(pageFooter)
	return page.Bytes(), nil
}

const pageHeader = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: sans-serif; margin: 2rem auto; max-width: 60rem; padding: 0 1rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.7rem; text-align: left; }
pre { background: #f4f4f4; padding: 0.7rem; overflow-x: auto; }
</style>
</head>
<body>
`

const pageFooter = `</body>
</html>
`

// failure pairs a failed step with where it ran, for the failure sections.
type failure struct {
	where string
	step  pipeline.StepResult
}

func (f failure) describe() string {
	d := string(f.step.Failure)
	if f.step.Failure == pipeline.FailureExit {
		d = fmt.Sprintf("%s, exit code %d", f.step.Failure, f.step.ExitCode)
	}
	if f.step.Message != "" {
		d += ": " + f.step.Message
	}
	if f.step.Continued {
		d += " (continued)"
	}
	return d
}

func failures(r *pipeline.Report) []failure {
	var out []failure
	collect := func(where string, steps []pipeline.StepResult) {
		for _, s := range steps {
			if s.Failure != pipeline.FailureNone {
				out = append(out, failure{where: where, step: s})
			}
		}
	}
	for _, st := range r.Stages {
		collect("stage "+st.Stage, st.Steps)
		collect("stage "+st.Stage+" post", st.Post)
	}
	collect("pipeline post", r.Post)
	return out
}
