package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tfvieira/tic43/internal/refiner"
)

func newRefineCommand(global *globalOptions) *cobra.Command {
	var maxAttempts int

	cmd := &cobra.Command{
		Use:   "refine <task>",
		Short: "Plan, implement and review a task until the reviewer approves",
		Args:  argsAtLeast(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configureColor(global.plain)
			container, err := buildContainer(global)
			if err != nil {
				return err
			}
			defer func() { _ = container.Shutdown(cmd.Context()) }()

			if !cmd.Flags().Changed("max-attempts") {
				maxAttempts = container.Config.Refiner.MaxAttempts
			}
			if maxAttempts < 1 {
				return usageError(fmt.Errorf("--max-attempts: %w", refiner.ErrInvalidAttempts))
			}

			out := cmd.OutOrStdout()
			observer := newConsoleObserver(out, NewMarkdownRenderer(global.plain))
			r, err := container.Refiner(observer)
			if err != nil {
				return err
			}

			task := strings.Join(args, " ")
			result, err := r.Refine(cmd.Context(), task, maxAttempts)
			if err != nil {
				return err
			}
			if !result.Approved() {
				return fmt.Errorf("refinement aborted: %s after %d attempt(s)", result.Status, result.Attempts)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&maxAttempts, "max-attempts", "n", refiner.DefaultMaxAttempts, "maximum plan → implement → review attempts")
	return cmd
}

// consoleObserver prints each stage output as it arrives, and a diff
// between consecutive implementations.
type consoleObserver struct {
	out      io.Writer
	markdown *MarkdownRenderer
	lastCode string
}

func newConsoleObserver(out io.Writer, markdown *MarkdownRenderer) *consoleObserver {
	return &consoleObserver{out: out, markdown: markdown}
}

func (o *consoleObserver) OnRefineEvent(e refiner.Event) {
	switch e.Type {
	case refiner.EventPlan:
		section(o.out, fmt.Sprintf("PLAN (attempt %d)", e.Attempt))
		fmt.Fprintln(o.out, o.markdown.Render(e.Content))

	case refiner.EventImplementation:
		section(o.out, fmt.Sprintf("CODE (attempt %d)", e.Attempt))
		fmt.Fprintln(o.out, o.markdown.Render(e.Content))
		if o.lastCode != "" && o.lastCode != e.Content {
			section(o.out, "CHANGES")
			fmt.Fprint(o.out, lineDiff(o.lastCode, e.Content, 2))
		}
		o.lastCode = e.Content

	case refiner.EventReview:
		section(o.out, fmt.Sprintf("REVIEW (attempt %d)", e.Attempt))
		if e.Err != nil {
			fmt.Fprintf(o.out, "%s %v\n", red("malformed review:"), e.Err)
			fmt.Fprintln(o.out, e.Content)
			return
		}
		if e.Verdict == nil {
			return
		}
		if e.Verdict.Approved() {
			fmt.Fprintf(o.out, "Review status: %s\n", green(string(e.Verdict.Status)))
			return
		}
		fmt.Fprintf(o.out, "Review status: %s\n", yellow(string(e.Verdict.Status)))
		fmt.Fprintln(o.out, o.markdown.Render("**Review suggestions:**\n\n"+e.Verdict.Suggestions))

	case refiner.EventFinished:
		if e.Result == nil {
			return
		}
		status := string(e.Result.Status)
		if e.Result.Approved() {
			status = green(status)
		} else {
			status = red(status)
		}
		fmt.Fprintf(o.out, "%s %s after %d attempt(s) in %v\n", cyan("refinement"), status, e.Result.Attempts, e.Result.Duration.Round(time.Millisecond))
	}
}
