package commands

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/populate/internal/cli/ui"
	"github.com/conduit-lang/populate/internal/orm/populate"
	"github.com/conduit-lang/populate/internal/watch"
)

// NewPlanCommand creates the plan command
func NewPlanCommand() *cobra.Command {
	var (
		flags     requestFlags
		keepAlive bool
	)

	cmd := &cobra.Command{
		Use:   "plan <Root>",
		Short: "Print the statements a populate request would run",
		Long: `Resolve a populate request against the schema and print the chosen
strategy for every path followed by the rendered statements. Nothing is
executed; select-in statements show a placeholder for the parent keys.`,
		Example: `  populate plan User -p pets --populate-where '{pets: {name: yoyo}}'
  populate plan User -p pets.action -s joined --limit 30`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if keepAlive {
				return watchPlan(cmd, args[0], &flags)
			}
			_, err := renderPlan(cmd, cmd.OutOrStdout(), args[0], &flags)
			return err
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&keepAlive, "watch", false, "re-render the plan whenever the schema or config file changes")
	return cmd
}

// renderPlan plans root with a fresh session and writes the explanation to
// w. It returns the files the plan depends on.
func renderPlan(cmd *cobra.Command, w io.Writer, root string, flags *requestFlags) ([]string, error) {
	s, err := openSession(cmd, false)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	files := []string{s.config.Schema.Path}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		files = append(files, path)
	}

	opts, err := flags.options()
	if err != nil {
		return files, err
	}
	explanation, err := s.finder.Plan(root, opts)
	if err != nil {
		return files, explain(s.registry, root, err)
	}
	renderExplanation(w, explanation, color.NoColor)
	return files, nil
}

// watchPlan renders the plan, then renders it again after every change to
// the schema or config file until the command context is cancelled or the
// process is interrupted. Errors after the first render are reported and
// watching continues.
func watchPlan(cmd *cobra.Command, root string, flags *requestFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &syncWriter{w: cmd.OutOrStdout()}
	errOut := &syncWriter{w: cmd.ErrOrStderr()}

	files, err := renderPlan(cmd, out, root, flags)
	if files == nil {
		return err
	}
	if err != nil {
		reportError(errOut, err)
	}

	dim := color.New(color.FgHiBlack)
	if color.NoColor {
		dim.DisableColor()
	}
	watcher, err := watch.NewFileWatcher(files, nil, func(changed []string) error {
		out.Write([]byte("\n"))
		dim.Fprintf(out, "-- changed: %s\n", strings.Join(changed, ", "))
		if _, err := renderPlan(cmd, out, root, flags); err != nil {
			reportError(errOut, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		watcher.Stop()
		return err
	}

	<-ctx.Done()
	return watcher.Stop()
}

// syncWriter serializes writes from the watcher goroutine.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func renderExplanation(w io.Writer, e *populate.Explanation, noColor bool) {
	plan := e.Plan
	ui.Header(w, plan.Root.Name, noColor)

	if len(plan.All) > 0 {
		table := ui.NewTable(w, noColor, "PATH", "RELATION", "STRATEGY", "WHERE")
		for _, n := range plan.All {
			where := ""
			if n.Where != nil {
				where = n.Where.String()
			}
			table.AddRow(n.Path, n.Relation.Type.String()+" "+n.Target.Name, n.Strategy.String(), where)
		}
		table.Render()
	}

	label := color.New(color.FgCyan, color.Bold)
	args := color.New(color.FgHiBlack)
	if noColor {
		label.DisableColor()
		args.DisableColor()
	}
	for i, st := range e.Statements {
		fmt.Fprintln(w)
		label.Fprintf(w, "[%d] %s\n", i+1, st.Label)
		fmt.Fprintln(w, highlightSQL(st.SQL, noColor))
		if len(st.Args) > 0 {
			args.Fprintf(w, "-- args: %s\n", formatArgs(st.Args))
		}
	}
}

func formatArgs(args []any) string {
	out := "["
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		switch v := a.(type) {
		case string:
			out += strconv.Quote(v)
		default:
			out += fmt.Sprint(v)
		}
	}
	return out + "]"
}
