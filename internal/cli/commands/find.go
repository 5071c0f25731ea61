package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/populate/internal/cli/ui"
	"github.com/conduit-lang/populate/internal/orm/entity"
	"github.com/conduit-lang/populate/internal/orm/executor"
	"github.com/conduit-lang/populate/internal/orm/populate"
)

// findResult is the JSON document printed by find --count.
type findResult struct {
	Total int              `json:"total"`
	Items []map[string]any `json:"items"`
}

// NewFindCommand creates the find command
func NewFindCommand() *cobra.Command {
	var (
		flags     requestFlags
		withCount bool
		stats     bool
		compact   bool
		snapshot  bool
	)

	cmd := &cobra.Command{
		Use:   "find <Root>",
		Short: "Run a populate request and print the entity graph as JSON",
		Long: `Run a populate request against the configured database and print the
root entities with their populated relations as JSON. Relations that were
not populated are omitted; populated relations with no matches print as an
empty list or null.`,
		Example: `  populate find User -p pets --populate-where '{pets: {name: yoyo}}' --limit 30
  populate find Pet -w '{name: yoyo}' -p owner:select-in --count`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()

			opts, err := flags.options()
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("snapshot") {
				snapshot = s.config.Snapshot.Enabled
			}

			var (
				roots []*entity.Entity
				total int
				st    executor.Stats
			)
			err = s.read(cmd.Context(), snapshot, func(ctx context.Context, f *populate.Finder, exec *executor.SQLExecutor) error {
				var err error
				if withCount {
					roots, total, err = f.FindAndCount(ctx, args[0], opts)
				} else {
					roots, err = f.Find(ctx, args[0], opts)
				}
				st = exec.Stats()
				return err
			})
			if err != nil {
				return explain(s.registry, args[0], err)
			}

			items := make([]map[string]any, 0, len(roots))
			for _, r := range roots {
				items = append(items, r.ToMap())
			}

			var doc any = items
			if withCount {
				doc = findResult{Total: total, Items: items}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(doc); err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}

			if stats {
				w := cmd.ErrOrStderr()
				fmt.Fprintln(w)
				kv := ui.NewKeyValueTable(w, color.NoColor)
				kv.AddRow("roots", strconv.Itoa(len(roots)))
				kv.AddRow("statements", strconv.FormatInt(st.Queries, 10))
				kv.AddRow("rows", strconv.FormatInt(st.Rows, 10))
				kv.AddRow("slow", strconv.FormatInt(st.SlowQueries, 10))
				kv.AddRow("duration", st.Duration.String())
				kv.Render()
			}
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().BoolVar(&withCount, "count", false, "also count every root matching --where, ignoring pagination")
	cmd.Flags().BoolVar(&stats, "stats", false, "print statement statistics to stderr")
	cmd.Flags().BoolVar(&compact, "compact", false, "print JSON without indentation")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "run every statement in one read-only transaction (default from snapshot.enabled)")
	return cmd
}
