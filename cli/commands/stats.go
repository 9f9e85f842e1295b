package commands

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/go-eventide"
	"github.com/AshkanYarmoradi/go-eventide/cli/styles"
)

func newStatsCommand(a *app) *cobra.Command {
	var byCategory bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show message counts by type",
		Long: `Show message counts by type, or by category and type.

Examples:
  eventide stats
  eventide stats --by-category`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, cleanup, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()

			if byCategory {
				summary, err := store.CategoryTypeSummary(ctx)
				if err != nil {
					return err
				}
				if len(summary) == 0 {
					fmt.Fprintln(out, styles.FormatInfo("The message store is empty"))
					return nil
				}

				keys := make([]eventide.CategoryType, 0, len(summary))
				for k := range summary {
					keys = append(keys, k)
				}
				slices.SortFunc(keys, func(x, y eventide.CategoryType) int {
					return cmp.Or(cmp.Compare(x.Category, y.Category), cmp.Compare(x.Type, y.Type))
				})

				fmt.Fprintln(out, styles.Title.Render("Messages by Category and Type"))
				for _, k := range keys {
					c := summary[k]
					fmt.Fprintln(out, styles.FormatKeyValue(k.Category+" "+k.Type, formatCount(c)))
				}
				return nil
			}

			summary, err := store.TypeSummary(ctx)
			if err != nil {
				return err
			}
			if len(summary) == 0 {
				fmt.Fprintln(out, styles.FormatInfo("The message store is empty"))
				return nil
			}

			types := make([]string, 0, len(summary))
			for t := range summary {
				types = append(types, t)
			}
			slices.Sort(types)

			fmt.Fprintln(out, styles.Title.Render("Messages by Type"))
			for _, t := range types {
				fmt.Fprintln(out, styles.FormatKeyValue(t, formatCount(summary[t])))
			}

			categories, err := store.Categories(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, styles.FormatKeyValue("Categories", fmt.Sprint(len(categories))))
			return nil
		},
	}

	cmd.Flags().BoolVar(&byCategory, "by-category", false, "Group counts by category and type")

	return cmd
}

func formatCount(c eventide.TypeCount) string {
	return fmt.Sprintf("%d (%.2f%%)", c.Count, c.Percent)
}
