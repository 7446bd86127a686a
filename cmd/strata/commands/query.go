package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/graph"
)

// QueryCmd fetches objects from the main context
var QueryCmd = &cobra.Command{
	Use:   "query <entity> [expression]",
	Short: "Fetch objects from the main context",
	Long: `Fetch objects of one entity from the main context and print them as a table.

The optional expression is an expr-lang boolean over the entity's attributes.

Examples:
  strata query Item
  strata query Item 'count > 3 && name != ""' --sort count --desc --limit 10
  strata query Item --group name --sum count`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuery,
}

var (
	querySortFlag  string
	queryDescFlag  bool
	queryLimitFlag int
	queryGroupFlag string
	querySumFlag   string
)

func init() {
	QueryCmd.Flags().StringVar(&querySortFlag, "sort", "", "Attribute to sort by")
	QueryCmd.Flags().BoolVar(&queryDescFlag, "desc", false, "Sort descending")
	QueryCmd.Flags().IntVar(&queryLimitFlag, "limit", 0, "Maximum number of results (0 = all)")
	QueryCmd.Flags().StringVar(&queryGroupFlag, "group", "", "Group results by this attribute and count them")
	QueryCmd.Flags().StringVar(&querySumFlag, "sum", "", "With --group, also sum this numeric attribute")
}

func runQuery(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	entity := args[0]
	ent, ok := s.coord.Model().Entity(entity)
	if !ok {
		return errors.WithHintf(
			errors.NewMalformedQueryError("unknown entity %q", entity),
			"entities in this schema: %s", strings.Join(s.coord.Model().EntityNames(), ", "),
		)
	}

	req := s.coord.Objects(entity)
	if len(args) == 2 {
		req = req.Filter(args[1], nil)
	}
	if querySortFlag != "" {
		req = req.SortBy(querySortFlag, !queryDescFlag)
	}
	req = req.Limit(queryLimitFlag)

	if queryGroupFlag != "" {
		return printGroups(cmd, s, req)
	}

	columns := attributeNames(ent)
	data := pterm.TableData{append([]string{"id"}, columns...)}
	var fetchErr error
	s.coord.OnMainAndWait(func(th *graph.Thread) {
		objs, err := req.Fetch(th)
		if err != nil {
			fetchErr = err
			return
		}
		for _, o := range objs {
			row := []string{o.ID()}
			for _, col := range columns {
				row = append(row, formatValue(o.Value(th, col)))
			}
			data = append(data, row)
		}
	})
	if fetchErr != nil {
		return fetchErr
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d %s object(s)\n", len(data)-1, entity)
	return nil
}

func printGroups(cmd *cobra.Command, s *session, req *graph.FetchRequest) error {
	props := []string{queryGroupFlag, "objects"}
	req = req.IncludeExpression("objects", graph.Count, queryGroupFlag)
	if querySumFlag != "" {
		props = append(props, "sum")
		req = req.IncludeExpression("sum", graph.Sum, querySumFlag)
	}
	req = req.OnlyProperties(props...).GroupBy(queryGroupFlag)

	var rows []map[string]interface{}
	var fetchErr error
	s.coord.OnMainAndWait(func(th *graph.Thread) {
		rows, fetchErr = req.FetchDictionaries(th)
	})
	if fetchErr != nil {
		return fetchErr
	}

	data := pterm.TableData{props}
	for _, row := range rows {
		line := make([]string, len(props))
		for i, p := range props {
			line[i] = formatValue(row[p])
		}
		data = append(data, line)
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func formatValue(v interface{}) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(v)
}
