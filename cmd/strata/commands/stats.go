package commands

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
)

// StatsCmd shows how many objects the store holds per entity
var StatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show object counts per entity",
	Long: `Display the store path, the schema version and the number of stored
objects for every entity in the schema.`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	st, err := openStore(cmd, cfg, logger.Named("cli"))
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.Counts(cmd.Context())
	if err != nil {
		return errors.Wrap(err, "failed to count objects")
	}

	model := st.Model()
	fmt.Fprintf(cmd.OutOrStdout(), "Store:  %s\n", resolve(configPath(cmd), cfg.Store.Path))
	fmt.Fprintf(cmd.OutOrStdout(), "Schema: %s\n\n", model.Version)

	data := pterm.TableData{{"Entity", "Objects"}}
	total := 0
	for _, name := range model.EntityNames() {
		data = append(data, []string{name, strconv.Itoa(counts[name])})
		total += counts[name]
	}
	data = append(data, []string{"total", strconv.Itoa(total)})

	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
