package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/strata/config"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/schema"
	"github.com/teranos/strata/store"
)

// InitCmd writes a starter configuration and schema and creates the store
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create strata.toml, a starter schema and the store",
	Long: `Write a default strata.toml, a starter schema (if none exists yet) and
create the SQLite store with its tables.

Existing config files are kept as strata.toml.back before being overwritten.

Examples:
  strata init                       # in the current directory
  strata init --config ./app/strata.toml`,
	RunE: runInit,
}

var initForceFlag bool

func init() {
	InitCmd.Flags().BoolVar(&initForceFlag, "force", false, "Overwrite an existing config file")
}

// starterModel is written when no schema file exists yet
func starterModel() *schema.Model {
	return schema.MustNew("1.0.0",
		schema.Entity{
			Name: "Item",
			Attributes: []schema.Attribute{
				{Name: "name", Type: schema.TypeString, Default: ""},
				{Name: "count", Type: schema.TypeInt, Default: 0},
			},
			Relationships: []schema.Relationship{
				{Name: "parent", Target: "Item"},
			},
		},
	)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath = config.ProjectConfigName
	}

	if _, err := os.Stat(cfgPath); err == nil && !initForceFlag {
		return errors.WithHint(
			errors.Newf("%s already exists", cfgPath),
			"pass --force to overwrite it",
		)
	}

	cfg := config.Default()
	if err := config.Save(cfg, cfgPath); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote %s", cfgPath)

	schemaPath := resolve(cfgPath, cfg.Store.Schema)
	if _, err := os.Stat(schemaPath); os.IsNotExist(err) {
		data, err := yaml.Marshal(starterModel())
		if err != nil {
			return errors.Wrap(err, "failed to encode starter schema")
		}
		if err := os.WriteFile(schemaPath, data, config.DefaultFilePermissions); err != nil {
			return errors.Wrapf(err, "failed to write %s", schemaPath)
		}
		pterm.Success.Printfln("Wrote %s", schemaPath)
	}

	storePath := resolve(cfgPath, cfg.Store.Path)
	if err := os.MkdirAll(filepath.Dir(storePath), config.DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", storePath)
	}
	st, err := store.Open(store.StoreConfig{
		Path:       storePath,
		SchemaPath: schemaPath,
		Options:    cfg.Store.Options,
	}, logger.Named("cli"))
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Store ready at %s (schema %s)\n", storePath, st.Model().Version)
	return nil
}
