package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/strata/config"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/graph"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/schema"
	"github.com/teranos/strata/store"
)

// configPath is the --config flag, or the nearest strata.toml if one exists
func configPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	paths := config.ConfigPaths()
	last := paths[len(paths)-1]
	if filepath.Base(last) == config.ProjectConfigName {
		return last
	}
	return ""
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// resolve makes store and schema paths relative to the config file's directory
func resolve(cfgPath, path string) string {
	if cfgPath == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(cfgPath), path)
}

func openStore(cmd *cobra.Command, cfg *config.Config, log *zap.SugaredLogger) (*store.SQLiteStore, error) {
	cfgPath := configPath(cmd)
	storePath := resolve(cfgPath, cfg.Store.Path)
	if _, err := os.Stat(storePath); err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "store %s not found", storePath),
			"run 'strata init' first",
		)
	}
	return store.Open(store.StoreConfig{
		Path:       storePath,
		SchemaPath: resolve(cfgPath, cfg.Store.Schema),
		Options:    cfg.Store.Options,
	}, log)
}

// session is an initialized coordinator over the configured store
type session struct {
	cfg   *config.Config
	store *store.SQLiteStore
	coord *graph.Coordinator
	log   *zap.SugaredLogger
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	log := logger.Named("cli")

	st, err := openStore(cmd, cfg, log)
	if err != nil {
		return nil, err
	}

	coord := graph.New(st.Model(), graph.WithConfig(cfg), graph.WithLogger(logger.Logger))
	ctx := logger.WithOperation(logger.WithComponent(cmd.Context(), "cli"), cmd.Name())
	if err := coord.Initialize(ctx, st); err != nil {
		st.Close()
		return nil, err
	}
	return &session{cfg: cfg, store: st, coord: coord, log: log}, nil
}

func (s *session) Close() {
	if err := s.coord.Shutdown(context.Background()); err != nil {
		s.log.Warnw("Coordinator shutdown incomplete", logger.FieldError, err)
	}
	if err := s.store.Close(); err != nil {
		s.log.Warnw("Failed to close store", logger.FieldError, err)
	}
}

// attributeNames lists an entity's attributes in declaration order
func attributeNames(ent *schema.Entity) []string {
	names := make([]string, 0, len(ent.Attributes))
	for _, a := range ent.Attributes {
		names = append(names, a.Name)
	}
	return names
}
