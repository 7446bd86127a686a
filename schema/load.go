package schema

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/teranos/strata/errors"
)

// Load reads a model file. The format is chosen by extension:
// .toml is decoded as TOML, anything else as YAML.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read model %s", path)
	}

	var m *Model
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		m, err = ParseTOML(data)
	} else {
		m, err = ParseYAML(data)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", path)
	}
	return m, nil
}

// ParseYAML decodes and validates a YAML model.
func ParseYAML(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML model")
	}
	if err := m.build(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseTOML decodes and validates a TOML model.
func ParseTOML(data []byte) (*Model, error) {
	var m Model
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse TOML model")
	}
	if err := m.build(); err != nil {
		return nil, err
	}
	return &m, nil
}
