package cli

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/mickamy/fieldtrail"
)

// FileConfig is the optional YAML file passed with --config.
type FileConfig struct {
	DSN     string     `yaml:"dsn,omitempty"`
	Dialect string     `yaml:"dialect,omitempty"`
	Tables  TableNames `yaml:"tables,omitempty"`
}

// TableNames overrides the audit relation names.
type TableNames struct {
	Schema     string `yaml:"schema,omitempty"`
	Audits     string `yaml:"audits,omitempty"`
	Items      string `yaml:"items,omitempty"`
	Properties string `yaml:"properties,omitempty"`
}

func (t TableNames) tables() fieldtrail.Tables {
	return fieldtrail.Tables{
		Schema:     t.Schema,
		Audits:     t.Audits,
		Items:      t.Items,
		Properties: t.Properties,
	}
}

// LoadConfig reads path. An empty path yields an empty config.
func LoadConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}
