package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/populate/internal/cli/config"
)

// initFile is the subset of the configuration written by init.
type initFile struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Schema struct {
		Path string `yaml:"path"`
	} `yaml:"schema"`
	Populate struct {
		DefaultStrategy string `yaml:"default_strategy"`
	} `yaml:"populate"`
}

var initDrivers = []string{"sqlite", "pgx", "postgres", "mysql", "sqlite3"}

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var (
		answers initFile
		dir     string
		yes     bool
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a populate.yaml for a database and schema file",
		Long: `Create populate.yaml in the target directory. Without --yes every value
is asked for interactively, defaulting to the flag values.`,
		Example: `  populate init
  populate init --yes --driver pgx --dsn postgres://localhost/petstore --schema resources.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(dir, "populate.yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if !yes {
				if err := askInit(&answers); err != nil {
					return err
				}
			}

			if err := writeInitFile(path, &answers); err != nil {
				return err
			}
			if _, err := config.LoadFile(path); err != nil {
				_ = os.Remove(path)
				return configError(err)
			}

			success := color.New(color.FgGreen, color.Bold)
			if color.NoColor {
				success.DisableColor()
			}
			success.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write populate.yaml into")
	cmd.Flags().StringVar(&answers.Database.Driver, "driver", "sqlite", "database/sql driver")
	cmd.Flags().StringVar(&answers.Database.DSN, "dsn", "populate.db", "data source name")
	cmd.Flags().StringVar(&answers.Schema.Path, "schema", "schema.yaml", "schema descriptor file (yaml or toml)")
	cmd.Flags().StringVar(&answers.Populate.DefaultStrategy, "strategy", "auto", "default load strategy: auto, joined or select-in")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "use the flag values without prompting")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing populate.yaml")
	return cmd
}

func askInit(a *initFile) error {
	questions := []*survey.Question{
		{
			Name:   "driver",
			Prompt: &survey.Select{Message: "Database driver:", Options: initDrivers, Default: a.Database.Driver},
		},
		{
			Name:     "dsn",
			Prompt:   &survey.Input{Message: "Data source name:", Default: a.Database.DSN},
			Validate: survey.Required,
		},
		{
			Name:     "schema",
			Prompt:   &survey.Input{Message: "Schema file:", Default: a.Schema.Path},
			Validate: survey.Required,
		},
		{
			Name:   "strategy",
			Prompt: &survey.Select{Message: "Default load strategy:", Options: []string{"auto", "joined", "select-in"}, Default: a.Populate.DefaultStrategy},
		},
	}

	var out struct {
		Driver   string
		DSN      string `survey:"dsn"`
		Schema   string
		Strategy string
	}
	if err := survey.Ask(questions, &out); err != nil {
		return err
	}
	a.Database.Driver = out.Driver
	a.Database.DSN = out.DSN
	a.Schema.Path = out.Schema
	a.Populate.DefaultStrategy = out.Strategy
	return nil
}

func writeInitFile(path string, a *initFile) error {
	if a.Schema.Path == "" {
		return errors.New("schema path is required")
	}
	data, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
